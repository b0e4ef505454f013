package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swingold/escrowd/internal/domain"
	"github.com/swingold/escrowd/internal/escrow"
	"github.com/swingold/escrowd/internal/server/middleware"
)

// TradeService defines the methods the trade handler requires from the
// service layer.
type TradeService interface {
	EscrowAddress() common.Address
	Create(ctx context.Context, p escrow.CreateParams) (*domain.Trade, error)
	Confirm(ctx context.Context, caller common.Address, itemName string) error
	Cancel(ctx context.Context, caller common.Address, itemName string) error
	Info(itemName string) (domain.TradeView, error)
	HistoryByItem(ctx context.Context, itemName string, opts domain.ListOpts) ([]domain.TradeEntry, error)
	HistoryByAccount(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.TradeEntry, error)
}

// TradeHandler serves escrow trade HTTP endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trades"),
	}
}

// createTradeRequest is the body for opening a trade.
type createTradeRequest struct {
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	ItemName     string `json:"item_name"`
	ItemCategory string `json:"item_category"`
	Price        string `json:"price"`
	NativeValue  string `json:"native_value,omitempty"`
}

// CreateTrade opens a new escrow trade keyed by the item's name.
// POST /api/trades
func (h *TradeHandler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// The opening caller becomes the buyer. A signature-authenticated
	// address always wins over the body field, so a signed account cannot
	// open trades on someone else's behalf.
	buyer, ok := middleware.CallerFrom(r.Context())
	if !ok {
		var err error
		buyer, err = parseAddress("buyer", req.Buyer)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	seller, err := parseAddress("seller", req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ItemName == "" {
		writeError(w, http.StatusBadRequest, "item_name is required")
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := escrow.CreateParams{
		Buyer:        buyer,
		Seller:       seller,
		ItemName:     req.ItemName,
		ItemCategory: req.ItemCategory,
		Price:        price,
	}
	if req.NativeValue != "" {
		native, err := parseAmount(req.NativeValue)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.NativeValue = native
	}

	trade, err := h.trades.Create(r.Context(), params)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create trade failed",
			slog.String("item", req.ItemName),
			slog.String("error", err.Error()),
		)
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, trade.View(domain.TradePending))
}

// confirmRequest carries the caller for confirm/cancel when no request
// signature is present.
type confirmRequest struct {
	Caller string `json:"caller,omitempty"`
}

// ConfirmTrade settles a pending trade: the buyer confirms receipt and the
// price moves to the seller.
// POST /api/trades/{item}/confirm
func (h *TradeHandler) ConfirmTrade(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, "confirmed", h.trades.Confirm)
}

// CancelTrade aborts a pending trade. Buyer or seller may cancel.
// POST /api/trades/{item}/cancel
func (h *TradeHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, "cancelled", h.trades.Cancel)
}

func (h *TradeHandler) resolve(
	w http.ResponseWriter,
	r *http.Request,
	status string,
	op func(ctx context.Context, caller common.Address, itemName string) error,
) {
	item := pathParam(r, "item")
	if item == "" {
		writeError(w, http.StatusBadRequest, "missing item name")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), caller, item); err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": status,
		"item":   item,
	})
}

// GetTrade returns the current projection of the trade held under an item
// name, with its status derived lazily (a pending trade past its window
// reports "expired").
// GET /api/trades/{item}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	item := pathParam(r, "item")
	if item == "" {
		writeError(w, http.StatusBadRequest, "missing item name")
		return
	}

	view, err := h.trades.Info(item)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// tradeEntryView is the JSON projection of a journaled trade row.
type tradeEntryView struct {
	ID           string `json:"id"`
	ItemName     string `json:"item_name"`
	ItemCategory string `json:"item_category,omitempty"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	Price        string `json:"price"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	ClosedAt     string `json:"closed_at,omitempty"`
}

// ListTrades returns journaled trades for an item name or an account.
// GET /api/trades?item=Book or GET /api/trades?account=0x...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	item := q.Get("item")
	account := q.Get("account")

	if item == "" && account == "" {
		writeError(w, http.StatusBadRequest, "item or account query parameter required")
		return
	}

	opts := parseListOpts(r)

	var entries []domain.TradeEntry
	var err error
	if item != "" {
		entries, err = h.trades.HistoryByItem(r.Context(), item, opts)
	} else {
		var addr common.Address
		addr, err = parseAddress("account", account)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries, err = h.trades.HistoryByAccount(r.Context(), addr, opts)
	}

	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	views := make([]tradeEntryView, 0, len(entries))
	for _, e := range entries {
		v := tradeEntryView{
			ID:           e.ID,
			ItemName:     e.ItemName,
			ItemCategory: e.ItemCategory,
			Buyer:        e.Buyer,
			Seller:       e.Seller,
			Price:        e.Price,
			Status:       e.Status,
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if e.ClosedAt != nil {
			v.ClosedAt = e.ClosedAt.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{"trades": views})
}

// GetEscrowInfo returns the escrow settlement address buyers must approve
// before their trades can settle.
// GET /api/trades/escrow
func (h *TradeHandler) GetEscrowInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"escrow_address": h.trades.EscrowAddress().Hex(),
	})
}
