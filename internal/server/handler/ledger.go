package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swingold/escrowd/internal/domain"
)

// LedgerService defines the methods the ledger handler requires from the
// service layer.
type LedgerService interface {
	Owner() common.Address
	Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) error
	Deposit(ctx context.Context, account common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, account common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	History(addr common.Address) []domain.TransferRecord
	Journal(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.TransferEntry, error)
	TotalSupply() *big.Int
	NativeReserve() *big.Int
}

// LedgerHandler serves token ledger HTTP endpoints.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler with the given service and logger.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logHandler(logger, "ledger"),
	}
}

// moveRequest is the shared body shape for balance-moving endpoints. Caller
// is ignored when the request carries a verified signature.
type moveRequest struct {
	Caller string `json:"caller,omitempty"`
	Owner  string `json:"owner,omitempty"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

// Mint credits newly created units to an account. Owner only.
// POST /api/ledger/mint
func (h *LedgerHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ledger.Mint(r.Context(), caller, to, amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: mint failed",
			slog.String("to", to.Hex()),
			slog.String("error", err.Error()),
		)
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "minted",
		"to":     to.Hex(),
		"amount": amount.String(),
	})
}

// Transfer moves units from the caller to another account.
// POST /api/ledger/transfer
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	from, err := resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ledger.Transfer(r.Context(), from, to, amount); err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "transferred",
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	})
}

// approveRequest is the body for the approve endpoint.
type approveRequest struct {
	Caller  string `json:"caller,omitempty"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// Approve grants a spender an allowance over the caller's balance.
// POST /api/ledger/approve
func (h *LedgerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	owner, err := resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ledger.Approve(r.Context(), owner, spender, amount); err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "approved",
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	})
}

// TransferFrom spends the caller's allowance over another account's balance.
// POST /api/ledger/transfer-from
func (h *LedgerHandler) TransferFrom(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	spender, err := resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ledger.TransferFrom(r.Context(), spender, owner, to, amount); err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "transferred",
		"owner":  owner.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	})
}

// Deposit converts native currency into ledger units for the caller.
// POST /api/ledger/deposit
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, "deposited", h.ledger.Deposit)
}

// Withdraw burns ledger units back into native currency for the caller.
// POST /api/ledger/withdraw
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, "withdrawn", h.ledger.Withdraw)
}

func (h *LedgerHandler) convert(
	w http.ResponseWriter,
	r *http.Request,
	status string,
	op func(ctx context.Context, account common.Address, amount *big.Int) error,
) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	account, err := resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), account, amount); err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"account": account.Hex(),
		"amount":  amount.String(),
	})
}

// GetBalance returns an account's current balance.
// GET /api/ledger/balance/{address}
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": h.ledger.BalanceOf(r.Context(), addr).String(),
	})
}

// GetAllowance returns the remaining allowance a spender holds over an owner.
// GET /api/ledger/allowance?owner=0x...&spender=0x...
func (h *LedgerHandler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := parseAddress("owner", q.Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress("spender", q.Get("spender"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": h.ledger.Allowance(owner, spender).String(),
	})
}

// historyEntry is the JSON projection of an in-core history record.
type historyEntry struct {
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"`
	Direction    string `json:"direction"`
	Kind         string `json:"kind"`
	At           string `json:"at"`
}

// GetHistory returns the in-core transfer history of an account.
// GET /api/ledger/history/{address}
func (h *LedgerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := h.ledger.History(addr)
	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, historyEntry{
			Counterparty: rec.Counterparty.Hex(),
			Amount:       rec.Amount.String(),
			Direction:    string(rec.Direction),
			Kind:         string(rec.Kind),
			At:           rec.At.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"history": entries,
	})
}

// journalEntryView is the JSON projection of a persisted journal row.
type journalEntryView struct {
	ID     int64  `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Kind   string `json:"kind"`
	At     string `json:"at"`
}

// GetJournal returns the persisted transfer journal of an account, paginated.
// GET /api/ledger/journal/{address}?limit=50&offset=0&since=...&until=...
func (h *LedgerHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.ledger.Journal(r.Context(), addr, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: journal lookup failed",
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	views := make([]journalEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, journalEntryView{
			ID:     e.ID,
			From:   e.From,
			To:     e.To,
			Amount: e.Amount,
			Kind:   string(e.Kind),
			At:     e.At.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"journal": views,
	})
}

// GetSupply returns ledger-wide totals.
// GET /api/ledger/supply
func (h *LedgerHandler) GetSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":          h.ledger.Owner().Hex(),
		"total_supply":   h.ledger.TotalSupply().String(),
		"native_reserve": h.ledger.NativeReserve().String(),
	})
}
