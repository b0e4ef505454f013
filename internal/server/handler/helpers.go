package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swingold/escrowd/internal/domain"
	"github.com/swingold/escrowd/internal/server/middleware"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCoreError maps core ledger and escrow errors to HTTP status codes,
// preserving the exact error text that clients match on.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, domain.ErrUnauthorized.Error())
	case errors.Is(err, domain.ErrTradeNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrTradeExpired):
		// "Trade expired" verbatim: the marketplace UI matches on it.
		writeError(w, http.StatusConflict, domain.ErrTradeExpired.Error())
	case errors.Is(err, domain.ErrTradeExists),
		errors.Is(err, domain.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, unwrapMsg(err))
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrValueNotAccepted):
		writeError(w, http.StatusBadRequest, unwrapMsg(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// unwrapMsg returns the innermost error message, stripping service wrapping.
func unwrapMsg(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}

// parseAmount parses a decimal string into a non-negative *big.Int.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("amount is required")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("amount must be a decimal integer string")
	}
	if n.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return n, nil
}

// parseAddress validates and normalises a hex address.
func parseAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, errors.New(field + " is required")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New(field + " is not a valid hex address")
	}
	return common.HexToAddress(s), nil
}

// resolveCaller determines the caller identity for a mutating operation.
// A signature-authenticated address on the context always wins; otherwise
// the caller field from the request body is used (trusted-proxy deployments
// where the marketplace backend vouches for its users).
func resolveCaller(r *http.Request, bodyCaller string) (common.Address, error) {
	if addr, ok := middleware.CallerFrom(r.Context()); ok {
		return addr, nil
	}
	return parseAddress("caller", bodyCaller)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. Optional since/until are RFC 3339
// timestamps.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}
	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
