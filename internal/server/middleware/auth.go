package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swingold/escrowd/internal/crypto"
)

// Request signature headers. Clients sign METHOD, path, body hash, timestamp
// and nonce with their account key; the server recovers the address and uses
// it as the caller identity for ledger and trade operations.
const (
	HeaderAddress   = "X-Swingold-Address"
	HeaderTimestamp = "X-Swingold-Timestamp"
	HeaderNonce     = "X-Swingold-Nonce"
	HeaderSignature = "X-Swingold-Signature"
)

// maxBodyBytes caps how much of a request body the signature check will read.
const maxBodyBytes = 1 << 20

type contextKey string

const callerKey contextKey = "caller"

// CallerFrom returns the signature-authenticated caller address, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey).(common.Address)
	return addr, ok
}

// WithCaller attaches a caller address to the context. Exposed for handler
// tests that bypass the middleware.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey, addr)
}

// APIKey returns middleware that validates requests using either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
// If key is empty, the middleware passes all requests through (disabled).
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Signature returns middleware that recovers the caller address from the
// X-Swingold-* request signature headers and stores it on the context.
// Requests without signature headers pass through unauthenticated; handlers
// that require a caller identity reject those themselves. maxSkew bounds how
// far the signed timestamp may drift from server time.
func Signature(guard *crypto.ReplayGuard, maxSkew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sigHex := r.Header.Get(HeaderSignature)
			if sigHex == "" {
				next.ServeHTTP(w, r)
				return
			}

			claimed := r.Header.Get(HeaderAddress)
			nonce := r.Header.Get(HeaderNonce)
			tsRaw := r.Header.Get(HeaderTimestamp)
			if claimed == "" || nonce == "" || tsRaw == "" {
				writeUnauthorized(w, "incomplete signature headers")
				return
			}
			if !common.IsHexAddress(claimed) {
				writeUnauthorized(w, "malformed signer address")
				return
			}

			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeUnauthorized(w, "malformed signature timestamp")
				return
			}
			if skew := time.Since(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeUnauthorized(w, "signature timestamp outside accepted window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, body, ts, nonce, sigHex)
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}
			if signer != common.HexToAddress(claimed) {
				writeUnauthorized(w, "signature does not match claimed address")
				return
			}

			if guard != nil && !guard.Check(signer.Hex(), nonce) {
				writeUnauthorized(w, "replayed request nonce")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
