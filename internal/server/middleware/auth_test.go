package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swingold/escrowd/internal/crypto"
)

// Well-known hardhat development key; safe to embed in tests.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func signedRequest(t *testing.T, signer *crypto.Signer, method, path string, body []byte, nonce string) *http.Request {
	t.Helper()

	ts := time.Now().Unix()
	sig, err := signer.SignRequest(method, path, body, ts, nonce)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(HeaderAddress, signer.Address().Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, sig)
	return req
}

func callerEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if addr, ok := CallerFrom(r.Context()); ok {
			w.Write([]byte(addr.Hex()))
			return
		}
		w.Write([]byte("anonymous"))
	})
}

func TestSignatureRecoversCaller(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	h := Signature(crypto.NewReplayGuard(time.Minute), time.Minute)(callerEcho(t))

	body := []byte(`{"to":"0x1","amount":"5"}`)
	req := signedRequest(t, signer, http.MethodPost, "/api/ledger/transfer", body, "nonce-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, signer.Address().Hex(), rec.Body.String())
}

func TestSignatureUnsignedPassesThrough(t *testing.T) {
	h := Signature(crypto.NewReplayGuard(time.Minute), time.Minute)(callerEcho(t))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestSignatureRejectsTamperedBody(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	h := Signature(crypto.NewReplayGuard(time.Minute), time.Minute)(callerEcho(t))

	req := signedRequest(t, signer, http.MethodPost, "/api/ledger/transfer",
		[]byte(`{"amount":"5"}`), "nonce-2")
	req.Body = io.NopCloser(strings.NewReader(`{"amount":"500"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignatureRejectsReplayedNonce(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	h := Signature(crypto.NewReplayGuard(time.Minute), time.Minute)(callerEcho(t))

	body := []byte(`{}`)
	first := signedRequest(t, signer, http.MethodPost, "/api/ledger/transfer", body, "nonce-3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := signedRequest(t, signer, http.MethodPost, "/api/ledger/transfer", body, "nonce-3")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignatureRejectsStaleTimestamp(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	h := Signature(crypto.NewReplayGuard(time.Minute), time.Minute)(callerEcho(t))

	body := []byte(`{}`)
	ts := time.Now().Add(-time.Hour).Unix()
	sig, err := signer.SignRequest(http.MethodPost, "/api/ledger/transfer", body, ts, "nonce-4")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/ledger/transfer", bytes.NewReader(body))
	req.Header.Set(HeaderAddress, signer.Address().Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, "nonce-4")
	req.Header.Set(HeaderSignature, sig)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKey("secret-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
