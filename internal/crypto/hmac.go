package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
)

// WebhookAuth signs outgoing webhook deliveries so the receiving marketplace
// backend can verify that a notification really came from the escrow daemon.
type WebhookAuth struct {
	Secret string // shared secret agreed with the receiver
}

// Headers returns the HTTP headers for a webhook delivery at the given Unix
// timestamp. The signature is HMAC-SHA256(secret, timestamp+body) encoded as
// base64.
//
// Returned header keys:
//   - X-Swingold-Timestamp
//   - X-Swingold-Signature
func (w *WebhookAuth) Headers(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64([]byte(w.Secret), append([]byte(ts), body...))

	return map[string]string{
		"X-Swingold-Timestamp": ts,
		"X-Swingold-Signature": sig,
	}
}

// Verify reports whether sig is a valid signature for body at the given
// timestamp. Comparison is constant-time.
func (w *WebhookAuth) Verify(body []byte, unixTS int64, sig string) bool {
	ts := strconv.FormatInt(unixTS, 10)
	want := hmacSHA256Base64([]byte(w.Secret), append([]byte(ts), body...))
	return hmac.Equal([]byte(want), []byte(sig))
}

// String returns a redacted representation suitable for logging.
func (w *WebhookAuth) String() string {
	s := w.Secret
	if len(s) <= 4 {
		return "WebhookAuth{secret=****}"
	}
	return fmt.Sprintf("WebhookAuth{secret=%s****}", s[:4])
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
