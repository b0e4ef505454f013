package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swingold/escrowd/internal/crypto"
)

func TestWebhookSenderDeliversSignedEnvelope(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "shared-secret")
	payload := []byte(`{"item_name":"Book","status":"completed"}`)

	err := sender.Send(context.Background(), "escrow.trade_completed", payload)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "escrow.trade_completed", env.Event)
	assert.JSONEq(t, string(payload), string(env.Payload))

	assert.Equal(t, "escrow.trade_completed", gotHeaders.Get("X-Swingold-Event"))

	ts, err := strconv.ParseInt(gotHeaders.Get("X-Swingold-Timestamp"), 10, 64)
	require.NoError(t, err)
	auth := &crypto.WebhookAuth{Secret: "shared-secret"}
	assert.True(t, auth.Verify(gotBody, ts, gotHeaders.Get("X-Swingold-Signature")))
}

func TestWebhookSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "")
	err := sender.Send(context.Background(), "escrow.trade_completed", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type recordingSender struct {
	name   string
	events []string
	fail   bool
}

func (r *recordingSender) Send(_ context.Context, event string, _ []byte) error {
	r.events = append(r.events, event)
	if r.fail {
		return assert.AnError
	}
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{"escrow.trade_completed"}, logger)

	require.NoError(t, n.Notify(context.Background(), "ledger.transfer", nil))
	require.NoError(t, n.Notify(context.Background(), "escrow.trade_completed", nil))

	assert.Equal(t, []string{"escrow.trade_completed"}, s.events)
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", fail: true}
	n := NewNotifier([]Sender{bad, ok}, nil, logger)

	err := n.Notify(context.Background(), "escrow.trade_completed", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	// The healthy sender still received the event.
	assert.Equal(t, []string{"escrow.trade_completed"}, ok.events)
}
