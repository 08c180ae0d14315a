package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/logging"
)

func TestHTTPNotifier_Send(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"m-1","status":"queued"}`))
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL+"/", nil)
	ack, err := n.Send(context.Background(), Message{
		To:         "cro@example.com",
		Subject:    "Escalation",
		TemplateID: "escalation",
		Data:       map[string]any{"level": 1},
		Urgency:    UrgencyHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", ack.MessageID)
	assert.Equal(t, "cro@example.com", got.To)
	assert.Equal(t, UrgencyHigh, got.Urgency)
}

func TestHTTPNotifier_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPNotifier(srv.URL, nil).Send(context.Background(), Message{To: "a@b"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = NewHTTPNotifier(slow.URL, nil).Send(ctx, Message{To: "a@b"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory(Contacts{
		Default: map[string]string{"cro": "cro@example.com", "risk_manager": "risk@example.com"},
		Orgs:    map[string]map[string]string{"org-2": {"cro": "chief@org2.example"}},
	})
	ctx := context.Background()

	addr, err := d.Lookup(ctx, "org-1", "cro")
	require.NoError(t, err)
	assert.Equal(t, "cro@example.com", addr)

	addr, err = d.Lookup(ctx, "org-2", "cro")
	require.NoError(t, err)
	assert.Equal(t, "chief@org2.example", addr)

	_, err = d.Lookup(ctx, "org-1", "janitor")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestFileDirectory_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  cro: first@example.com\n"), 0o600))

	d, err := NewFileDirectory(path, Contacts{Default: map[string]string{"auditor": "audit@example.com"}}, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Watch(ctx))

	addr, err := d.Lookup(ctx, "org", "cro")
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", addr)

	addr, err = d.Lookup(ctx, "org", "auditor")
	require.NoError(t, err)
	assert.Equal(t, "audit@example.com", addr)

	require.NoError(t, os.WriteFile(path, []byte("default:\n  cro: second@example.com\norgs:\n  acme:\n    cro: acme@example.com\n"), 0o600))

	assert.Eventually(t, func() bool {
		addr, err := d.Lookup(ctx, "org", "cro")
		return err == nil && addr == "second@example.com"
	}, 5*time.Second, 20*time.Millisecond)

	addr, err = d.Lookup(ctx, "acme", "cro")
	require.NoError(t, err)
	assert.Equal(t, "acme@example.com", addr)
}

func TestFileDirectory_WaitJoinsWatcher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  cro: cro@example.com\n"), 0o600))

	d, err := NewFileDirectory(path, Contacts{}, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Watch(ctx))
	cancel()
	d.Wait()
}
