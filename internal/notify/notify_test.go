package notify_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/filerelay/internal/events"
	"github.com/zsprackett/filerelay/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func uploadEvent() events.Event {
	return events.Event{
		Type:    events.TypeUploaded,
		Name:    "alice",
		File:    "notes.txt",
		Version: 2,
		Size:    2048,
		Time:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotification(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	n := notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger())
	n.Notify(uploadEvent())

	require.NotNil(t, received, "no POST received")
	assert.Equal(t, "notes.txt", received["file"])
	assert.Equal(t, float64(2), received["version"])
	assert.Equal(t, "2026-01-01T12:00:00Z", received["timestamp"])
}

func TestNtfyNotification(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	n := notify.New(notify.Config{Enabled: true, NtfyURL: srv.URL + "/uploads"}, discardLogger())
	n.Notify(uploadEvent())

	require.NotNil(t, received, "no POST received")
	assert.Equal(t, "notes.txt v2", received["title"])
	assert.Equal(t, "alice uploaded 2.0 kB", received["message"])
}

func TestNotify_WebhookErrorLogged(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Invalid URL forces a POST error.
	n := notify.New(notify.Config{Enabled: true, Webhook: "http://127.0.0.1:1"}, logger)
	n.Notify(uploadEvent())

	assert.Contains(t, buf.String(), "webhook")
}

func TestNotify_IgnoresNonUploadEvents(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger())
	n.Notify(events.Event{Type: events.TypeJoined, Name: "bob"})
	assert.False(t, called, "no POST for join events")
}

func TestNotify_DisabledNoOp(t *testing.T) {
	n := notify.New(notify.Config{Enabled: false}, discardLogger())
	assert.NotPanics(t, func() {
		n.Notify(uploadEvent())
		n.Broadcast(uploadEvent())
	})
}
