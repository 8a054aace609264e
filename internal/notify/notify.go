package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsprackett/filerelay/internal/events"
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Webhook string `json:"webhook" yaml:"webhook"`
	NtfyURL string `json:"ntfy" yaml:"ntfy"`
}

// Notifier POSTs a webhook and an optional ntfy message for every uploaded
// file version.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New returns a Notifier with the given config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Broadcast implements events.Broadcaster. Delivery happens off the caller's
// goroutine so a slow endpoint never stalls a client connection.
func (n *Notifier) Broadcast(e events.Event) {
	if !n.cfg.Enabled || e.Type != events.TypeUploaded {
		return
	}
	go n.Notify(e)
}

// Notify delivers an upload event synchronously.
func (n *Notifier) Notify(e events.Event) {
	if !n.cfg.Enabled || e.Type != events.TypeUploaded {
		return
	}
	if n.cfg.Webhook != "" {
		n.sendWebhook(e)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(e)
	}
}

type webhookPayload struct {
	File      string `json:"file"`
	Version   int    `json:"version"`
	Size      int    `json:"size"`
	Uploader  string `json:"uploader"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) sendWebhook(e events.Event) {
	payload := webhookPayload{
		File:      e.File,
		Version:   e.Version,
		Size:      e.Size,
		Uploader:  e.Name,
		Timestamp: e.Time.UTC().Format(time.RFC3339),
	}
	if err := n.post(n.cfg.Webhook, payload); err != nil {
		n.logger.Warn("notify: webhook failed", "url", n.cfg.Webhook, "err", err)
	}
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(e events.Event) {
	payload := ntfyPayload{
		Title:    fmt.Sprintf("%s v%d", e.File, e.Version),
		Message:  fmt.Sprintf("%s uploaded %s", e.Name, humanize.Bytes(uint64(e.Size))),
		Priority: 3,
		Tags:     []string{"page_facing_up"},
	}
	if err := n.post(n.cfg.NtfyURL, payload); err != nil {
		n.logger.Warn("notify: ntfy failed", "url", n.cfg.NtfyURL, "err", err)
	}
}

func (n *Notifier) post(url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
