// Package notify delivers report-ready notifications to the host system's
// notification gateway (which fans out to email/push). Delivery is
// best-effort: the dispatcher never fails an execution over it.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/dispatcher"
)

const defaultTimeout = 30 * time.Second

type WebhookNotifier struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
	log     zerolog.Logger
}

func NewWebhookNotifier(url, secret string, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: defaultTimeout,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// WithTimeout overrides the per-delivery timeout.
func (n *WebhookNotifier) WithTimeout(d time.Duration) *WebhookNotifier {
	if d > 0 {
		n.timeout = d
	}
	return n
}

type payload struct {
	Recipients   []string `json:"recipients"`
	ScheduleName string   `json:"schedule_name"`
	DownloadURL  string   `json:"download_url"`
	FileSize     int64    `json:"file_size"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
}

// SendReportReady posts the notification with an HMAC signature so the
// gateway can verify origin.
func (n *WebhookNotifier) SendReportReady(ctx context.Context, notification dispatcher.ReadyNotification) error {
	p := payload{
		Recipients:   notification.Recipients,
		ScheduleName: notification.ScheduleName,
		DownloadURL:  notification.DownloadURL,
		FileSize:     notification.FileSize,
	}
	if notification.ExpiresAt != nil {
		p.ExpiresAt = notification.ExpiresAt.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relato-Signature", computeSignature(n.secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification gateway returned %d", resp.StatusCode)
	}

	n.log.Debug().
		Str("schedule", notification.ScheduleName).
		Int("recipients", len(notification.Recipients)).
		Msg("report-ready notification delivered")
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets the gateway verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ dispatcher.Notifier = (*WebhookNotifier)(nil)
