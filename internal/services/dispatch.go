package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// Message is one outbound alert for one guardian on one channel.
type Message struct {
	SessionID     uuid.UUID        `json:"session_id"`
	Trigger       Trigger          `json:"trigger"`
	Channel       models.Channel   `json:"channel"`
	To            string           `json:"to"`
	RecipientName string           `json:"recipient_name,omitempty"`
	Subject       string           `json:"subject"`
	Body          string           `json:"body"`
	Location      *models.GeoPoint `json:"location,omitempty"`
}

// IdempotencyKey identifies the message across retries, so a gateway that
// dedupes on it delivers at most once per guardian per trigger.
func (m Message) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", m.SessionID, m.Trigger, m.Channel, m.To)
}

// Dispatcher delivers a message over one channel. Implementations return a
// utils.Permanent error for failures that retrying cannot fix.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookDispatcher POSTs messages as JSON. With a fixed URL it talks to a
// delivery gateway that relays sms/email/push; with an empty URL it posts
// straight to the guardian's own address (the webhook channel).
type WebhookDispatcher struct {
	client *http.Client
	url    string
}

// NewWebhookDispatcher creates a dispatcher posting to url (or to each
// message's address when url is empty).
func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	return &WebhookDispatcher{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

// Send posts msg. 4xx responses are permanent, 5xx and transport errors
// are retryable.
func (d *WebhookDispatcher) Send(ctx context.Context, msg Message) error {
	target := d.url
	if target == "" {
		target = msg.To
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.IdempotencyKey())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return utils.Permanent(fmt.Errorf("delivery rejected with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("delivery failed with status %d", resp.StatusCode)
	}
}

// LogDispatcher only logs. Used for channels without a configured gateway
// so development setups still exercise the full fan-out.
type LogDispatcher struct{}

// Send logs the delivery with the recipient address masked.
func (LogDispatcher) Send(ctx context.Context, msg Message) error {
	log.Info().
		Str("session_id", msg.SessionID.String()).
		Str("trigger", string(msg.Trigger)).
		Str("channel", string(msg.Channel)).
		Str("to", maskAddress(msg.To)).
		Msg("Guardian notification (log only)")
	return nil
}

// NewDispatchers builds the per-channel dispatcher registry from config.
func NewDispatchers(cfg *config.NotifyConfig) map[models.Channel]Dispatcher {
	var gateway Dispatcher = LogDispatcher{}
	if cfg.WebhookURL != "" {
		gateway = NewWebhookDispatcher(cfg.WebhookURL, cfg.Timeout)
	}

	return map[models.Channel]Dispatcher{
		models.ChannelSMS:     gateway,
		models.ChannelEmail:   gateway,
		models.ChannelPush:    gateway,
		models.ChannelWebhook: NewWebhookDispatcher("", cfg.Timeout),
	}
}

// maskAddress keeps only enough of an address to tell recipients apart in logs.
func maskAddress(addr string) string {
	if at := strings.IndexByte(addr, '@'); at > 0 {
		return addr[:1] + "***" + addr[at:]
	}
	if len(addr) <= 4 {
		return "***"
	}
	return "***" + addr[len(addr)-4:]
}
