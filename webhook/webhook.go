package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>" when a secret is set.
const SignatureHeader = "X-Shopscrape-Signature"

// Event types.
const (
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string      `json:"type"`
	JobID     int64       `json:"jobId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Notifier posts signed job events to one endpoint.
type Notifier struct {
	url    string
	secret string
	client *resty.Client

	// Delays is the wait before each attempt; its length is the attempt count.
	Delays []time.Duration
}

// New creates a Notifier. It returns nil when url is empty; a nil Notifier
// drops every event.
func New(url, secret string) *Notifier {
	if url == "" {
		return nil
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "Shopscrape-Webhook/1.0")
	return &Notifier{
		url:    url,
		secret: secret,
		client: client,
		Delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Client exposes the HTTP client (tests swap its transport).
func (n *Notifier) Client() *resty.Client { return n.client }

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends one event synchronously.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req := n.client.R().SetContext(ctx).SetBody(body)
	if n.secret != "" {
		req.SetHeader(SignatureHeader, Sign(n.secret, body))
	}
	resp, err := req.Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode())
	}
	return nil
}

// Notify delivers event with retries and reports whether it got through.
func (n *Notifier) Notify(ctx context.Context, event *Event) bool {
	if n == nil {
		return false
	}
	for attempt, delay := range n.Delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
		}
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := n.Deliver(dctx, event)
		cancel()
		if err == nil {
			slog.Info("webhook delivered",
				"url", n.url,
				"event", event.Type,
				"jobId", event.JobID,
				"attempt", attempt+1,
			)
			return true
		}
		slog.Warn("webhook delivery failed",
			"url", n.url,
			"event", event.Type,
			"jobId", event.JobID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries",
		"url", n.url,
		"event", event.Type,
		"jobId", event.JobID,
	)
	return false
}

// NotifyAsync delivers event in the background.
func (n *Notifier) NotifyAsync(event *Event) {
	if n == nil {
		return
	}
	go n.Notify(context.Background(), event)
}
