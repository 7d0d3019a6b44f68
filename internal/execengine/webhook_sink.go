package execengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/logger"
)

// WebhookSink delivers events as HTTP POST callbacks, generalized from the
// teacher's HTTPCallbackObserver (same retry/backoff shape, same
// functional-options construction) to this package's Event type.
type WebhookSink struct {
	name         string
	url          string
	headers      map[string]string
	filter       EventFilter
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
	retryBackoff float64
	log          *logger.Logger
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookName overrides the default sink name; required when more than
// one webhook sink is registered with the same ObserverManager.
func WithWebhookName(name string) WebhookOption {
	return func(w *WebhookSink) { w.name = name }
}

// WithWebhookHeaders sets static headers sent with every callback.
func WithWebhookHeaders(headers map[string]string) WebhookOption {
	return func(w *WebhookSink) { w.headers = headers }
}

// WithWebhookFilter restricts which events this sink receives.
func WithWebhookFilter(filter EventFilter) WebhookOption {
	return func(w *WebhookSink) { w.filter = filter }
}

// WithWebhookTimeout sets the per-request timeout.
func WithWebhookTimeout(timeout time.Duration) WebhookOption {
	return func(w *WebhookSink) { w.client.Timeout = timeout }
}

// WithWebhookRetry configures retry attempts, initial delay, and backoff
// multiplier.
func WithWebhookRetry(maxRetries int, delay time.Duration, backoff float64) WebhookOption {
	return func(w *WebhookSink) {
		w.maxRetries = maxRetries
		w.retryDelay = delay
		w.retryBackoff = backoff
	}
}

// NewWebhookSink builds a sink posting events to url as they're published.
func NewWebhookSink(url string, log *logger.Logger, opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		name:         "webhook",
		url:          url,
		headers:      make(map[string]string),
		client:       &http.Client{Timeout: 10 * time.Second},
		maxRetries:   3,
		retryDelay:   1 * time.Second,
		retryBackoff: 2.0,
		log:          log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookSink) Name() string        { return w.name }
func (w *WebhookSink) Filter() EventFilter { return w.filter }

// Publish posts the event, retrying with exponential backoff on failure.
// ObserverManager already recovers panics and runs this off the calling
// goroutine, so a final failure is only logged, never propagated.
func (w *WebhookSink) Publish(ctx context.Context, event Event) {
	if err := w.sendWithRetry(ctx, event); err != nil && w.log != nil {
		w.log.ErrorContext(ctx, "webhook delivery failed", "sink", w.name, "url", w.url, "error", err.Error())
	}
}

func (w *WebhookSink) sendWithRetry(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	var lastErr error
	delay := w.retryDelay
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * w.retryBackoff)
		}
		if err := w.send(ctx, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("webhook callback failed after %d attempts: %w", w.maxRetries+1, lastErr)
}

func (w *WebhookSink) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ NamedSink = (*WebhookSink)(nil)
