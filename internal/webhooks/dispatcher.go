// Package webhooks posts signed verification lifecycle events to configured
// HTTP endpoints.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Config holds dispatcher settings.
type Config struct {
	Endpoints []Endpoint
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// Backoff lists the waits before each retry; its length is the number of
	// retries after the first attempt.
	Backoff []time.Duration
}

// DefaultBackoff retries after 1s, 5s and 25s.
var DefaultBackoff = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}

// Dispatcher fans events out to every endpoint in the background.
type Dispatcher struct {
	endpoints  []Endpoint
	backoff    []time.Duration
	httpClient *http.Client
	onMetrics  MetricsRecorder
	now        func() time.Time
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher. A nil Backoff uses DefaultBackoff.
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	return &Dispatcher{
		endpoints:  cfg.Endpoints,
		backoff:    cfg.Backoff,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Dispatch sends the event to all endpoints without waiting for delivery.
// Deliveries outlive ctx's cancellation but keep its values.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if len(d.endpoints) == 0 {
		return
	}

	body, err := json.Marshal(Event{Type: eventType, Timestamp: d.now(), Payload: payload})
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, ep := range d.endpoints {
		d.wg.Add(1)
		go func(ep Endpoint) {
			defer d.wg.Done()
			d.deliver(ctx, ep, eventType, body)
		}(ep)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver posts body to ep, retrying on failure.
func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, eventType string, body []byte) {
	signature := ""
	if ep.Secret != "" {
		signature = Sign(body, ep.Secret)
	}

	attempts := len(d.backoff) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.backoff[attempt-2]):
			}
		}

		err := d.doDelivery(ctx, ep.URL, body, signature)
		if d.onMetrics != nil {
			d.onMetrics(err == nil)
		}
		if err == nil {
			return
		}

		d.logger.Warn("webhook: delivery failed",
			zap.String("url", ep.URL),
			zap.String("event", eventType),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	d.logger.Error("webhook: giving up", zap.String("url", ep.URL), zap.String("event", eventType))
}

// doDelivery performs a single HTTP POST.
func (d *Dispatcher) doDelivery(ctx context.Context, url string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
