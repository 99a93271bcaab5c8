package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/permit/pkg/observability"
)

// Webhook delivery headers
const (
	HeaderEvent     = "X-Permit-Event"
	HeaderEventID   = "X-Permit-Event-ID"
	HeaderDelivery  = "X-Permit-Delivery"
	HeaderSignature = "X-Permit-Signature"
)

var (
	// ErrQueueFull is returned by WebhookLogger.Log when the delivery queue
	// has no room left
	ErrQueueFull = errors.New("audit webhook queue is full")

	// ErrLoggerClosed is returned when logging to a closed logger
	ErrLoggerClosed = errors.New("audit logger is closed")
)

// RetryConfig configures webhook retry behavior
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffMultiplier <= 1.0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// NextRetryDelay returns the wait after the given failed attempt:
// InitialDelay * BackoffMultiplier^(attempts-1), capped at MaxDelay
func (c RetryConfig) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return c.InitialDelay
	}
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempts-1))
	if delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// WebhookConfig configures a WebhookLogger
type WebhookConfig struct {
	URL string
	// Secret signs each payload with HMAC-SHA256 when set
	Secret string

	Workers   int
	QueueSize int
	// Timeout bounds a single delivery attempt
	Timeout time.Duration
	// DrainTimeout bounds how long Close waits for queued deliveries
	DrainTimeout time.Duration

	Retry RetryConfig
}

// WebhookLogger posts audit events to an HTTP endpoint from a bounded worker
// pool. Log never blocks; events that do not fit the queue are rejected.
type WebhookLogger struct {
	cfg    WebhookConfig
	client *http.Client
	logger *observability.Logger

	queue chan *AuditEvent
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewWebhookLogger starts cfg.Workers delivery workers
func NewWebhookLogger(cfg WebhookConfig, logger *observability.Logger) (*WebhookLogger, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &WebhookLogger{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.WithField("component", "audit_webhook"),
		queue:  make(chan *AuditEvent, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
	return w, nil
}

// Log queues the event for delivery
func (w *WebhookLogger) Log(ctx context.Context, event *AuditEvent) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrLoggerClosed
	}
	select {
	case w.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits up to DrainTimeout for queued
// deliveries. Pending retries are abandoned when the timeout expires.
func (w *WebhookLogger) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(w.cfg.DrainTimeout):
			w.closeErr = fmt.Errorf("audit webhook drain timed out after %v", w.cfg.DrainTimeout)
		}
		w.cancel()
	})
	return w.closeErr
}

func (w *WebhookLogger) worker(id int) {
	defer w.wg.Done()

	for event := range w.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.WithFields(map[string]interface{}{
						"worker": id,
						"panic":  fmt.Sprintf("%v", r),
						"stack":  string(debug.Stack()),
					}).Error("Audit webhook worker panicked")
				}
			}()
			w.deliver(event)
		}()
	}
}

// deliver sends one event, retrying with exponential backoff
func (w *WebhookLogger) deliver(event *AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		w.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to encode audit event")
		return
	}

	err = w.retry(func() error { return w.send(event, payload) })
	if err == nil {
		return
	}
	w.logger.WithError(err).WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.EventType),
	}).Warn("Audit webhook delivery failed")
}

// retry calls fn until it succeeds, fails permanently, runs out of attempts
// or the logger is cancelled
func (w *WebhookLogger) retry(fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || attempt >= w.cfg.Retry.MaxAttempts {
			return err
		}

		select {
		case <-time.After(w.cfg.Retry.NextRetryDelay(attempt)):
		case <-w.ctx.Done():
			return fmt.Errorf("%w (abandoned: %v)", err, w.ctx.Err())
		}
	}
}

func (w *WebhookLogger) send(event *AuditEvent, payload []byte) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.EventType))
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderDelivery, time.Now().UTC().Format(time.RFC3339))
	if w.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, w.cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return &permanentError{err: err}
	}
	return err
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Sign returns the HMAC-SHA256 signature of payload as "sha256=<hex>"
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
