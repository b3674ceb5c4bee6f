package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tcmartin/pipelinestudio/pkg/config"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

var (
	// ErrQueueFull is returned when a notification cannot be queued
	ErrQueueFull = errors.New("webhook queue is full")

	// ErrClosed is returned after the dispatcher has been closed
	ErrClosed = errors.New("webhook dispatcher is closed")
)

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient replaces the HTTP client used for deliveries
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry sets the retry policy
func WithRetry(r RetryConfig) Option {
	return func(d *Dispatcher) { d.retry = r }
}

// WithQueueSize bounds the number of pending notifications
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher posts finished runs to webhooks from a single background worker.
// It satisfies runtime.RunSink; SaveRun only queues and never blocks the run.
type Dispatcher struct {
	hooks     []WebhookConfig
	retry     RetryConfig
	client    *http.Client
	log       logging.Logger
	queueSize int
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan WebhookEvent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its worker
func NewDispatcher(hooks []WebhookConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		hooks:     append([]WebhookConfig(nil), hooks...),
		retry:     DefaultRetryConfig(),
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       logging.NewNop(),
		queueSize: 100,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan WebhookEvent, d.queueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	go d.work()
	return d
}

// NewFromConfig creates a dispatcher for the configured URLs, or nil when none are set
func NewFromConfig(c config.WebhooksConfig, log logging.Logger) *Dispatcher {
	if len(c.URLs) == 0 {
		return nil
	}
	hooks := make([]WebhookConfig, 0, len(c.URLs))
	for _, u := range c.URLs {
		hooks = append(hooks, WebhookConfig{URL: u, Secret: c.Secret})
	}
	retry := DefaultRetryConfig()
	retry.MaxRetries = c.MaxRetries
	if c.InitialDelayMs > 0 {
		retry.InitialDelay = time.Duration(c.InitialDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs > 0 {
		retry.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	opts := []Option{WithRetry(retry), WithLogger(log)}
	if c.TimeoutSeconds > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: time.Duration(c.TimeoutSeconds) * time.Second}))
	}
	return NewDispatcher(hooks, opts...)
}

// SaveRun queues a run.finished notification
func (d *Dispatcher) SaveRun(run models.ExecutionRun) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	ev := WebhookEvent{Type: EventRunFinished, Timestamp: d.now().UTC(), RunID: run.ID, Run: run}
	select {
	case d.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered. When ctx expires first, outstanding deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer close(d.done)
	for ev := range d.queue {
		body, err := json.Marshal(ev)
		if err != nil {
			d.log.Error("failed to encode webhook event", logging.F("run_id", ev.RunID), logging.Err(err))
			continue
		}
		for _, hook := range d.hooks {
			if err := d.deliver(hook, body); err != nil {
				d.log.Warn("webhook delivery failed",
					logging.F("url", hook.URL), logging.F("run_id", ev.RunID), logging.Err(err))
			}
		}
	}
}

// deliver posts body to one webhook, retrying transport errors, 429 and 5xx
func (d *Dispatcher) deliver(hook WebhookConfig, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= d.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-d.ctx.Done():
				return d.ctx.Err()
			case <-time.After(d.retry.Delay(attempt)):
			}
		}

		retry, err := d.post(hook, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", d.retry.MaxRetries+1, lastErr)
}

func (d *Dispatcher) post(hook WebhookConfig, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return d.ctx.Err() == nil, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned %s", resp.Status)
	default:
		return false, fmt.Errorf("webhook returned %s", resp.Status)
	}
}

// Sign returns the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
