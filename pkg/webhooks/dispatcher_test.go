package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/pipelinestudio/pkg/config"
	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

type capture struct {
	mu       sync.Mutex
	bodies   [][]byte
	sigs     []string
	statuses []int
	calls    int32
}

func (c *capture) handler(status func(call int32) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&c.calls, 1)
		body, _ := io.ReadAll(r.Body)
		code := status(n)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.sigs = append(c.sigs, r.Header.Get(SignatureHeader))
		c.statuses = append(c.statuses, code)
		c.mu.Unlock()
		w.WriteHeader(code)
	}
}

func TestDispatcherDeliversSignedEvent(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(int32) int { return http.StatusNoContent }))
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{{URL: srv.URL, Secret: "s3cret", Headers: map[string]string{"X-Env": "test"}}},
		WithRetry(fastRetry(0)))
	run := models.ExecutionRun{ID: "run-1", Query: "hi", Status: models.RunCompleted, Route: "chitchat"}
	require.NoError(t, d.SaveRun(run))
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, c.bodies, 1)
	assert.True(t, Verify("s3cret", c.bodies[0], c.sigs[0]))
	assert.False(t, Verify("other", c.bodies[0], c.sigs[0]))

	var ev WebhookEvent
	require.NoError(t, json.Unmarshal(c.bodies[0], &ev))
	assert.Equal(t, EventRunFinished, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, run.Route, ev.Run.Route)
}

func TestDispatcherRetriesServerErrors(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(n int32) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	}))
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}}, WithRetry(fastRetry(3)))
	require.NoError(t, d.SaveRun(models.ExecutionRun{ID: "r"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, []int{502, 502, 200}, c.statuses)
	assert.Empty(t, c.sigs[0])
}

func TestDispatcherDoesNotRetryClientErrors(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(int32) int { return http.StatusBadRequest }))
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}}, WithRetry(fastRetry(5)))
	require.NoError(t, d.SaveRun(models.ExecutionRun{ID: "r"}))
	require.NoError(t, d.Close(context.Background()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&c.calls))
}

func TestDispatcherGivesUp(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(int32) int { return http.StatusServiceUnavailable }))
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}}, WithRetry(fastRetry(2)))
	err := d.deliver(d.hooks[0], []byte(`{}`))
	assert.ErrorContains(t, err, "giving up after 3 attempts")
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherQueueFullAndClosed(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}}, WithQueueSize(1), WithRetry(fastRetry(0)))
	require.NoError(t, d.SaveRun(models.ExecutionRun{ID: "1"}))

	// the worker takes at most one event, so the queue fills within two more sends
	var full bool
	for i := 0; i < 3 && !full; i++ {
		full = d.SaveRun(models.ExecutionRun{ID: "x"}) == ErrQueueFull
	}
	assert.True(t, full)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	close(block)

	assert.ErrorIs(t, d.SaveRun(models.ExecutionRun{ID: "late"}), ErrClosed)
	assert.NoError(t, d.Close(context.Background()))
}

func TestRetryDelay(t *testing.T) {
	r := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 3}
	assert.Equal(t, 100*time.Millisecond, r.Delay(1))
	assert.Equal(t, 300*time.Millisecond, r.Delay(2))
	assert.Equal(t, 900*time.Millisecond, r.Delay(3))
	assert.Equal(t, time.Second, r.Delay(4))
	assert.Equal(t, time.Second, r.Delay(10))
}

func TestNewFromConfig(t *testing.T) {
	assert.Nil(t, NewFromConfig(config.WebhooksConfig{}, logging.NewNop()))

	d := NewFromConfig(config.WebhooksConfig{
		URLs:           []string{"http://a", "http://b"},
		Secret:         "k",
		MaxRetries:     1,
		InitialDelayMs: 20,
		MaxDelayMs:     40,
		TimeoutSeconds: 2,
	}, logging.NewNop())
	require.NotNil(t, d)
	defer d.Close(context.Background())

	assert.Len(t, d.hooks, 2)
	assert.Equal(t, "k", d.hooks[1].Secret)
	assert.Equal(t, 1, d.retry.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, d.retry.InitialDelay)
	assert.Equal(t, 40*time.Millisecond, d.retry.MaxDelay)
	assert.Equal(t, 2*time.Second, d.client.Timeout)
}
