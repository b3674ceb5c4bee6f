// Package webhooks notifies HTTP endpoints when runs finish.
package webhooks

import (
	"time"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// EventRunFinished is the type of the event sent for every finalized run
const EventRunFinished = "run.finished"

// SignatureHeader carries "sha256=" followed by the hex HMAC of the body
const SignatureHeader = "X-PipelineStudio-Signature"

// WebhookConfig contains configuration for a webhook
type WebhookConfig struct {
	// URL to send the webhook to
	URL string `json:"url"`

	// Headers to include in the request
	Headers map[string]string `json:"headers,omitempty"`

	// Secret for signing the webhook payload
	Secret string `json:"secret,omitempty"`
}

// RetryConfig contains retry settings for webhook delivery
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int `json:"max_retries"`

	// InitialDelay is the initial delay before the first retry
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `json:"max_delay"`

	// BackoffFactor is the multiplier for the delay between retries
	BackoffFactor float64 `json:"backoff_factor"`
}

// DefaultRetryConfig returns the standard retry settings
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

// Delay returns the wait before retry number attempt (1-based)
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffFactor
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// WebhookEvent is the payload posted to every webhook
type WebhookEvent struct {
	// Type of the event
	Type string `json:"type"`

	// Timestamp of the event
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the finished run
	RunID string `json:"run_id"`

	// Run is the finalized run record
	Run models.ExecutionRun `json:"run"`
}
