package client

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// FrameSource yields stream frames until io.EOF
type FrameSource interface {
	Next() (models.StreamFrame, error)
	Close() error
}

// WithStreamFallback makes OpenStream synthesize frames from the query endpoint
// when the backend has no usable stream endpoint.
func WithStreamFallback(enabled bool) Option {
	return func(c *Client) { c.streamFallback = enabled }
}

// OpenStream opens the streaming endpoint. With stream fallback enabled, a
// network failure or a 404/405 answer runs a plain query instead and replays it
// as synthetic frames.
func (c *Client) OpenStream(ctx context.Context, q models.QueryRequest) (FrameSource, error) {
	fr, err := c.Stream(ctx, q)
	if err == nil {
		return fr, nil
	}
	if !c.streamFallback || ctx.Err() != nil || !fallbackEligible(err) {
		return nil, err
	}
	return c.synthesize(ctx, q), nil
}

func fallbackEligible(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusMethodNotAllowed
	}
	return true
}

func (c *Client) synthesize(ctx context.Context, q models.QueryRequest) FrameSource {
	frames := []models.StreamFrame{{Stage: models.StageStart, Status: models.FrameRunning}}
	resp, err := c.Query(ctx, q)
	if err != nil {
		frames = append(frames, models.StreamFrame{
			Stage:  models.StageError,
			Status: models.FrameError,
			Error:  err.Error(),
		})
		return &FrameSlice{frames: frames}
	}
	return &FrameSlice{frames: append(frames, SyntheticFrames(resp)...)}
}

// SyntheticFrames replays a query response as the frames a streaming backend
// emits: one completed frame per finished stage followed by the completion frame.
func SyntheticFrames(resp *models.QueryResponse) []models.StreamFrame {
	stages := resp.Metadata.StagesCompleted
	total := len(stages)
	if total == 0 {
		total = 1
	}
	frames := make([]models.StreamFrame, 0, len(stages)+1)
	for i, stage := range stages {
		f := models.StreamFrame{
			Stage:    stage,
			Status:   models.FrameCompleted,
			Progress: float64(i+1) / float64(total),
		}
		if i == len(stages)-1 {
			meta := resp.Metadata
			f.Metadata = &meta
		}
		frames = append(frames, f)
	}
	return append(frames, models.StreamFrame{
		Stage:    models.StageComplete,
		Status:   models.FrameCompleted,
		Progress: 1,
		Result: &models.StreamResult{
			Answer:   resp.Answer,
			TraceID:  resp.TraceID,
			Sources:  resp.Sources,
			Metadata: resp.Metadata,
		},
	})
}

// FrameSlice is a FrameSource over an in-memory list of frames
type FrameSlice struct {
	frames []models.StreamFrame
	pos    int
}

// NewFrameSlice creates a FrameSource over frames
func NewFrameSlice(frames ...models.StreamFrame) *FrameSlice {
	return &FrameSlice{frames: frames}
}

// Next returns the next frame or io.EOF
func (s *FrameSlice) Next() (models.StreamFrame, error) {
	if s.pos >= len(s.frames) {
		return models.StreamFrame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

// Close is a no-op
func (s *FrameSlice) Close() error { return nil }

var _ FrameSource = (*FrameReader)(nil)
