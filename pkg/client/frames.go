package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/r3labs/sse/v2"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// MalformedFrameError reports a data line that is not a valid frame.
// The reader stays usable after returning it.
type MalformedFrameError struct {
	Line string
	Err  error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed stream frame %q: %v", e.Line, e.Err)
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}

var dataPrefix = []byte("data:")

// FrameReader decodes stream frames from a server-sent event body.
// Events are buffered until their terminating blank line arrives, so a frame
// split across reads is decoded once it is complete.
type FrameReader struct {
	events  *sse.EventStreamReader
	closer  io.Closer
	pending [][]byte
}

// NewFrameReader reads frames from r. If r is an io.Closer, Close closes it.
func NewFrameReader(r io.Reader, maxFrameBytes int) *FrameReader {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	fr := &FrameReader{events: sse.NewEventStreamReader(r, maxFrameBytes)}
	if c, ok := r.(io.Closer); ok {
		fr.closer = c
	}
	return fr
}

// Next returns the next frame. It returns io.EOF when the stream ends and a
// *MalformedFrameError for a data line that does not decode; callers may keep
// reading after the latter.
func (r *FrameReader) Next() (models.StreamFrame, error) {
	for len(r.pending) == 0 {
		event, err := r.events.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return models.StreamFrame{}, io.EOF
			}
			return models.StreamFrame{}, fmt.Errorf("failed to read stream: %w", err)
		}
		r.pending = dataLines(event)
	}

	line := r.pending[0]
	r.pending = r.pending[1:]

	var frame models.StreamFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return models.StreamFrame{}, &MalformedFrameError{Line: string(line), Err: err}
	}
	return frame, nil
}

// Close releases the underlying body
func (r *FrameReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// dataLines extracts the payloads of the data lines of one event. Each data
// line carries a complete frame.
func dataLines(event []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
		if len(bytes.TrimSpace(payload)) == 0 {
			continue
		}
		out = append(out, append([]byte(nil), payload...))
	}
	return out
}
