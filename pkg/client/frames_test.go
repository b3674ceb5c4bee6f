package client

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// chunkReader hands out one chunk per Read call
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func readAll(t *testing.T, fr *FrameReader) ([]models.StreamFrame, []error) {
	t.Helper()
	var frames []models.StreamFrame
	var malformed []error
	for {
		f, err := fr.Next()
		if err == io.EOF {
			return frames, malformed
		}
		if err != nil {
			var mf *MalformedFrameError
			require.ErrorAs(t, err, &mf)
			malformed = append(malformed, err)
			continue
		}
		frames = append(frames, f)
	}
}

func TestFrameSplitAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: []string{
		`data: {"stage":"retrieval","status":"comp`,
		`leted","progress":0.6,"error":"no"}` + "\n\n",
	}}
	frames, malformed := readAll(t, NewFrameReader(r, 0))
	assert.Empty(t, malformed)
	require.Len(t, frames, 1)
	assert.Equal(t, "retrieval", frames[0].Stage)
	assert.Equal(t, models.FrameCompleted, frames[0].Status)
	assert.Equal(t, 0.6, frames[0].Progress)
}

func TestFrameSplitEveryByte(t *testing.T) {
	body := "data: {\"stage\":\"_start\",\"status\":\"running\"}\n\n" +
		"data: {\"stage\":\"safety\",\"status\":\"running\"}\r\n\r\n"
	var chunks []string
	for _, b := range body {
		chunks = append(chunks, string(b))
	}
	frames, malformed := readAll(t, NewFrameReader(&chunkReader{chunks: chunks}, 0))
	assert.Empty(t, malformed)
	require.Len(t, frames, 2)
	assert.Equal(t, "safety", frames[1].Stage)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	body := "data: {not json}\n\n" +
		": keep-alive comment\n\n" +
		"event: progress\ndata: {\"stage\":\"routing\",\"status\":\"running\"}\n\n"
	frames, malformed := readAll(t, NewFrameReader(strings.NewReader(body), 0))
	require.Len(t, malformed, 1)
	assert.Contains(t, malformed[0].Error(), "{not json}")
	require.Len(t, frames, 1)
	assert.Equal(t, "routing", frames[0].Stage)
}

func TestMultipleDataLinesInOneEvent(t *testing.T) {
	body := "data: {\"stage\":\"safety\",\"status\":\"running\"}\ndata: {\"stage\":\"safety\",\"status\":\"completed\"}\n\n"
	frames, _ := readAll(t, NewFrameReader(strings.NewReader(body), 0))
	require.Len(t, frames, 2)
	assert.Equal(t, models.FrameCompleted, frames[1].Status)
}

func TestTrailingEventWithoutBlankLine(t *testing.T) {
	body := "data: {\"stage\":\"_complete\",\"status\":\"completed\",\"result\":{\"answer\":\"done\"}}"
	frames, _ := readAll(t, NewFrameReader(strings.NewReader(body), 0))
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Result)
	assert.Equal(t, "done", frames[0].Result.Answer)
}

func TestFrameSlice(t *testing.T) {
	s := NewFrameSlice(models.StreamFrame{Stage: "a"})
	f, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", f.Stage)
	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, s.Close())
}
