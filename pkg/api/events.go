package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/r3labs/sse/v2"

	"github.com/tcmartin/pipelinestudio/pkg/logging"
	"github.com/tcmartin/pipelinestudio/pkg/middleware"
	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// eventStream is the single SSE stream carrying store events
const eventStream = "execution"

func newEventServer() *sse.Server {
	srv := sse.New()
	srv.AutoReplay = false
	srv.AutoStream = false
	srv.CreateStream(eventStream)
	return srv
}

// pumpEvents forwards store events to websocket and SSE clients until the subscription closes
func (s *Server) pumpEvents(events <-chan models.Event) {
	defer close(s.pumpDone)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Warn("failed to encode event", logging.F("type", string(ev.Type)), logging.Err(err))
			continue
		}
		s.events.Publish(eventStream, &sse.Event{Event: []byte(ev.Type), Data: data})
		s.ws.Broadcast(ev)
	}
}

// handleEvents streams store events as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	req := r.Clone(r.Context())
	q := req.URL.Query()
	q.Set("stream", eventStream)
	req.URL.RawQuery = q.Encode()
	s.events.ServeHTTP(w, req)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := "anonymous"
	if id, ok := middleware.GetUserID(r); ok {
		userID = id
	}
	s.ws.HandleWebSocket(w, r, userID)
}
