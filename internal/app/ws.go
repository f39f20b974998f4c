package app

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware for the REST
	// surface; the stream accepts the same clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// handleResponseStream pushes response change events to the client over a
// websocket. An optional promptId query parameter narrows the stream to one
// prompt's responses.
func (s *HTTPServer) handleResponseStream(w http.ResponseWriter, r *http.Request) {
	events, cancel, err := s.service.SubscribeResponses(r.Context())
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	promptID := r.URL.Query().Get("promptId")

	// The read side only surfaces client disconnects; inbound frames carry
	// no meaning for this stream.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		if promptID != "" && ev.Response.PromptID != promptID {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
