package control

import (
	"net/http"
	"time"

	"github.com/goodtune/homeguard/internal/policy"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer = 32
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
)

// handleEvents streams engine events as JSON text frames until the client
// goes away or the server stops. The first frame is a status event carrying
// the current sync state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.engine.Subscribe(eventBuffer)
	defer cancel()

	// Reader: only control frames are expected. Any error ends the stream.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Event stream opened")
	defer s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Event stream closed")

	hello := snapshotEvent(s.engine.State())
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			return
		}
	}
}

func snapshotEvent(state policy.State) policy.Event {
	return policy.Event{
		Kind:  policy.EventStatus,
		Level: policy.LevelInfo,
		State: state,
		At:    time.Now(),
	}
}
