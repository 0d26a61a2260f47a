package control

import (
	"net/http"
	"time"

	"mentionrelay/internal/bus"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer = 16
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

// StreamMessage is one frame of the status stream.
type StreamMessage struct {
	Type    string         `json:"type"` // "status" | "session.state" | "session.qr"
	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The panel may be served from FRONT_URL.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams session state and pairing changes to a websocket
// client. Pairing codes themselves are not pushed; clients fetch /instance/qr.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	out := make(chan StreamMessage, streamBuffer)
	forward := func(e bus.Event) {
		msg := StreamMessage{Type: e.Type, Payload: map[string]any{}, Time: e.Timestamp}
		for k, v := range e.Payload {
			if k == "qr" {
				continue
			}
			msg.Payload[k] = v
		}
		select {
		case out <- msg:
		default:
			s.logger.Debug("status stream client slow, frame dropped", "type", e.Type)
		}
	}
	stateID := s.events.On(bus.EventSessionState, forward)
	qrID := s.events.On(bus.EventSessionQR, forward)
	defer s.events.Off(bus.EventSessionState, stateID)
	defer s.events.Off(bus.EventSessionQR, qrID)

	s.logger.Debug("status stream client connected", "remote", r.RemoteAddr)

	st := s.session.Status()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(StreamMessage{
		Type:    "status",
		Payload: map[string]any{"status": string(st.State), "hasQR": st.HasQR},
		Time:    time.Now(),
	}); err != nil {
		return
	}

	// Reader: only detects close; inbound frames are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("status stream read error", "err", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("status stream write failed", "err", err)
				return
			}
		}
	}
}
