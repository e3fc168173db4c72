package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"noteforge/api/internal/content"
	"noteforge/api/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	eventBuffer    = 64
)

// clientMessage is what an editor sends over /api/events.
type clientMessage struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	Content    json.RawMessage `json:"content,omitempty"`
	Title      string          `json:"title,omitempty"`
}

func (s *HTTPServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if s.corsOrigin == "" || s.corsOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || strings.EqualFold(origin, s.corsOrigin)
		},
	}
}

// handleEvents streams bus events to the client and accepts content and
// title edits from it.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", "Event stream disabled", nil)
		return
	}
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := s.bus.Subscribe(eventBuffer)
	log := s.log.WithField("request_id", RequestID(r.Context()))
	log.Debug("event stream opened")

	done := make(chan struct{})
	go s.writePump(conn, sub, done)
	s.readPump(conn, done)
	sub.Close()
	log.Debug("event stream closed")
}

func (s *HTTPServer) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer func() {
		close(done)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket closed unexpectedly")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.WithError(err).Debug("ignoring malformed client message")
			continue
		}
		s.applyClientMessage(msg)
	}
}

func (s *HTTPServer) applyClientMessage(msg clientMessage) {
	switch msg.Type {
	case "content":
		delta, err := content.Parse(msg.Content)
		if err != nil {
			return
		}
		if _, err := s.service.UpdateContent(msg.DocumentID, delta); err != nil {
			s.log.WithError(err).WithField("document_id", msg.DocumentID).Debug("content update rejected")
		}
	case "title":
		if _, err := s.service.UpdateTitle(msg.DocumentID, msg.Title); err != nil {
			s.log.WithError(err).WithField("document_id", msg.DocumentID).Debug("title update rejected")
		}
	default:
		s.log.WithField("type", msg.Type).Debug("unknown client message")
	}
}

func (s *HTTPServer) writePump(conn *websocket.Conn, sub *notify.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				s.log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
