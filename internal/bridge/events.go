package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cadbridge/internal/logging"
	"cadbridge/internal/shared/async"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// subscriber is one WebSocket client.
type subscriber struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// hub fans events out to every connected client. A client that cannot keep
// up loses events rather than stalling the publisher.
type hub struct {
	logger logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func newHub(logger logging.Logger) *hub {
	return &hub{logger: logging.OrNop(logger), subs: make(map[*subscriber]struct{})}
}

func (h *hub) publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.send <- evt:
		default:
			h.logger.Warn("dropping %s event for slow client %s", evt.Type, sub.conn.RemoteAddr())
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// serve owns conn until the client goes away.
func (h *hub) serve(conn *websocket.Conn) {
	sub := &subscriber{conn: conn, send: make(chan Event, eventBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event client connected: %s", conn.RemoteAddr())

	async.Go(h.logger, "bridge-events-write", func() { h.writeLoop(sub) })
	h.readLoop(sub)

	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
	h.logger.Debug("event client disconnected: %s", conn.RemoteAddr())
}

// readLoop discards client messages and returns when the connection closes.
func (h *hub) readLoop(sub *subscriber) {
	sub.conn.SetReadLimit(1024)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case evt := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteJSON(evt); err != nil {
				h.logger.Debug("event write failed: %v", err)
				sub.close()
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.close()
				return
			}
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for sub := range subs {
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		sub.close()
	}
}
