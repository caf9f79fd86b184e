package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"RunGuard/internal/domain/models"
	drepo "RunGuard/internal/domain/repository"
	applogger "RunGuard/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxClientFrame = 512
)

// StreamHub pushes every BlockOutput of a session to its websocket
// subscribers. Broadcast never blocks the session: a subscriber whose buffer
// is full is disconnected.
type StreamHub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	buffer   int
	l        *applogger.Logger
}

type subscriber struct {
	session string
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.send) }) }

func NewStreamHub(buffer int, l *applogger.Logger) *StreamHub {
	if buffer <= 0 {
		buffer = 64
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &StreamHub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer: buffer,
		l:      l,
	}
}

var _ drepo.OutputBroadcaster = (*StreamHub)(nil)

// Broadcast sends out to every subscriber of out.SessionID.
func (h *StreamHub) Broadcast(out *models.BlockOutput) {
	if out == nil {
		return
	}
	h.mu.RLock()
	subs := h.subs[out.SessionID]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	msg, err := json.Marshal(out)
	if err != nil {
		h.mu.RUnlock()
		h.l.Error("stream marshal failed", applogger.Error(err))
		return
	}
	var slow []*subscriber
	for sub := range subs {
		select {
		case sub.send <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.l.Warn("stream subscriber too slow, disconnecting", applogger.String("session_id", sub.session))
		h.remove(sub)
	}
}

// Serve upgrades the request and streams the session until the client leaves.
func (h *StreamHub) Serve(c echo.Context, sessionID string) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.l.Debug("stream upgrade failed", applogger.Error(err))
		return nil
	}
	sub := &subscriber{session: sessionID, conn: conn, send: make(chan []byte, h.buffer)}
	h.add(sub)
	go h.writeLoop(sub)

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only send control frames; reading keeps pongs and close flowing
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sub)
	return nil
}

func (h *StreamHub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(sub)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}

func (h *StreamHub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.session]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sub.session] = set
	}
	set[sub] = struct{}{}
}

func (h *StreamHub) remove(sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.session]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.session)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Subscribers reports how many clients follow sessionID.
func (h *StreamHub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// CloseSession disconnects every subscriber of sessionID.
func (h *StreamHub) CloseSession(sessionID string) {
	h.mu.Lock()
	set := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()
	for sub := range set {
		sub.close()
	}
}

// Close disconnects everyone.
func (h *StreamHub) Close() {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for sub := range set {
			sub.close()
		}
	}
}
