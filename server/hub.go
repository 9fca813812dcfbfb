package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/relaymesh/logging"
)

// DefaultWriteTimeout bounds a single WebSocket write.
const DefaultWriteTimeout = 10 * time.Second

// HubOptions configures a Hub.
type HubOptions struct {
	WriteTimeout time.Duration
	Logger       logging.Logger
}

// Hub tracks the WebSocket connection of each session.
//
// Concurrency: the connection map is protected by an RWMutex; writes to a
// single connection are serialized by a per-connection mutex.
type Hub struct {
	writeTimeout time.Duration
	logger       logging.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub(optFns ...func(o *HubOptions)) *Hub {
	opts := HubOptions{WriteTimeout: DefaultWriteTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Hub{
		writeTimeout: opts.WriteTimeout,
		logger:       logging.OrNoOp(opts.Logger),
		conns:        make(map[string]*wsConn),
	}
}

// attach registers ws for sessionID, closing any previous connection.
func (h *Hub) attach(sessionID string, ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws}

	h.mu.Lock()
	old := h.conns[sessionID]
	h.conns[sessionID] = c
	h.mu.Unlock()

	if old != nil {
		_ = old.ws.Close()
	}
	h.logger.Info("ws.connected", "session_id", sessionID)
	return c
}

// detach removes c if it is still the connection of sessionID.
func (h *Hub) detach(sessionID string, c *wsConn) {
	h.mu.Lock()
	if h.conns[sessionID] == c {
		delete(h.conns, sessionID)
	}
	h.mu.Unlock()

	_ = c.ws.Close()
	h.logger.Info("ws.disconnected", "session_id", sessionID)
}

// Send implements core.Sender. Messages for sessions without a connection
// are dropped. A failed write closes the connection.
func (h *Hub) Send(ctx context.Context, sessionID string, data []byte) error {
	h.mu.RLock()
	c, ok := h.conns[sessionID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("ws.dropped", "session_id", sessionID)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	err := c.ws.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		h.logger.Warn("ws.write_failed", "session_id", sessionID, "error", err)
		h.detach(sessionID, c)
		return fmt.Errorf("send to session %s: %w", sessionID, err)
	}
	return nil
}

// SendJSON encodes v and sends it to sessionID.
func (h *Hub) SendJSON(ctx context.Context, sessionID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return h.Send(ctx, sessionID, data)
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*wsConn)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}
