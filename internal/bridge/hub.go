// Package bridge carries engine commands to, and engine events from, the game
// client of each user over a WebSocket.
package bridge

import (
	"log"
	"sync"

	"focustown/backend/internal/engine"
)

const sendBuffer = 256

// EventHandler receives every decoded event sent by a user's game client.
type EventHandler func(userID string, ev engine.Event)

// Hub tracks at most one game client connection per user.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	onEvent EventHandler
}

// Connection is one attached game client.
type Connection struct {
	UserID string
	Send   chan []byte
}

func NewHub(onEvent EventHandler) *Hub {
	if onEvent == nil {
		onEvent = func(string, engine.Event) {}
	}
	return &Hub{
		conns:   make(map[string]*Connection),
		onEvent: onEvent,
	}
}

// Register attaches conn for its user. A previous connection of the same
// user is closed.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.conns[conn.UserID]; ok && prev != conn {
		close(prev.Send)
		log.Printf("bridge: replacing client for user %s", conn.UserID)
	}
	h.conns[conn.UserID] = conn
	log.Printf("bridge: client connected for user %s", conn.UserID)
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.conns[conn.UserID]; ok && existing == conn {
		delete(h.conns, conn.UserID)
		close(conn.Send)
		log.Printf("bridge: client disconnected for user %s", conn.UserID)
	}
}

func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Commander returns the engine.Commander for userID. Commands sent while the
// user has no client attached, or while its buffer is full, are dropped.
func (h *Hub) Commander(userID string) engine.Commander {
	return engine.CommanderFunc(func(cmd engine.Command) {
		h.deliver(userID, cmd)
	})
}

func (h *Hub) deliver(userID string, cmd engine.Command) {
	data, err := engine.EncodeCommand(cmd)
	if err != nil {
		log.Printf("bridge: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[userID]
	if !ok {
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Printf("bridge: drop %s for user %s: buffer full", cmd.Type, userID)
	}
}

// Dispatch decodes a raw client message and hands it to the event handler.
func (h *Hub) Dispatch(userID string, raw []byte) {
	ev, err := engine.DecodeEvent(raw)
	if err != nil {
		log.Printf("bridge: ignore message from user %s: %v", userID, err)
		return
	}
	h.onEvent(userID, ev)
}
