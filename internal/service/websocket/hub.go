package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"queuewatch/internal/logger"
)

const (
	writeWait = 5 * time.Second
	// sendBuffer bounds the events queued for one client.
	sendBuffer = 32
)

// Event is the envelope pushed to dashboard clients.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

type message struct {
	sessionID string
	payload   []byte
}

// client is one dashboard connection. Its writer goroutine owns conn writes.
type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
}

// HubService fans session events out to the websocket clients of that session.
type HubService struct {
	clients    map[*websocket.Conn]*client
	broadcast  chan message
	register   chan *client
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	writers    sync.WaitGroup
	logger     *logger.Logger
}

func NewHubService(log *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan message, 64),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     log.With("hub"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client connection and waits for their writers.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for conn, c := range h.clients {
				close(c.send)
				delete(h.clients, conn)
			}
			h.mutex.Unlock()
			h.writers.Wait()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mutex.Unlock()
			h.writers.Add(1)
			go h.writePump(c)
			h.logger.Info("Client connected. Total: %d", total)

		case conn := <-h.unregister:
			h.mutex.Lock()
			if c, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(c.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", total)

		case msg := <-h.broadcast:
			h.mutex.RLock()
			for _, c := range h.clients {
				if c.sessionID != msg.sessionID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					h.logger.Warning("Client of session %s is too slow, dropping event", c.sessionID)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// writePump delivers queued events to one connection. After a write error the
// connection is closed and the queue drained until the hub releases it.
func (h *HubService) writePump(c *client) {
	defer h.writers.Done()
	defer c.conn.Close()

	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Error("Error sending message: %v", err)
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

// Register attaches conn to the events of sessionID.
func (h *HubService) Register(conn *websocket.Conn, sessionID string) {
	c := &client{conn: conn, sessionID: sessionID, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
	}
}

func (h *HubService) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues payload for the clients of sessionID. Sessions without a
// connected client are skipped. Events are dropped rather than blocking the
// caller when the queue is full.
func (h *HubService) Broadcast(sessionID string, payload []byte) {
	if !h.hasClients(sessionID) {
		return
	}
	select {
	case h.broadcast <- message{sessionID: sessionID, payload: payload}:
	case <-h.done:
	default:
		h.logger.Warning("Event queue full, dropping event for session %s", sessionID)
	}
}

func (h *HubService) hasClients(sessionID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for _, c := range h.clients {
		if c.sessionID == sessionID {
			return true
		}
	}
	return false
}

// Publish encodes an event and broadcasts it to sessionID.
func (h *HubService) Publish(sessionID, eventType string, data any) {
	if !h.hasClients(sessionID) {
		return
	}
	payload, err := json.Marshal(Event{Type: eventType, Data: data, Time: time.Now()})
	if err != nil {
		h.logger.Error("Error encoding %s event: %v", eventType, err)
		return
	}
	h.Broadcast(sessionID, payload)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
