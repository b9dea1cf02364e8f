package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/logging"
	"github.com/soyeahso/courier/internal/orchestrator"
	"github.com/soyeahso/courier/internal/stream"
)

// Client is one WebSocket connection. Each inbound text frame is a chat
// request; each outbound frame is one stream record.
type Client struct {
	ConnID      string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Socket:      conn,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// SendRecord writes one record as a text frame. Thread-safe.
func (c *Client) SendRecord(rec stream.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.Socket.WriteJSON(rec)
}

// ReadRequest reads the next chat request. A frame that is not valid JSON
// is reported through ok=false with a nil error so the caller can answer
// it with a MalformedRequest record.
func (c *Client) ReadRequest() (req domain.ChatRequest, ok bool, err error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return domain.ChatRequest{}, false, err
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("unparsable frame")
		return domain.ChatRequest{}, false, nil
	}
	return req, true, nil
}

// Emitter returns an orchestrator emitter that writes records for one
// conversation to this connection.
func (c *Client) Emitter(conversationID string) orchestrator.Emitter {
	return &wsEmitter{client: c, conversationID: conversationID}
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

type wsEmitter struct {
	client         *Client
	conversationID string
}

func (e *wsEmitter) Send(ev domain.StreamEvent) error {
	rec, err := stream.NewRecord(e.conversationID, ev, time.Now())
	if err != nil {
		return err
	}
	return e.client.SendRecord(rec)
}

// ClientRegistry manages connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
