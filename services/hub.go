package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub fans attempt events out to every open socket of that attempt, so two
// tabs on the same attempt stay in sync.
type Hub struct {
	clients        map[*Client]bool
	unregister     chan *Client
	done           chan struct{}
	closed         bool
	mutex          sync.RWMutex
	attemptService *AttemptService
}

type Client struct {
	hub       *Hub
	id        string
	socket    *websocket.Conn
	send      chan []byte
	attemptID uuid.UUID
	userID    uint
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(attemptService *AttemptService) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		attemptService: attemptService,
	}
}

// Run processes unregistrations until ctx is cancelled, then closes every
// client. Clients registered after that are refused.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Client unregistered: %s for attempt %s (user %d) - Total clients: %d", client.id, client.attemptID, client.userID, len(h.clients))
			}
			h.mutex.Unlock()

		case <-ctx.Done():
			h.mutex.Lock()
			h.closed = true
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// BroadcastToAttempt sends a message to all clients of an attempt. Clients
// whose buffer is full are dropped. A nil hub ignores the call.
func (h *Hub) BroadcastToAttempt(attemptID uuid.UUID, messageType string, payload interface{}) {
	if h == nil {
		return
	}

	data, err := json.Marshal(Message{Type: messageType, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling %s message: %v", messageType, err)
		return
	}

	var stale []*Client
	sent := 0
	h.mutex.RLock()
	for client := range h.clients {
		if client.attemptID != attemptID {
			continue
		}
		select {
		case client.send <- data:
			sent++
		default:
			stale = append(stale, client)
		}
	}
	h.mutex.RUnlock()

	h.drop(stale)
	if sent > 0 {
		log.Printf("Broadcast %s to %d clients of attempt %s", messageType, sent, attemptID)
	}
}

// SendAttemptStateSync sends the client a fresh view of its attempt.
func (h *Hub) SendAttemptStateSync(client *Client) {
	if h.attemptService == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var message Message
	view, err := h.attemptService.GetAttempt(ctx, client.attemptID, client.userID)
	if err != nil {
		log.Printf("Error getting attempt state for client %s: %v", client.id, err)
		message = Message{Type: "error", Payload: map[string]interface{}{"message": PublicMessage(err)}}
	} else {
		message = Message{Type: "attempt_state_sync", Payload: view}
	}
	client.enqueue(message)
}

// ConnectedClients counts open sockets for an attempt.
func (h *Hub) ConnectedClients(attemptID uuid.UUID) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for client := range h.clients {
		if client.attemptID == attemptID {
			count++
		}
	}
	return count
}

func (h *Hub) RegisterClient(conn *websocket.Conn, attemptID uuid.UUID, userID uint) *Client {
	client := &Client{
		hub:       h,
		id:        "client_" + uuid.NewString(),
		socket:    conn,
		send:      make(chan []byte, 256),
		attemptID: attemptID,
		userID:    userID,
	}

	// Registered before the first enqueue.
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		conn.Close()
		return nil
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client registered: %s for attempt %s (user %d) - Total clients: %d", client.id, attemptID, userID, total)

	go client.writePump()
	go client.readPump()

	h.SendAttemptStateSync(client)
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) drop(clients []*Client) {
	if len(clients) == 0 {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			log.Printf("Client %s send buffer full, closing connection", client.id)
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// enqueue sends to this client only, dropping it when its buffer is full.
func (c *Client) enqueue(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling %s message: %v", message.Type, err)
		return
	}

	c.hub.mutex.RLock()
	_, registered := c.hub.clients[c]
	full := false
	if registered {
		select {
		case c.send <- data:
		default:
			full = true
		}
	}
	c.hub.mutex.RUnlock()

	if full {
		c.hub.drop([]*Client{c})
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		c.enqueue(Message{Type: "pong", Payload: "pong"})

	case "request_attempt_state":
		c.hub.SendAttemptStateSync(c)

	default:
		log.Printf("Unknown message type: %s from user %d on attempt %s", msg.Type, c.userID, c.attemptID)
	}
}
