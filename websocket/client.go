package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1 << 20
)

// Client represents one connected participant. A client is unauthenticated
// until a joinRoom event with a valid token succeeds, and belongs to at most
// one room at a time.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	username string
	room     string
	joined   bool
	closed   bool
}

// Message is the JSON envelope carried on the event channel.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// setIdentity records a successful join.
func (c *Client) setIdentity(username, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.room = room
	c.joined = true
}

// identity returns the author name, room and join state of the connection.
func (c *Client) identity() (username, room string, joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.room, c.joined
}

// markClosed transitions the connection to its terminal state. Idempotent.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = false
	c.closed = true
}

// trySend queues data for delivery without ever blocking the caller. If the
// client's queue is full the message is dropped; genuinely dead connections
// are reaped by the ping/pong deadlines.
func (c *Client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Dropping message to slow client %q", c.username)
	}
}

// sendEvent marshals an event envelope and queues it for this client only.
func (c *Client) sendEvent(event string, payload interface{}) {
	data, err := json.Marshal(outMessage{Event: event, Payload: payload})
	if err != nil {
		log.Printf("error marshaling %s event: %v", event, err)
		return
	}
	c.trySend(data)
}

// readPump pumps messages from the websocket connection to the event router
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		HandleIncomingMessage(c, message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
