package websocket

import (
	"sync"
)

// Hub maintains room membership and fans events out to room members. Rooms
// are implicit: the first join creates one, the last leave removes it.
type Hub struct {
	// Rooms mapping (roomID -> clients)
	rooms map[string]map[*Client]bool

	// Mutex for rooms map
	roomsMux sync.RWMutex

	// Per-room exclusive sections serializing document and chat writes, so
	// that unrelated rooms proceed fully in parallel.
	locks    map[string]*sync.Mutex
	locksMux sync.Mutex

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		locks:      make(map[string]*sync.Mutex),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.register:
			// Connections are admitted to a room only after joinRoom
			// authenticates them; nothing to track until then.
		case client := <-h.unregister:
			h.leaveRoom(client)
			client.markClosed()
			close(client.send)
		}
	}
}

// joinRoom adds a client to a room, moving it out of any previous room, and
// returns the member count after the join.
func (h *Hub) joinRoom(client *Client, roomID string) int {
	h.roomsMux.Lock()
	defer h.roomsMux.Unlock()

	h.removeLocked(client)

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	return len(h.rooms[roomID])
}

// leaveRoom removes a client from its room. Idempotent.
func (h *Hub) leaveRoom(client *Client) {
	h.roomsMux.Lock()
	defer h.roomsMux.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	for roomID, clients := range h.rooms {
		if clients[client] {
			delete(clients, client)
			// Clean up empty rooms
			if len(clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
}

// membersOf returns the current member count of a room.
func (h *Hub) membersOf(roomID string) int {
	h.roomsMux.RLock()
	defer h.roomsMux.RUnlock()
	return len(h.rooms[roomID])
}

// broadcastToRoom sends a message to clients in a room. A nil except sends
// room-wide; otherwise that client is skipped (no self-echo).
func (h *Hub) broadcastToRoom(roomID string, message []byte, except *Client) {
	h.roomsMux.RLock()
	defer h.roomsMux.RUnlock()

	for client := range h.rooms[roomID] {
		if client != except {
			client.trySend(message)
		}
	}
}

// roomLock returns the exclusive section for a room, creating it on first
// use. Locks are kept for the process lifetime so an in-flight edit never
// races a room teardown.
func (h *Hub) roomLock(roomID string) *sync.Mutex {
	h.locksMux.Lock()
	defer h.locksMux.Unlock()

	lock, ok := h.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[roomID] = lock
	}
	return lock
}

// Global hub instance
var hub *Hub

// InitHub initializes the global hub
func InitHub() {
	hub = NewHub()
	go hub.Run()
}
