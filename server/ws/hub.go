// Package ws implements the project room hub that fans board events out to
// live connections.
package ws

import (
	"log/slog"
	"sync"
)

// Client is one live connection attached to a room. Deliver must not block;
// it returns false when the client's queue is full or closed.
type Client interface {
	ID() string
	Deliver(data []byte) bool
}

// room holds the clients of one project.
type room struct {
	mu      sync.RWMutex
	clients map[Client]struct{}
	closed  bool // removed from the hub; joiners must fetch a fresh room
}

// Hub tracks which clients are attached to which project room.
//
// The hub lock only guards the room map. Fan-out holds the room's read lock,
// so a busy room never blocks joins, leaves or broadcasts in other rooms.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logger *slog.Logger
}

// NewHub creates a Hub with no rooms.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]*room),
		logger: logger,
	}
}

// Join attaches c to the room of projectID. The returned leave func detaches
// it and may be called more than once.
func (h *Hub) Join(projectID string, c Client) (leave func()) {
	var r *room
	for {
		r = h.room(projectID)
		r.mu.Lock()
		// The room may have been emptied and removed between lookup and lock.
		if r.closed {
			r.mu.Unlock()
			continue
		}
		r.clients[c] = struct{}{}
		r.mu.Unlock()
		break
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.leave(projectID, r, c) })
	}
}

// Broadcast queues data for every client in the room and returns how many
// accepted it. Slow clients are skipped; they recover through delta sync.
func (h *Hub) Broadcast(projectID string, data []byte) int {
	r := h.current(projectID)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for c := range r.clients {
		if c.Deliver(data) {
			delivered++
			continue
		}
		h.logger.Warn("room broadcast dropped",
			slog.String("project_id", projectID),
			slog.String("client", c.ID()),
		)
	}
	return delivered
}

// RoomSize returns the number of clients attached to projectID.
func (h *Hub) RoomSize(projectID string) int {
	r := h.current(projectID)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Rooms returns the ids of projects with at least one client.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Close detaches every client from every room.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, r := range h.rooms {
		r.mu.Lock()
		clear(r.clients)
		r.closed = true
		r.mu.Unlock()
		delete(h.rooms, id)
	}
}

func (h *Hub) current(projectID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[projectID]
}

func (h *Hub) room(projectID string) *room {
	if r := h.current(projectID); r != nil {
		return r
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[projectID]
	if !ok {
		r = &room{clients: make(map[Client]struct{})}
		h.rooms[projectID] = r
	}
	return r
}

func (h *Hub) leave(projectID string, r *room, c Client) {
	r.mu.Lock()
	delete(r.clients, c)
	empty := len(r.clients) == 0
	r.mu.Unlock()
	if !empty {
		return
	}

	// Lock order is hub then room.
	h.mu.Lock()
	defer h.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) == 0 && !r.closed {
		r.closed = true
		if h.rooms[projectID] == r {
			delete(h.rooms, projectID)
		}
	}
}
