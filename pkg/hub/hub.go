package hub

import "sync"

// subscriberBuffer is the per-subscriber outbound queue depth.
const subscriberBuffer = 50

// Subscriber is one session's mailbox within a vault's room. A session
// owns the goroutine that drains Send and writes it to its WebSocket
// connection; the hub only ever enqueues.
type Subscriber struct {
	ID   string
	Send chan []byte
}

// NewSubscriber allocates a Subscriber with a buffered outbound queue.
func NewSubscriber(id string) *Subscriber {
	return &Subscriber{ID: id, Send: make(chan []byte, subscriberBuffer)}
}

// room is the subscriber set for one vault, guarded by its own mutex so a
// broadcast to one vault never contends with Join/Leave on another.
type room struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// Hub is the process-wide vault_id -> active-sessions map (spec.md §4.F).
// Rooms are created on first Join and removed on last Leave. The hub's own
// map mutex is distinct from each room's subscriber-set mutex: Join and
// Leave take a room's lock while holding the map lock, so a room is never
// removed while a subscriber is being added to it; Broadcast and RoomSize
// release the map lock before taking the room's.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join adds sub to vaultID's room, creating the room if this is its first
// subscriber.
func (h *Hub) Join(vaultID string, sub *Subscriber) {
	h.mu.Lock()
	r, ok := h.rooms[vaultID]
	if !ok {
		r = &room{subscribers: make(map[string]*Subscriber)}
		h.rooms[vaultID] = r
	}

	r.mu.Lock()
	r.subscribers[sub.ID] = sub
	r.mu.Unlock()
	h.mu.Unlock()
}

// Leave removes sub from vaultID's room. If the room is left empty, it is
// deleted from the hub.
func (h *Hub) Leave(vaultID string, sub *Subscriber) {
	h.mu.Lock()
	r, ok := h.rooms[vaultID]
	if !ok {
		h.mu.Unlock()
		return
	}

	r.mu.Lock()
	delete(r.subscribers, sub.ID)
	empty := len(r.subscribers) == 0
	r.mu.Unlock()

	if empty {
		delete(h.rooms, vaultID)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every session currently in vaultID's room,
// including the originator — clients dedupe by device and uid. A
// subscriber whose outbound queue is full is skipped rather than blocking
// the broadcast; it is the slow peer's problem, not the hub's.
func (h *Hub) Broadcast(vaultID string, msg []byte) int {
	h.mu.RLock()
	r, ok := h.rooms[vaultID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, sub := range r.subscribers {
		select {
		case sub.Send <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// RoomSize reports how many sessions are currently subscribed to vaultID,
// for metrics and tests. Zero if the room doesn't exist.
func (h *Hub) RoomSize(vaultID string) int {
	h.mu.RLock()
	r, ok := h.rooms[vaultID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// RoomCount reports how many vaults currently have at least one active
// session.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
