package app

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Event is a tagged message delivered to every connection subscribed to a
// room. Payload schemas are fixed per type at the transport boundary.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Room event types pushed to clients.
const (
	EventAvatarsUpdate     = "avatarsUpdate"
	EventParticipantJoined = "participantJoined"
	EventPlayerLeft        = "playerLeft"
	EventQuizStarted       = "quizStarted"
	EventSessionEnded      = "sessionEnded"
	EventShowResults       = "showResults"
)

// RoomRegistry tracks which participants are connected to which game-PIN
// room and owns the per-participant avatar seeds. It doubles as the room
// event bus: lifecycle events fan out to every subscribed connection.
//
// The registry is purely in-memory and injectable; construct one at server
// start and Close it on shutdown. All per-room mutation goes through the
// registry mutex, so no two joins to the same room interleave.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	avatars     map[string]string
	subscribers map[chan Event]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*room)}
}

// Join registers a participant in the PIN's room, creating the room if
// needed. A seed already recorded for the participant is reused so
// reconnects render the same avatar; otherwise one is derived
// deterministically from the participant ID. The full avatar map is
// broadcast to the room and a copy returned.
func (r *RoomRegistry) Join(pin, participantID string) (string, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[pin]
	if !ok {
		rm = &room{
			avatars:     make(map[string]string),
			subscribers: make(map[chan Event]struct{}),
		}
		r.rooms[pin] = rm
	}

	seed, ok := rm.avatars[participantID]
	if !ok {
		seed = AvatarSeed(participantID)
		rm.avatars[participantID] = seed
	}

	avatars := copyAvatars(rm.avatars)
	rm.broadcast(Event{Type: EventAvatarsUpdate, Payload: avatarsPayload{Avatars: avatars}})
	return seed, avatars
}

// Leave removes the participant's avatar mapping. When the last participant
// leaves, the room entry is discarded entirely. Unknown PINs are a no-op.
func (r *RoomRegistry) Leave(pin, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[pin]
	if !ok {
		return
	}
	delete(rm.avatars, participantID)
	if len(rm.avatars) == 0 {
		r.dropRoomLocked(pin, rm)
		return
	}
	rm.broadcast(Event{Type: EventAvatarsUpdate, Payload: avatarsPayload{Avatars: copyAvatars(rm.avatars)}})
}

// Sync returns the current avatar map for a room without mutating it, or
// nil for an unknown PIN. Late-joining clients use it to catch up.
func (r *RoomRegistry) Sync(pin string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[pin]
	if !ok {
		return nil
	}
	return copyAvatars(rm.avatars)
}

// Subscribe returns a channel receiving the room's events. The caller must
// invoke the returned cancel function to avoid leaks. Subscribing to an
// unknown PIN creates the room entry, matching Join semantics.
func (r *RoomRegistry) Subscribe(pin string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	r.mu.Lock()
	rm, ok := r.rooms[pin]
	if !ok {
		rm = &room{
			avatars:     make(map[string]string),
			subscribers: make(map[chan Event]struct{}),
		}
		r.rooms[pin] = rm
	}
	rm.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		rm, ok := r.rooms[pin]
		if !ok {
			return // room dropped, channel already closed
		}
		if _, ok := rm.subscribers[ch]; ok {
			delete(rm.subscribers, ch)
			close(ch)
		}
		if len(rm.avatars) == 0 && len(rm.subscribers) == 0 {
			delete(r.rooms, pin)
		}
	}
	return ch, cancel
}

// Broadcast fans an event out to every subscriber of the PIN's room.
// Unknown PINs are a no-op. The exclusive lock keeps fanouts to a room
// serialized; the drain-then-send in broadcast is only safe when no other
// sender can race for the freed slot.
func (r *RoomRegistry) Broadcast(pin string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[pin]; ok {
		rm.broadcast(ev)
	}
}

// RoomCount reports how many rooms currently hold state.
func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close drops all rooms and closes every subscriber channel.
func (r *RoomRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pin, rm := range r.rooms {
		r.dropRoomLocked(pin, rm)
	}
}

func (r *RoomRegistry) dropRoomLocked(pin string, rm *room) {
	for ch := range rm.subscribers {
		close(ch)
	}
	delete(r.rooms, pin)
}

// broadcast never blocks: a slow subscriber has its oldest pending event
// dropped in favor of the newest.
func (rm *room) broadcast(ev Event) {
	for ch := range rm.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

type avatarsPayload struct {
	Avatars map[string]string `json:"avatars"`
}

// AvatarSeed derives a stable avatar seed from a participant ID. The same
// ID always maps to the same seed, so reconnects keep their avatar.
func AvatarSeed(participantID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(participantID))
	return fmt.Sprintf("seed-%016x", h.Sum64())
}

func copyAvatars(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for id, seed := range src {
		dst[id] = seed
	}
	return dst
}
