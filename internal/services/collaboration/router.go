package collaboration

import (
	"encoding/json"

	"codoc/internal/models"
)

// Deliverer hands an encoded frame to a live session's outbound queue.
// It returns false when the session is gone or its queue is full.
type Deliverer interface {
	Deliver(sessionID string, frame []byte) bool
}

// Router relays edit events to the other members of a room.
type Router struct {
	registry *Registry
	peers    Deliverer
}

func NewRouter(registry *Registry, peers Deliverer) *Router {
	return &Router{registry: registry, peers: peers}
}

// Relay sends the event to every member of documentID's room except origin.
// Delivery is at most once; the IDs of members that could not take the frame are returned.
func (r *Router) Relay(originSessionID, documentID string, kind models.EventKind, payload json.RawMessage) ([]string, error) {
	frame, err := EncodeFrame(kind.Name(), documentID, payload)
	if err != nil {
		return nil, err
	}
	return r.Fanout(originSessionID, documentID, frame), nil
}

// Fanout delivers a pre-encoded frame to the room, skipping origin ("" skips nobody).
func (r *Router) Fanout(originSessionID, documentID string, frame []byte) []string {
	var failed []string
	for _, sessionID := range r.registry.MembersOf(documentID) {
		if sessionID == originSessionID {
			continue
		}
		if !r.peers.Deliver(sessionID, frame) {
			failed = append(failed, sessionID)
		}
	}
	return failed
}
