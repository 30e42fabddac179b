package collaboration

import (
	"sort"
	"sync"
)

// Registry maps document IDs to the sessions currently in that document's room.
// The session manager loop is its only writer; readers may call MembersOf concurrently.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]struct{} // documentID -> sessionIDs
	memberships map[string]map[string]struct{} // sessionID -> documentIDs
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join adds sessionID to documentID's room, creating the room on first join.
// It reports whether the session was newly added.
func (r *Registry) Join(sessionID, documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[documentID]
	if room == nil {
		room = make(map[string]struct{})
		r.rooms[documentID] = room
	}
	if _, ok := room[sessionID]; ok {
		return false
	}
	room[sessionID] = struct{}{}

	docs := r.memberships[sessionID]
	if docs == nil {
		docs = make(map[string]struct{})
		r.memberships[sessionID] = docs
	}
	docs[documentID] = struct{}{}
	return true
}

// Leave removes sessionID from documentID's room and discards the room once empty.
// Unknown sessions or documents are ignored. It reports whether anything was removed.
func (r *Registry) Leave(sessionID, documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(sessionID, documentID)
}

// LeaveAll removes sessionID from every room and returns the documents it left.
func (r *Registry) LeaveAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := r.memberships[sessionID]
	left := make([]string, 0, len(docs))
	for documentID := range docs {
		left = append(left, documentID)
	}
	for _, documentID := range left {
		r.leaveLocked(sessionID, documentID)
	}
	sort.Strings(left)
	return left
}

func (r *Registry) leaveLocked(sessionID, documentID string) bool {
	room, ok := r.rooms[documentID]
	if !ok {
		return false
	}
	if _, ok := room[sessionID]; !ok {
		return false
	}

	delete(room, sessionID)
	if len(room) == 0 {
		delete(r.rooms, documentID)
	}

	if docs := r.memberships[sessionID]; docs != nil {
		delete(docs, documentID)
		if len(docs) == 0 {
			delete(r.memberships, sessionID)
		}
	}
	return true
}

// MembersOf returns the sessions in documentID's room, sorted. Unknown rooms yield an empty slice.
func (r *Registry) MembersOf(documentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[documentID]
	members := make([]string, 0, len(room))
	for sessionID := range room {
		members = append(members, sessionID)
	}
	sort.Strings(members)
	return members
}

// RoomsOf returns the documents sessionID has joined, sorted.
func (r *Registry) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := r.memberships[sessionID]
	out := make([]string, 0, len(docs))
	for documentID := range docs {
		out = append(out, documentID)
	}
	sort.Strings(out)
	return out
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
