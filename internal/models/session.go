package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents an active WebSocket connection.
// The user ID is established by the auth layer before the upgrade.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// SessionState tracks where a connection is in its lifecycle.
type SessionState int

const (
	StateConnected SessionState = iota
	StateJoining
	StateJoined
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

func NewSession(userID string) *Session {
	return &Session{
		ID:          ksuid.New().String(),
		UserID:      userID,
		ConnectedAt: time.Now(),
	}
}
