package collaboration

import (
	"encoding/json"
	"fmt"

	"codoc/internal/models"
)

// Control events. Edit events use models.EventKind names.
const (
	EventJoin       = "join"
	EventLeave      = "leave"
	EventJoined     = "joined"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventSaved      = "saved"
	EventSaveFailed = "save-failed"
	EventError      = "error"
)

// Error codes carried in error frames.
const (
	CodeBadRequest   = "bad-request"
	CodeAccessDenied = "access-denied"
	CodeNotFound     = "not-found"
	CodeReadOnly     = "read-only"
	CodeNotJoined    = "not-joined"
	CodeUnavailable  = "unavailable"
)

// Frame is the JSON envelope of every websocket message in both directions.
type Frame struct {
	Event      string          `json:"event"`
	DocumentID string          `json:"documentId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinedPayload struct {
	Role     models.Role              `json:"role"`
	Snapshot *models.DocumentSnapshot `json:"snapshot"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

type SaveFailedPayload struct {
	Message string `json:"message"`
}

// DecodeFrame parses an inbound message.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("malformed frame: missing event")
	}
	return &f, nil
}

// EncodeFrame builds an outbound message. A json.RawMessage payload is passed through untouched.
func EncodeFrame(event, documentID string, payload interface{}) ([]byte, error) {
	f := Frame{Event: event, DocumentID: documentID}

	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		f.Payload = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Payload = raw
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return data, nil
}

func errorFrame(documentID, code, message string) []byte {
	// ErrorPayload always marshals
	data, _ := EncodeFrame(EventError, documentID, ErrorPayload{Code: code, Message: message})
	return data
}
