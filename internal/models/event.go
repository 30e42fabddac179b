package models

import (
	"encoding/json"
	"fmt"
)

// EventKind enumerates the edit events relayed between members of a room.
type EventKind int

const (
	EventDocValue EventKind = iota + 1
	EventDocTitle
	EventCodeValue
	EventCodeTitle
	EventCodeLanguage
)

// AllEventKinds lists every edit event kind.
var AllEventKinds = []EventKind{
	EventDocValue,
	EventDocTitle,
	EventCodeValue,
	EventCodeTitle,
	EventCodeLanguage,
}

// Name returns the wire event name. These names are part of the client protocol.
func (k EventKind) Name() string {
	switch k {
	case EventDocValue:
		return "new-doc-value"
	case EventDocTitle:
		return "new-doc-title"
	case EventCodeValue:
		return "new-code-value"
	case EventCodeTitle:
		return "new-code-title"
	case EventCodeLanguage:
		return "new-code-language"
	default:
		return fmt.Sprintf("unknown-event-%d", int(k))
	}
}

func (k EventKind) String() string {
	return k.Name()
}

// ParseEventKind maps a wire event name back to its kind.
func ParseEventKind(name string) (EventKind, error) {
	for _, k := range AllEventKinds {
		if k.Name() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown edit event %q", name)
}

// Apply overwrites the field of snap that this event carries. Last writer wins.
func (k EventKind) Apply(snap *DocumentSnapshot, payload json.RawMessage) error {
	switch k {
	case EventDocValue, EventCodeValue:
		if !json.Valid(payload) {
			return fmt.Errorf("%s: payload is not valid JSON", k.Name())
		}
		snap.Content = append(json.RawMessage(nil), payload...)
	case EventDocTitle, EventCodeTitle:
		var title string
		if err := json.Unmarshal(payload, &title); err != nil {
			return fmt.Errorf("%s: payload must be a string: %w", k.Name(), err)
		}
		snap.Title = title
	case EventCodeLanguage:
		var language string
		if err := json.Unmarshal(payload, &language); err != nil {
			return fmt.Errorf("%s: payload must be a string: %w", k.Name(), err)
		}
		snap.Language = language
	default:
		return fmt.Errorf("unknown edit event %d", int(k))
	}
	return nil
}

// EditEvent is a transient edit travelling through a room. It is never persisted as such.
type EditEvent struct {
	DocumentID string
	Kind       EventKind
	Payload    json.RawMessage
}
