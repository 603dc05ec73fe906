package surface

import (
	"time"

	"github.com/gosight/engagement/internal/engagement"
)

// Kind is the pointer activity a record describes
type Kind string

const (
	KindEnter Kind = "enter"
	KindMove  Kind = "move"
	KindDown  Kind = "down"
	KindUp    Kind = "up"
	KindLeave Kind = "leave"
	// KindEnd closes every tracker of a browser session
	KindEnd Kind = "end"
)

// kindAliases maps SDK event type names (simple, proto enum and DOM names) to kinds
var kindAliases = map[string]Kind{
	"pointer_enter":            KindEnter,
	"EVENT_TYPE_POINTER_ENTER": KindEnter,
	"mouseenter":               KindEnter,
	"pointer_move":             KindMove,
	"EVENT_TYPE_POINTER_MOVE":  KindMove,
	"mousemove":                KindMove,
	"pointer_down":             KindDown,
	"EVENT_TYPE_POINTER_DOWN":  KindDown,
	"mousedown":                KindDown,
	"pointer_up":               KindUp,
	"EVENT_TYPE_POINTER_UP":    KindUp,
	"mouseup":                  KindUp,
	"pointer_leave":            KindLeave,
	"EVENT_TYPE_POINTER_LEAVE": KindLeave,
	"mouseleave":               KindLeave,
	"session_end":              KindEnd,
	"EVENT_TYPE_SESSION_END":   KindEnd,
}

// KindFromType resolves an SDK event type name
func KindFromType(eventType string) (Kind, bool) {
	k, ok := kindAliases[eventType]
	return k, ok
}

// Client is the enrichment attached to a record at ingest
type Client struct {
	Browser    string
	OS         string
	DeviceType string
	Country    string
	City       string
}

// PointerEvent is one pointer record forwarded by a rendered card
type PointerEvent struct {
	EventID    string
	Kind       Kind
	ProjectID  string
	SessionID  string
	UserID     string
	Suggestion engagement.Suggestion
	X          float64
	Y          float64
	// Timestamp is the client time of the event in unix milliseconds
	Timestamp int64
	// TopOffset is the card's vertical page offset when the event fired
	TopOffset float64
	// SelectedText is the page selection, only sent with up events.
	// HasSelection is false when the record carried none.
	SelectedText string
	HasSelection bool
	Client       Client
}

// Time returns the event timestamp
func (e PointerEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Key identifies a card within a browser session
type Key struct {
	ProjectID    string
	SessionID    string
	SuggestionID string
}

// Key returns the tracker key of the event
func (e PointerEvent) Key() Key {
	return Key{ProjectID: e.ProjectID, SessionID: e.SessionID, SuggestionID: e.Suggestion.ID}
}
