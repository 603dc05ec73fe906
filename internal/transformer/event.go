package transformer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gosight/engagement/internal/engagement"
	"github.com/gosight/engagement/internal/storage"
	"github.com/gosight/engagement/internal/surface"
)

var (
	// ErrUnsupportedType is returned for records that are not card pointer activity
	ErrUnsupportedType = errors.New("unsupported event type")
	// ErrMissingSuggestion is returned for pointer records without a suggestion id
	ErrMissingSuggestion = errors.New("pointer event without suggestion id")
	// ErrMissingTimestamp is returned for pointer records with neither a client
	// nor a server timestamp
	ErrMissingTimestamp = errors.New("pointer event without timestamp")
)

// ParsePointerEvent converts an enriched record from Kafka into a pointer event.
//
// Expected shape:
//
//	{"event_id": "...", "type": "pointer_up", "timestamp": 1700000000000,
//	 "project_id": "...", "session_id": "...", "user_id": "...",
//	 "payload": {"x": 10, "y": 20, "top_offset": 340, "selected_text": "...",
//	             "suggestion": {"id": "...", "title": "...", "url": "...", "context": ["go"]}},
//	 "browser": "Chrome", "os": "Linux", "device_type": "desktop", "country": "DE"}
func ParsePointerEvent(raw map[string]interface{}) (surface.PointerEvent, error) {
	eventType := getString(raw, "type")
	kind, ok := surface.KindFromType(eventType)
	if !ok {
		return surface.PointerEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedType, eventType)
	}

	ev := surface.PointerEvent{
		EventID:   getString(raw, "event_id"),
		Kind:      kind,
		ProjectID: getString(raw, "project_id"),
		SessionID: getString(raw, "session_id"),
		UserID:    getString(raw, "user_id"),
		Timestamp: getInt64(raw, "timestamp"),
		Client: surface.Client{
			Browser:    getString(raw, "browser"),
			OS:         getString(raw, "os"),
			DeviceType: getString(raw, "device_type"),
			Country:    getString(raw, "country"),
			City:       getString(raw, "city"),
		},
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = getInt64(raw, "server_timestamp")
	}

	if payload, ok := raw["payload"].(map[string]interface{}); ok {
		ev.X = getFloat64(payload, "x")
		ev.Y = getFloat64(payload, "y")
		ev.TopOffset = getFloat64(payload, "top_offset")
		if text, ok := payload["selected_text"].(string); ok {
			ev.SelectedText = text
			ev.HasSelection = true
		}

		if s, ok := payload["suggestion"].(map[string]interface{}); ok {
			ev.Suggestion = parseSuggestion(s)
		} else {
			ev.Suggestion.ID = getString(payload, "suggestion_id")
		}
	}

	if ev.Suggestion.ID == "" {
		ev.Suggestion.ID = getString(raw, "suggestion_id")
	}

	if kind == surface.KindEnd {
		return ev, nil
	}
	if ev.Suggestion.ID == "" {
		return ev, ErrMissingSuggestion
	}
	if ev.Timestamp == 0 {
		return ev, ErrMissingTimestamp
	}
	return ev, nil
}

func parseSuggestion(m map[string]interface{}) engagement.Suggestion {
	s := engagement.Suggestion{
		ID:    getString(m, "id"),
		Title: getString(m, "title"),
		URL:   getString(m, "url"),
	}
	// Cards are identified by their url when the SDK sends no id
	if s.ID == "" {
		s.ID = s.URL
	}
	if ctx, ok := m["context"].([]interface{}); ok {
		for _, c := range ctx {
			if v, ok := c.(string); ok {
				s.Context = append(s.Context, v)
			}
		}
	}
	if meta, ok := m["meta_data"].(map[string]interface{}); ok {
		s.MetaData = make(map[string]string, len(meta))
		for k, v := range meta {
			if str, ok := v.(string); ok {
				s.MetaData[k] = str
			}
		}
	}
	return s
}

// EngagementRow transforms an emitted engagement into a ClickHouse row
func EngagementRow(e surface.Engaged) storage.EngagementRow {
	ev := e.Event
	row := storage.EngagementRow{
		EngagementID:    uuid.New().String(),
		ProjectID:       e.ProjectID,
		SessionID:       e.SessionID,
		UserID:          e.UserID,
		SuggestionID:    ev.SubjectID,
		SuggestionURL:   ev.Suggestion.URL,
		SuggestionTitle: ev.Suggestion.Title,
		Context:         ev.Suggestion.Context,
		Timestamp:       ev.OccurredAt,
		EngagementType:  string(ev.Type),
		ScrollDistance:  ev.ScrollDistanceAtEngage,
		TotalDistanceX:  ev.TotalDistanceTraveled.X,
		TotalDistanceY:  ev.TotalDistanceTraveled.Y,
		TriggerEventID:  e.TriggerEventID,
		Browser:         e.Client.Browser,
		OS:              e.Client.OS,
		DeviceType:      e.Client.DeviceType,
		Country:         e.Client.Country,
	}
	if ev.DurationMs > 0 {
		row.DurationMs = uint64(ev.DurationMs)
	}
	if row.Context == nil {
		row.Context = []string{}
	}
	if sel := ev.SelectionDistanceTraveled; sel != nil {
		x, y := sel.X, sel.Y
		row.SelectionX = &x
		row.SelectionY = &y
		if sel.HasText {
			text := sel.SelectedText
			row.SelectedText = &text
		}
	}
	return row
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func getInt64(m map[string]interface{}, key string) int64 {
	if v, ok := m[key].(float64); ok {
		return int64(v)
	}
	return 0
}
