package engagement

import (
	"time"
)

// Type classifies how a session qualified as engagement
type Type string

const (
	// TypeInteraction is emitted when a session ends with a pointer-up on the card
	TypeInteraction Type = "interaction"
	// TypeTime is emitted when the pointer leaves after dwelling past the limit
	TypeTime Type = "time"
)

// Point is a pointer position in client coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance is a per-axis distance in pixels
type Distance struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Selection describes the drag between pointer-down and pointer-up. HasText
// distinguishes an empty page selection from none at all.
type Selection struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	SelectedText string  `json:"selected_text,omitempty"`
	HasText      bool    `json:"has_text"`
}

// Suggestion is the card a tracker is attached to
type Suggestion struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	URL      string            `json:"url,omitempty"`
	Context  []string          `json:"context,omitempty"`
	MetaData map[string]string `json:"meta_data,omitempty"`
}

// Event is the engagement record handed to the host. At most one is emitted per session.
type Event struct {
	SubjectID                 string     `json:"subject_id"`
	Suggestion                Suggestion `json:"suggestion"`
	OccurredAt                time.Time  `json:"occurred_at"`
	DurationMs                int64      `json:"duration_ms"`
	ScrollDistanceAtEngage    float64    `json:"scroll_distance_at_engage"`
	Type                      Type       `json:"engagement_type"`
	TotalDistanceTraveled     Distance   `json:"total_distance_traveled"`
	SelectionDistanceTraveled *Selection `json:"selection_distance_traveled,omitempty"`
}

// Thresholds tunes the classification rules
type Thresholds struct {
	// DwellLimit is the hover time a session must exceed to count as a Time engagement
	DwellLimit time.Duration
	// MinSelectionDistance is the per-axis drag (px) that must be exceeded on either axis
	MinSelectionDistance float64
	// MinClickDuration is the hold time a drag must exceed to carry a selection payload
	MinClickDuration time.Duration
}

// DefaultThresholds returns the thresholds the card has always used: 3s dwell, 6px, 300ms.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DwellLimit:           3000 * time.Millisecond,
		MinSelectionDistance: 6,
		MinClickDuration:     300 * time.Millisecond,
	}
}
