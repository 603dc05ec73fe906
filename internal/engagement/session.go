package engagement

import (
	"math"
	"time"
)

// PointerDown is the position and time of the last pointer-down
type PointerDown struct {
	X  float64
	Y  float64
	At time.Time
}

// Session is the transient engagement state of one card. The zero value is the
// reset state; a session is open while StartTime is set.
type Session struct {
	StartTime    time.Time
	LastPosition Point
	Accumulated  Distance
	Down         *PointerDown
}

// Open reports whether the session has been opened by a pointer-enter
func (s Session) Open() bool {
	return !s.StartTime.IsZero()
}

// Reset returns the closed state
func (s Session) Reset() Session {
	return Session{}
}

// Enter opens the session at p. An already open session is returned unchanged.
func (s Session) Enter(p Point, now time.Time) Session {
	if s.Open() {
		return s
	}
	s.StartTime = now
	s.LastPosition = p
	s.Accumulated = Distance{}
	return s
}

// Move accumulates the absolute per-axis delta from the last position
func (s Session) Move(p Point) Session {
	if !s.Open() {
		return s
	}
	s.Accumulated.X += math.Abs(p.X - s.LastPosition.X)
	s.Accumulated.Y += math.Abs(p.Y - s.LastPosition.Y)
	s.LastPosition = p
	return s
}

// Press records a pointer-down, replacing any earlier one
func (s Session) Press(p Point, now time.Time) Session {
	s.Down = &PointerDown{X: p.X, Y: p.Y, At: now}
	return s
}

// Classify builds the engagement event for an open session and returns it with the
// reset state. A nil sel classifies as TypeTime, any non-nil sel as TypeInteraction.
// A closed session yields no event and is returned unchanged.
func (s Session) Classify(subject Suggestion, now time.Time, topOffset float64, sel *Selection) (*Event, Session) {
	if !s.Open() {
		return nil, s
	}

	ev := &Event{
		SubjectID:              subject.ID,
		Suggestion:             subject,
		OccurredAt:             now,
		DurationMs:             now.Sub(s.StartTime).Milliseconds(),
		ScrollDistanceAtEngage: math.Max(0, topOffset-s.LastPosition.Y),
		Type:                   TypeTime,
		TotalDistanceTraveled:  s.Accumulated,
	}
	if sel != nil {
		ev.Type = TypeInteraction
		if sel.X != 0 && sel.Y != 0 {
			payload := *sel
			ev.SelectionDistanceTraveled = &payload
		}
	}

	return ev, s.Reset()
}
