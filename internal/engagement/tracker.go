// Package engagement detects meaningful user engagement with a single suggestion card
// from the raw pointer activity delivered by the surface that renders it.
//
// A Tracker owns one session at a time. A session opens on pointer-enter and closes
// either on pointer-up, which always classifies it as an Interaction, or on
// pointer-leave, which classifies it as a Time engagement only when the pointer dwelt
// longer than the dwell limit. Each session emits at most one Event.
//
// Out-of-order and duplicate pointer events are ignored rather than reported: the
// surface forwards whatever the platform delivers, and a pointer-down may have been
// swallowed before it reached the card.
package engagement

import (
	"math"
	"time"
)

// Clock returns the current time. Trackers capture it once per pointer event.
type Clock func() time.Time

// Surface is the host element the card is rendered into
type Surface interface {
	// TopOffset returns the element's current vertical offset on the page
	TopOffset() float64
	// SelectedText returns the platform's active text selection; ok is false
	// when there is none
	SelectedText() (text string, ok bool)
}

// Sink receives emitted engagement events. A nil Sink disables emission.
type Sink func(Event)

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithThresholds replaces DefaultThresholds
func WithThresholds(th Thresholds) Option {
	return func(t *Tracker) {
		t.thresholds = th
	}
}

// Tracker runs the engagement state machine for one card. It is not safe for
// concurrent use; the surface delivers pointer events one at a time.
type Tracker struct {
	subject    Suggestion
	surface    Surface
	sink       Sink
	clock      Clock
	thresholds Thresholds
	session    Session
}

// NewTracker creates a tracker for subject. surface may be nil, in which case the
// element is treated as sitting at offset 0 with no text selection.
func NewTracker(subject Suggestion, surface Surface, sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		subject:    subject,
		surface:    surface,
		sink:       sink,
		clock:      time.Now,
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subject returns the suggestion the tracker reports on
func (t *Tracker) Subject() Suggestion {
	return t.subject
}

// Session returns a copy of the current session state
func (t *Tracker) Session() Session {
	return t.session
}

// OnPointerEnter opens a session unless one is already open
func (t *Tracker) OnPointerEnter(x, y float64) {
	t.session = t.session.Enter(Point{X: x, Y: y}, t.clock())
}

// OnPointerMove accumulates travelled distance for the open session
func (t *Tracker) OnPointerMove(x, y float64) {
	t.session = t.session.Move(Point{X: x, Y: y})
}

// OnPointerDown records where and when the pointer was pressed
func (t *Tracker) OnPointerDown(x, y float64) {
	t.session = t.session.Press(Point{X: x, Y: y}, t.clock())
}

// OnPointerUp classifies the session as an Interaction. The drag since pointer-down
// is attached as the selection payload only when it was long and far enough to be a
// text selection rather than a click.
func (t *Tracker) OnPointerUp(x, y float64) {
	down := t.session.Down
	if down == nil {
		return
	}
	now := t.clock()

	dx := math.Abs(down.X - x)
	dy := math.Abs(down.Y - y)
	held := now.Sub(down.At)

	sel := &Selection{}
	if (dx > t.thresholds.MinSelectionDistance || dy > t.thresholds.MinSelectionDistance) &&
		held > t.thresholds.MinClickDuration {
		text, ok := t.selectedText()
		sel = &Selection{X: dx, Y: dy, SelectedText: text, HasText: ok}
	}

	t.classify(now, sel)
}

// OnPointerLeave classifies the session as a Time engagement if the pointer dwelt past
// the limit, otherwise discards it.
func (t *Tracker) OnPointerLeave() {
	if !t.session.Open() {
		return
	}
	now := t.clock()

	if now.Sub(t.session.StartTime) > t.thresholds.DwellLimit {
		t.classify(now, nil)
		return
	}
	t.session = t.session.Reset()
}

// Reset discards the current session without emitting
func (t *Tracker) Reset() {
	t.session = t.session.Reset()
}

func (t *Tracker) classify(now time.Time, sel *Selection) {
	ev, next := t.session.Classify(t.subject, now, t.topOffset(), sel)
	t.session = next
	if ev != nil && t.sink != nil {
		t.sink(*ev)
	}
}

func (t *Tracker) topOffset() float64 {
	if t.surface == nil {
		return 0
	}
	return t.surface.TopOffset()
}

func (t *Tracker) selectedText() (string, bool) {
	if t.surface == nil {
		return "", false
	}
	return t.surface.SelectedText()
}
