// Package surface is the server-side host for card trackers. Browser SDKs forward
// the pointer activity of every rendered suggestion card; the registry keeps one
// engagement.Tracker per card and replays each record into it, standing in for the
// rendered element: the tracker's clock reads the record's timestamp and the element
// offset and text selection come from the record itself. Idle eviction runs on the
// server's clock, so skewed browser clocks cannot age out live cards.
package surface

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/engagement/internal/engagement"
	"github.com/gosight/engagement/internal/metrics"
)

// Engaged is an engagement event together with the record that triggered it
type Engaged struct {
	Key
	UserID         string
	TriggerEventID string
	Client         Client
	Event          engagement.Event
}

// Registry routes pointer records to per-card trackers
type Registry struct {
	mu         sync.Mutex
	cards      map[Key]*card
	thresholds engagement.Thresholds
	emit       func(Engaged)
	now        func() time.Time
}

// card is one tracked suggestion and the record currently being replayed into it
type card struct {
	tracker  *engagement.Tracker
	current  PointerEvent
	lastSeen time.Time // server receive time of the latest record
}

func (c *card) now() time.Time     { return c.current.Time() }
func (c *card) TopOffset() float64 { return c.current.TopOffset }
func (c *card) SelectedText() (string, bool) {
	return c.current.SelectedText, c.current.HasSelection
}

// NewRegistry creates a registry. emit is called synchronously, with the registry
// locked, for every engagement event; it must not call back into the registry.
func NewRegistry(thresholds engagement.Thresholds, emit func(Engaged)) *Registry {
	return &Registry{
		cards:      make(map[Key]*card),
		thresholds: thresholds,
		emit:       emit,
		now:        time.Now,
	}
}

// Dispatch replays a pointer record into its card's tracker. It reports false for
// records that could not be routed; those are dropped.
func (r *Registry) Dispatch(ev PointerEvent) bool {
	if ev.Kind == KindEnd {
		r.EndSession(ev.ProjectID, ev.SessionID)
		return true
	}
	if ev.Suggestion.ID == "" {
		metrics.PointerEventsTotal.WithLabelValues(string(ev.Kind), "no_suggestion").Inc()
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ev.Key()
	c, ok := r.cards[key]
	if !ok {
		// Only enter and down can start tracking a card; down is recorded even
		// when the matching enter was lost.
		if ev.Kind != KindEnter && ev.Kind != KindDown {
			metrics.PointerEventsTotal.WithLabelValues(string(ev.Kind), "untracked").Inc()
			return false
		}
		c = r.track(key, ev.Suggestion)
	}
	c.current = ev
	c.lastSeen = r.now()

	switch ev.Kind {
	case KindEnter:
		c.tracker.OnPointerEnter(ev.X, ev.Y)
	case KindMove:
		c.tracker.OnPointerMove(ev.X, ev.Y)
	case KindDown:
		c.tracker.OnPointerDown(ev.X, ev.Y)
	case KindUp:
		c.tracker.OnPointerUp(ev.X, ev.Y)
	case KindLeave:
		c.tracker.OnPointerLeave()
	default:
		log.Warn().Str("kind", string(ev.Kind)).Str("session_id", ev.SessionID).Msg("Unknown pointer kind")
		metrics.PointerEventsTotal.WithLabelValues(string(ev.Kind), "unknown").Inc()
		return false
	}

	metrics.PointerEventsTotal.WithLabelValues(string(ev.Kind), "dispatched").Inc()
	return true
}

func (r *Registry) track(key Key, subject engagement.Suggestion) *card {
	c := &card{}
	c.tracker = engagement.NewTracker(subject, c, func(ev engagement.Event) {
		if r.emit == nil {
			return
		}
		r.emit(Engaged{
			Key:            key,
			UserID:         c.current.UserID,
			TriggerEventID: c.current.EventID,
			Client:         c.current.Client,
			Event:          ev,
		})
	}, engagement.WithClock(c.now), engagement.WithThresholds(r.thresholds))

	r.cards[key] = c
	metrics.ActiveTrackers.Inc()
	return c
}

// EndSession drops every tracker of a browser session without emitting
func (r *Registry) EndSession(projectID, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for key := range r.cards {
		if key.ProjectID == projectID && key.SessionID == sessionID {
			delete(r.cards, key)
			dropped++
		}
	}
	r.forget(dropped, "session_end")
	return dropped
}

// Evict drops trackers that have received no record for longer than idle. Open
// sessions are discarded, never classified.
func (r *Registry) Evict(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	dropped := 0
	for key, c := range r.cards {
		if c.lastSeen.Before(cutoff) {
			delete(r.cards, key)
			dropped++
		}
	}
	r.forget(dropped, "idle")
	return dropped
}

func (r *Registry) forget(n int, reason string) {
	if n == 0 {
		return
	}
	metrics.ActiveTrackers.Sub(float64(n))
	metrics.EvictedTrackersTotal.WithLabelValues(reason).Add(float64(n))
	log.Debug().Int("count", n).Str("reason", reason).Msg("Dropped card trackers")
}

// Session returns the session state of a tracked card
func (r *Registry) Session(key Key) (engagement.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[key]
	if !ok {
		return engagement.Session{}, false
	}
	return c.tracker.Session(), true
}

// Len returns the number of tracked cards
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cards)
}
