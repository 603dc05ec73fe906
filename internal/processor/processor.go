package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/engagement/internal/config"
	"github.com/gosight/engagement/internal/engagement"
	"github.com/gosight/engagement/internal/metrics"
	"github.com/gosight/engagement/internal/storage"
	"github.com/gosight/engagement/internal/surface"
	"github.com/gosight/engagement/internal/transformer"
)

// EngagementStore persists engagement rows
type EngagementStore interface {
	InsertEngagements(ctx context.Context, rows []storage.EngagementRow) error
}

// EngagementPublisher forwards engagement events downstream
type EngagementPublisher interface {
	ProduceEngagement(ctx context.Context, suggestionID string, event interface{}) error
}

// StatsRecorder maintains per-suggestion aggregates
type StatsRecorder interface {
	Record(ctx context.Context, row storage.EngagementRow) error
}

// Message is the engagement record published to Kafka
type Message struct {
	EngagementID string `json:"engagement_id"`
	ProjectID    string `json:"project_id"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id,omitempty"`
	engagement.Event
	PublishedAt int64 `json:"published_at"`
}

// EngagementProcessor replays pointer records from Kafka into card trackers and
// writes the engagements they emit to ClickHouse, Kafka and Redis
type EngagementProcessor struct {
	registry  *surface.Registry
	store     EngagementStore
	publisher EngagementPublisher
	stats     StatsRecorder
	batchCfg  config.BatchConfig
	idleTTL   time.Duration

	mu      sync.Mutex
	emitted []surface.Engaged
	buffer  []storage.EngagementRow

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

// NewEngagementProcessor creates a new processor. publisher and stats may be nil.
func NewEngagementProcessor(store EngagementStore, publisher EngagementPublisher, stats StatsRecorder, batchCfg config.BatchConfig, engCfg config.EngagementConfig) *EngagementProcessor {
	p := &EngagementProcessor{
		store:     store,
		publisher: publisher,
		stats:     stats,
		batchCfg:  batchCfg,
		idleTTL:   engCfg.TrackerIdleTTL,
		buffer:    make([]storage.EngagementRow, 0, batchCfg.Size),
		done:      make(chan struct{}),
	}
	p.registry = surface.NewRegistry(engCfg.Thresholds(), p.collect)

	p.ticker = time.NewTicker(batchCfg.FlushInterval)
	go p.flushLoop()

	return p
}

// collect runs inside Registry.Dispatch with the registry locked
func (p *EngagementProcessor) collect(e surface.Engaged) {
	p.mu.Lock()
	p.emitted = append(p.emitted, e)
	p.mu.Unlock()
}

// Process handles a single pointer record
func (p *EngagementProcessor) Process(ctx context.Context, raw map[string]interface{}) error {
	ev, err := transformer.ParsePointerEvent(raw)
	if errors.Is(err, transformer.ErrUnsupportedType) {
		// The topic is shared with other SDK events
		return nil
	}
	if err != nil {
		return err
	}

	p.registry.Dispatch(ev)

	p.mu.Lock()
	emitted := p.emitted
	p.emitted = nil
	p.mu.Unlock()

	for _, e := range emitted {
		p.handleEngagement(ctx, e)
	}

	p.mu.Lock()
	shouldFlush := len(p.buffer) >= p.batchCfg.Size
	p.mu.Unlock()

	if shouldFlush {
		p.Flush()
	}
	return nil
}

func (p *EngagementProcessor) handleEngagement(ctx context.Context, e surface.Engaged) {
	row := transformer.EngagementRow(e)

	metrics.EngagementsTotal.WithLabelValues(string(e.Event.Type)).Inc()
	if row.SelectionX != nil {
		metrics.SelectionsTotal.Inc()
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, row)
	p.mu.Unlock()

	if p.publisher != nil {
		msg := Message{
			EngagementID: row.EngagementID,
			ProjectID:    e.ProjectID,
			SessionID:    e.SessionID,
			UserID:       e.UserID,
			Event:        e.Event,
			PublishedAt:  time.Now().UnixMilli(),
		}
		if err := p.publisher.ProduceEngagement(ctx, e.SuggestionID, msg); err != nil {
			log.Error().Err(err).Str("suggestion_id", e.SuggestionID).Msg("Failed to publish engagement")
		}
	}

	if p.stats != nil {
		if err := p.stats.Record(ctx, row); err != nil {
			log.Warn().Err(err).Str("suggestion_id", e.SuggestionID).Msg("Failed to record suggestion stats")
		}
	}

	log.Debug().
		Str("type", string(e.Event.Type)).
		Str("session_id", e.SessionID).
		Str("suggestion_id", e.SuggestionID).
		Int64("duration_ms", e.Event.DurationMs).
		Msg("Suggestion engaged")
}

func (p *EngagementProcessor) flushLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.Flush()
			p.evictIdle()
		}
	}
}

func (p *EngagementProcessor) evictIdle() {
	if p.idleTTL <= 0 {
		return
	}
	if n := p.registry.Evict(p.idleTTL); n > 0 {
		log.Info().Int("count", n).Dur("idle_ttl", p.idleTTL).Msg("Evicted idle card trackers")
	}
}

// Flush writes buffered engagements to ClickHouse
func (p *EngagementProcessor) Flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	rows := p.buffer
	p.buffer = make([]storage.EngagementRow, 0, p.batchCfg.Size)
	p.mu.Unlock()

	start := time.Now()
	if err := p.store.InsertEngagements(context.Background(), rows); err != nil {
		metrics.FlushTotal.WithLabelValues("suggestion_engagements", "error").Inc()
		log.Error().Err(err).Int("count", len(rows)).Msg("Failed to insert engagements")
		return
	}

	metrics.FlushTotal.WithLabelValues("suggestion_engagements", "ok").Inc()
	log.Info().
		Int("count", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Flushed engagements to ClickHouse")
}

// Trackers returns the number of live card trackers
func (p *EngagementProcessor) Trackers() int {
	return p.registry.Len()
}

// Stop stops the processor and flushes what is buffered
func (p *EngagementProcessor) Stop() {
	p.stopOnce.Do(func() {
		p.ticker.Stop()
		close(p.done)
		p.Flush()
	})
}
