package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/engagement/internal/storage"
)

type fakeWriter struct {
	rows   []storage.SuggestionStatsRow
	err    error
	during func() // runs inside the write
}

func (w *fakeWriter) UpsertSuggestionStats(_ context.Context, stats storage.SuggestionStatsRow) error {
	if w.during != nil {
		w.during()
	}
	if w.err != nil {
		return w.err
	}
	w.rows = append(w.rows, stats)
	return nil
}

func setupAggregator(t *testing.T) (*miniredis.Miniredis, *Aggregator, *fakeWriter) {
	t.Helper()

	mr := miniredis.RunT(t)
	w := &fakeWriter{}
	agg := &Aggregator{
		writer: w,
		redis:  redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		ttl:    time.Hour,
	}
	t.Cleanup(func() { _ = agg.Close() })
	return mr, agg, w
}

func row(suggestion, kind string, durationMs uint64, at time.Time, selection bool) storage.EngagementRow {
	r := storage.EngagementRow{
		ProjectID:      "proj",
		SuggestionID:   suggestion,
		EngagementType: kind,
		DurationMs:     durationMs,
		Timestamp:      at,
	}
	if selection {
		x := 10.0
		r.SelectionX = &x
	}
	return r
}

func TestAggregator_RecordAndStats(t *testing.T) {
	mr, agg, _ := setupAggregator(t)
	ctx := context.Background()
	t0 := time.UnixMilli(1700000000000)

	require.NoError(t, agg.Record(ctx, row("https://example.com/a", "interaction", 500, t0, true)))
	require.NoError(t, agg.Record(ctx, row("https://example.com/a", "interaction", 700, t0.Add(time.Second), false)))
	require.NoError(t, agg.Record(ctx, row("https://example.com/a", "time", 4000, t0.Add(2*time.Second), false)))

	stats, ok, err := agg.Stats(ctx, "proj", "https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "proj", stats.ProjectID)
	assert.Equal(t, "https://example.com/a", stats.SuggestionID)
	assert.Equal(t, uint32(2), stats.Interactions)
	assert.Equal(t, uint32(1), stats.TimeEngagements)
	assert.Equal(t, uint32(1), stats.Selections)
	assert.Equal(t, uint64(5200), stats.TotalDurationMs)
	assert.Equal(t, t0.UnixMilli(), stats.FirstEngagedAt.UnixMilli())
	assert.Equal(t, t0.Add(2*time.Second).UnixMilli(), stats.LastEngagedAt.UnixMilli())

	assert.Equal(t, time.Hour, mr.TTL("engagement:proj:https://example.com/a"))
}

func TestAggregator_StatsMissing(t *testing.T) {
	_, agg, _ := setupAggregator(t)

	_, ok, err := agg.Stats(context.Background(), "proj", "none")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAggregator_FlushWritesAndDeletes(t *testing.T) {
	mr, agg, w := setupAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Record(ctx, row("a", "time", 3500, time.UnixMilli(1), false)))
	require.NoError(t, agg.Flush(ctx, "proj", "a"))

	require.Len(t, w.rows, 1)
	assert.Equal(t, uint32(1), w.rows[0].TimeEngagements)
	assert.False(t, mr.Exists("engagement:proj:a"))

	require.NoError(t, agg.Flush(ctx, "proj", "a"))
	assert.Len(t, w.rows, 1, "nothing left to flush")
}

func TestAggregator_FlushKeepsDataOnWriteError(t *testing.T) {
	mr, agg, w := setupAggregator(t)
	ctx := context.Background()
	w.err = errors.New("clickhouse down")

	require.NoError(t, agg.Record(ctx, row("a", "interaction", 10, time.UnixMilli(1), false)))

	assert.Error(t, agg.Flush(ctx, "proj", "a"))
	assert.True(t, mr.Exists("engagement:proj:a"))

	stats, ok, err := agg.Stats(ctx, "proj", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), stats.Interactions)
	assert.Equal(t, uint64(10), stats.TotalDurationMs)
	assert.Equal(t, time.Hour, mr.TTL("engagement:proj:a"))
}

func TestAggregator_FlushKeepsConcurrentRecords(t *testing.T) {
	mr, agg, w := setupAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Record(ctx, row("a", "interaction", 10, time.UnixMilli(1), false)))
	w.during = func() {
		require.NoError(t, agg.Record(ctx, row("a", "time", 3200, time.UnixMilli(5), false)))
	}

	require.NoError(t, agg.Flush(ctx, "proj", "a"))
	require.Len(t, w.rows, 1)
	assert.Equal(t, uint32(1), w.rows[0].Interactions)
	assert.Zero(t, w.rows[0].TimeEngagements)

	require.True(t, mr.Exists("engagement:proj:a"))
	stats, ok, err := agg.Stats(ctx, "proj", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, stats.Interactions)
	assert.Equal(t, uint32(1), stats.TimeEngagements)
	assert.Equal(t, uint64(3200), stats.TotalDurationMs)
}

func TestAggregator_FailedFlushMergesWithConcurrentRecords(t *testing.T) {
	_, agg, w := setupAggregator(t)
	ctx := context.Background()
	w.err = errors.New("clickhouse down")

	require.NoError(t, agg.Record(ctx, row("a", "interaction", 10, time.UnixMilli(1000), true)))
	w.during = func() {
		require.NoError(t, agg.Record(ctx, row("a", "interaction", 20, time.UnixMilli(9000), false)))
	}

	require.Error(t, agg.Flush(ctx, "proj", "a"))

	stats, ok, err := agg.Stats(ctx, "proj", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2), stats.Interactions)
	assert.Equal(t, uint32(1), stats.Selections)
	assert.Equal(t, uint64(30), stats.TotalDurationMs)
	assert.Equal(t, int64(1000), stats.FirstEngagedAt.UnixMilli())
	assert.Equal(t, int64(9000), stats.LastEngagedAt.UnixMilli())
	assert.Equal(t, "proj", stats.ProjectID)
}

func TestAggregator_FlushAll(t *testing.T) {
	mr, agg, w := setupAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.Record(ctx, row("a", "interaction", 10, time.UnixMilli(1), false)))
	require.NoError(t, agg.Record(ctx, row("b", "time", 3100, time.UnixMilli(2), false)))
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, agg.FlushAll(ctx))

	assert.Len(t, w.rows, 2)
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}
