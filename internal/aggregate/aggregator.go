package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/engagement/internal/config"
	"github.com/gosight/engagement/internal/storage"
)

const keyPrefix = "engagement:"

var counterFields = []string{"interactions", "time_engagements", "selections", "total_duration_ms"}

// StatsWriter persists flushed suggestion aggregates
type StatsWriter interface {
	UpsertSuggestionStats(ctx context.Context, stats storage.SuggestionStatsRow) error
}

// Aggregator counts engagements per suggestion in Redis
type Aggregator struct {
	writer StatsWriter
	redis  *redis.Client
	ttl    time.Duration
}

// NewAggregator creates a new suggestion aggregator
func NewAggregator(writer StatsWriter, redisCfg config.RedisConfig) *Aggregator {
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	return &Aggregator{
		writer: writer,
		redis:  rdb,
		ttl:    redisCfg.StatsTTL,
	}
}

func statsKey(projectID, suggestionID string) string {
	return keyPrefix + projectID + ":" + suggestionID
}

// Record adds one engagement to its suggestion's counters
func (a *Aggregator) Record(ctx context.Context, row storage.EngagementRow) error {
	if a.redis == nil {
		return nil
	}

	key := statsKey(row.ProjectID, row.SuggestionID)
	ts := row.Timestamp.UnixMilli()

	pipe := a.redis.Pipeline()

	switch row.EngagementType {
	case "interaction":
		pipe.HIncrBy(ctx, key, "interactions", 1)
	case "time":
		pipe.HIncrBy(ctx, key, "time_engagements", 1)
	}
	if row.SelectionX != nil {
		pipe.HIncrBy(ctx, key, "selections", 1)
	}
	pipe.HIncrBy(ctx, key, "total_duration_ms", int64(row.DurationMs))
	pipe.HSet(ctx, key, "last_engaged_at", ts)

	// Ids are stored in the hash because suggestion ids are often URLs and
	// cannot be split back out of the key.
	pipe.HSetNX(ctx, key, "project_id", row.ProjectID)
	pipe.HSetNX(ctx, key, "suggestion_id", row.SuggestionID)
	pipe.HSetNX(ctx, key, "first_engaged_at", ts)

	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("suggestion_id", row.SuggestionID).Msg("Failed to record engagement in Redis")
		return fmt.Errorf("record engagement: %w", err)
	}
	return nil
}

// Stats returns the current counters of a suggestion
func (a *Aggregator) Stats(ctx context.Context, projectID, suggestionID string) (storage.SuggestionStatsRow, bool, error) {
	data, err := a.redis.HGetAll(ctx, statsKey(projectID, suggestionID)).Result()
	if err != nil {
		return storage.SuggestionStatsRow{}, false, err
	}
	if len(data) == 0 {
		return storage.SuggestionStatsRow{}, false, nil
	}
	return parseStats(data), true, nil
}

// Flush writes a suggestion's counters and removes them from Redis
func (a *Aggregator) Flush(ctx context.Context, projectID, suggestionID string) error {
	return a.flushKey(ctx, statsKey(projectID, suggestionID))
}

// flushKey takes the counters out of Redis in one transaction, so engagements
// recorded while the write is in flight start a fresh hash. A failed write
// merges the taken counters back.
func (a *Aggregator) flushKey(ctx context.Context, key string) error {
	if a.redis == nil || a.writer == nil {
		return nil
	}

	var taken *redis.MapStringStringCmd
	if _, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		taken = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	}); err != nil {
		return fmt.Errorf("take stats for %s: %w", key, err)
	}

	data := taken.Val()
	if len(data) == 0 {
		return nil
	}

	if err := a.writer.UpsertSuggestionStats(ctx, parseStats(data)); err != nil {
		if rerr := a.restore(ctx, key, data); rerr != nil {
			log.Error().Err(rerr).Str("key", strings.TrimPrefix(key, keyPrefix)).Msg("Failed to restore suggestion stats, counters lost")
			err = errors.Join(err, rerr)
		}
		return fmt.Errorf("upsert stats for %s: %w", key, err)
	}
	return nil
}

func (a *Aggregator) restore(ctx context.Context, key string, data map[string]string) error {
	pipe := a.redis.Pipeline()
	for _, field := range counterFields {
		if n, err := strconv.ParseInt(data[field], 10, 64); err == nil && n != 0 {
			pipe.HIncrBy(ctx, key, field, n)
		}
	}
	// The taken hash is older than anything recorded since.
	if v, ok := data["first_engaged_at"]; ok {
		pipe.HSet(ctx, key, "first_engaged_at", v)
	}
	for _, field := range []string{"project_id", "suggestion_id", "last_engaged_at"} {
		if v, ok := data[field]; ok {
			pipe.HSetNX(ctx, key, field, v)
		}
	}
	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func parseStats(data map[string]string) storage.SuggestionStatsRow {
	stats := storage.SuggestionStatsRow{
		ProjectID:    data["project_id"],
		SuggestionID: data["suggestion_id"],
	}
	stats.Interactions = parseUint32(data["interactions"])
	stats.TimeEngagements = parseUint32(data["time_engagements"])
	stats.Selections = parseUint32(data["selections"])
	if v, err := strconv.ParseUint(data["total_duration_ms"], 10, 64); err == nil {
		stats.TotalDurationMs = v
	}
	if ms, err := strconv.ParseInt(data["first_engaged_at"], 10, 64); err == nil {
		stats.FirstEngagedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(data["last_engaged_at"], 10, 64); err == nil {
		stats.LastEngagedAt = time.UnixMilli(ms)
	}
	return stats
}

func parseUint32(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// FlushAll flushes every pending suggestion aggregate
func (a *Aggregator) FlushAll(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}

	iter := a.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	flushed := 0
	for iter.Next(ctx) {
		key := iter.Val()
		if err := a.flushKey(ctx, key); err != nil {
			log.Error().Err(err).Str("key", strings.TrimPrefix(key, keyPrefix)).Msg("Failed to flush suggestion stats")
			continue
		}
		flushed++
	}
	if err := iter.Err(); err != nil {
		return err
	}

	log.Info().Int("count", flushed).Msg("Flushed suggestion stats")
	return nil
}

// Close closes the aggregator
func (a *Aggregator) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
