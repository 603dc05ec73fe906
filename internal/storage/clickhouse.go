package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/gosight/engagement/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// EngagementRow represents a row in the suggestion_engagements table
type EngagementRow struct {
	EngagementID    string
	ProjectID       string
	SessionID       string
	UserID          string
	SuggestionID    string
	SuggestionURL   string
	SuggestionTitle string
	Context         []string
	Timestamp       time.Time
	EngagementType  string
	DurationMs      uint64
	ScrollDistance  float64
	TotalDistanceX  float64
	TotalDistanceY  float64
	SelectionX      *float64
	SelectionY      *float64
	SelectedText    *string
	TriggerEventID  string
	Browser         string
	OS              string
	DeviceType      string
	Country         string
}

// SuggestionStatsRow represents a row in the suggestion_engagement_stats table
type SuggestionStatsRow struct {
	ProjectID       string
	SuggestionID    string
	Interactions    uint32
	TimeEngagements uint32
	Selections      uint32
	TotalDurationMs uint64
	FirstEngagedAt  time.Time
	LastEngagedAt   time.Time
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping clickhouse %s: %w", cfg.Addr, err)
	}

	return &ClickHouse{conn: conn}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS suggestion_engagements (
		engagement_id String,
		project_id String,
		session_id String,
		user_id String,
		suggestion_id String,
		suggestion_url String,
		suggestion_title String,
		context Array(String),
		timestamp DateTime64(3),
		engagement_type LowCardinality(String),
		duration_ms UInt64,
		scroll_distance Float64,
		total_distance_x Float64,
		total_distance_y Float64,
		selection_x Nullable(Float64),
		selection_y Nullable(Float64),
		selected_text Nullable(String),
		trigger_event_id String,
		browser LowCardinality(String),
		os LowCardinality(String),
		device_type LowCardinality(String),
		country LowCardinality(String)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (project_id, suggestion_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS suggestion_engagement_stats (
		project_id String,
		suggestion_id String,
		interactions UInt32,
		time_engagements UInt32,
		selections UInt32,
		total_duration_ms UInt64,
		first_engaged_at SimpleAggregateFunction(min, DateTime64(3)),
		last_engaged_at SimpleAggregateFunction(max, DateTime64(3))
	) ENGINE = SummingMergeTree
	ORDER BY (project_id, suggestion_id)`,
}

// EnsureSchema creates the engagement tables if they do not exist
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (c *ClickHouse) InsertEngagements(ctx context.Context, rows []EngagementRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO suggestion_engagements (
			engagement_id, project_id, session_id, user_id,
			suggestion_id, suggestion_url, suggestion_title, context,
			timestamp, engagement_type, duration_ms, scroll_distance,
			total_distance_x, total_distance_y, selection_x, selection_y, selected_text,
			trigger_event_id, browser, os, device_type, country
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare engagements batch: %w", err)
	}

	for _, r := range rows {
		err := batch.Append(
			r.EngagementID, r.ProjectID, r.SessionID, r.UserID,
			r.SuggestionID, r.SuggestionURL, r.SuggestionTitle, r.Context,
			r.Timestamp, r.EngagementType, r.DurationMs, r.ScrollDistance,
			r.TotalDistanceX, r.TotalDistanceY, r.SelectionX, r.SelectionY, r.SelectedText,
			r.TriggerEventID, r.Browser, r.OS, r.DeviceType, r.Country,
		)
		if err != nil {
			return fmt.Errorf("append engagement %s: %w", r.EngagementID, err)
		}
	}

	return batch.Send()
}

// UpsertSuggestionStats writes an aggregate row. The table is a SummingMergeTree keyed
// by (project_id, suggestion_id), so repeated flushes add up.
func (c *ClickHouse) UpsertSuggestionStats(ctx context.Context, stats SuggestionStatsRow) error {
	return c.conn.Exec(ctx, `
		INSERT INTO suggestion_engagement_stats (
			project_id, suggestion_id,
			interactions, time_engagements, selections, total_duration_ms,
			first_engaged_at, last_engaged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stats.ProjectID, stats.SuggestionID,
		stats.Interactions, stats.TimeEngagements, stats.Selections, stats.TotalDurationMs,
		stats.FirstEngagedAt, stats.LastEngagedAt,
	)
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
