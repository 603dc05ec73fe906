package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/engagement/internal/config"
	"github.com/gosight/engagement/internal/surface"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrInvalidEvent  = errors.New("invalid pointer event")
)

const apiKeyCacheTTL = 5 * time.Minute

type Validator struct {
	db    *pgxpool.Pool
	redis *redis.Client
	limit int
}

func NewValidator(cfg *config.Config) (*Validator, error) {
	db, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return &Validator{
		db:    db,
		redis: rdb,
		limit: cfg.RateLimit.RequestsPerSecond,
	}, nil
}

// ValidateAPIKey resolves a project key to its project id
func (v *Validator) ValidateAPIKey(ctx context.Context, apiKey string) (string, error) {
	if len(apiKey) < 12 {
		return "", fmt.Errorf("%w: bad format", ErrInvalidAPIKey)
	}

	cacheKey := "apikey:" + apiKey[:12]
	if projectID, err := v.redis.Get(ctx, cacheKey).Result(); err == nil {
		return projectID, nil
	}

	if v.db == nil {
		return "", ErrInvalidAPIKey
	}

	hash := sha256.Sum256([]byte(apiKey))
	keyHash := hex.EncodeToString(hash[:])

	var id string
	err := v.db.QueryRow(ctx, `
		SELECT project_id::text FROM api_keys
		WHERE key_hash = $1 AND is_active = true
		AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidAPIKey
	}
	if err != nil {
		return "", fmt.Errorf("lookup api key: %w", err)
	}

	v.redis.Set(ctx, cacheKey, id, apiKeyCacheTTL)

	go func() {
		_, err := v.db.Exec(context.Background(), `
			UPDATE api_keys
			SET last_used_at = NOW(), request_count = request_count + 1
			WHERE key_hash = $1
		`, keyHash)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to update api key usage")
		}
	}()

	return id, nil
}

// CheckRateLimit counts a request against the project's per-second budget.
// Requests are allowed when Redis is unavailable.
func (v *Validator) CheckRateLimit(ctx context.Context, projectID string) bool {
	key := "ratelimit:" + projectID

	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		v.redis.Expire(ctx, key, time.Second)
	}

	return count <= int64(v.limit)
}

// ValidateEvent checks that a raw SDK record is card pointer activity
func (v *Validator) ValidateEvent(event map[string]interface{}) error {
	eventType, _ := event["type"].(string)
	kind, ok := surface.KindFromType(eventType)
	if !ok {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidEvent, eventType)
	}
	if kind == surface.KindEnd {
		return nil
	}

	payload, ok := event["payload"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: %s without payload", ErrInvalidEvent, eventType)
	}
	if !hasSuggestionID(payload) {
		return fmt.Errorf("%w: %s without suggestion", ErrInvalidEvent, eventType)
	}
	if kind != surface.KindLeave {
		if _, ok := payload["x"].(float64); !ok {
			return fmt.Errorf("%w: %s without x coordinate", ErrInvalidEvent, eventType)
		}
		if _, ok := payload["y"].(float64); !ok {
			return fmt.Errorf("%w: %s without y coordinate", ErrInvalidEvent, eventType)
		}
	}
	return nil
}

func hasSuggestionID(payload map[string]interface{}) bool {
	if id, _ := payload["suggestion_id"].(string); id != "" {
		return true
	}
	s, ok := payload["suggestion"].(map[string]interface{})
	if !ok {
		return false
	}
	id, _ := s["id"].(string)
	url, _ := s["url"].(string)
	return id != "" || url != ""
}

func (v *Validator) Close() {
	if v.db != nil {
		v.db.Close()
	}
	if v.redis != nil {
		v.redis.Close()
	}
}
