package validation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupValidator(t *testing.T, limit int) (*miniredis.Miniredis, *Validator) {
	t.Helper()
	mr := miniredis.RunT(t)
	v := &Validator{
		redis: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		limit: limit,
	}
	t.Cleanup(v.Close)
	return mr, v
}

func TestValidateAPIKey_Cached(t *testing.T) {
	mr, v := setupValidator(t, 10)
	require.NoError(t, mr.Set("apikey:gs_live_abcd", "project-1"))

	id, err := v.ValidateAPIKey(context.Background(), "gs_live_abcd1234567890")
	require.NoError(t, err)
	assert.Equal(t, "project-1", id)
}

func TestValidateAPIKey_Rejects(t *testing.T) {
	_, v := setupValidator(t, 10)

	_, err := v.ValidateAPIKey(context.Background(), "short")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = v.ValidateAPIKey(context.Background(), "gs_live_unknown_key")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestCheckRateLimit(t *testing.T) {
	mr, v := setupValidator(t, 2)
	ctx := context.Background()

	assert.True(t, v.CheckRateLimit(ctx, "p"))
	assert.True(t, v.CheckRateLimit(ctx, "p"))
	assert.False(t, v.CheckRateLimit(ctx, "p"))
	assert.True(t, v.CheckRateLimit(ctx, "other"))

	mr.FastForward(2 * time.Second)
	assert.True(t, v.CheckRateLimit(ctx, "p"))
}

func TestCheckRateLimit_AllowsWhenRedisDown(t *testing.T) {
	mr, v := setupValidator(t, 1)
	mr.Close()

	assert.True(t, v.CheckRateLimit(context.Background(), "p"))
	assert.True(t, v.CheckRateLimit(context.Background(), "p"))
}

func TestValidateEvent(t *testing.T) {
	suggestion := map[string]interface{}{"id": "s1"}
	tests := []struct {
		name    string
		event   map[string]interface{}
		wantErr bool
	}{
		{
			name:  "enter",
			event: map[string]interface{}{"type": "pointer_enter", "payload": map[string]interface{}{"x": 1.0, "y": 2.0, "suggestion": suggestion}},
		},
		{
			name:  "leave needs no coordinates",
			event: map[string]interface{}{"type": "pointer_leave", "payload": map[string]interface{}{"suggestion_id": "s1"}},
		},
		{
			name:  "url identifies the card",
			event: map[string]interface{}{"type": "mouseup", "payload": map[string]interface{}{"x": 1.0, "y": 2.0, "suggestion": map[string]interface{}{"url": "https://x"}}},
		},
		{
			name:  "session end",
			event: map[string]interface{}{"type": "session_end"},
		},
		{
			name:    "unknown type",
			event:   map[string]interface{}{"type": "click"},
			wantErr: true,
		},
		{
			name:    "missing payload",
			event:   map[string]interface{}{"type": "pointer_move"},
			wantErr: true,
		},
		{
			name:    "missing suggestion",
			event:   map[string]interface{}{"type": "pointer_move", "payload": map[string]interface{}{"x": 1.0, "y": 2.0}},
			wantErr: true,
		},
		{
			name:    "missing coordinates",
			event:   map[string]interface{}{"type": "pointer_down", "payload": map[string]interface{}{"suggestion": suggestion}},
			wantErr: true,
		},
	}

	v := &Validator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateEvent(tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
