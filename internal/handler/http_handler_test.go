package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/engagement/internal/enricher"
	"github.com/gosight/engagement/internal/validation"
)

type fakeProducer struct {
	keys    []string
	records []*enricher.PointerRecord
	err     error
}

func (p *fakeProducer) ProducePointer(_ context.Context, sessionID string, event interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, sessionID)
	p.records = append(p.records, event.(*enricher.PointerRecord))
	return nil
}

type fakeValidator struct {
	keyErr  error
	limited bool
}

func (v *fakeValidator) ValidateAPIKey(_ context.Context, apiKey string) (string, error) {
	if v.keyErr != nil {
		return "", v.keyErr
	}
	return "project-" + apiKey, nil
}

func (v *fakeValidator) CheckRateLimit(_ context.Context, _ string) bool {
	return !v.limited
}

func (v *fakeValidator) ValidateEvent(event map[string]interface{}) error {
	return (&validation.Validator{}).ValidateEvent(event)
}

const batch = `{
	"project_key": "key",
	"session_id": "sess-1",
	"user_id": "u1",
	"events": [
		{"type": "pointer_enter", "timestamp": 1700000000000, "payload": {"x": 1, "y": 2, "suggestion": {"id": "s1"}}},
		{"type": "click", "timestamp": 1700000000100},
		{"event_id": "fixed", "type": "pointer_leave", "timestamp": 1700000004000, "payload": {"suggestion_id": "s1"}}
	]
}`

func serve(t *testing.T, h *HTTPHandler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewRouter(h, 0).ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) EventResponse {
	t.Helper()
	var resp EventResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandlePointer_AcceptsValidRecords(t *testing.T) {
	prod := &fakeProducer{}
	h := NewHTTPHandler(prod, &fakeValidator{}, enricher.NewEnricher(""))

	req := httptest.NewRequest(http.MethodPost, "/v1/pointer", strings.NewReader(batch))
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := serve(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, 2, resp.AcceptedCount)
	assert.Equal(t, 1, resp.RejectedCount)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "click")

	require.Len(t, prod.records, 2)
	assert.Equal(t, []string{"sess-1", "sess-1"}, prod.keys)

	first := prod.records[0]
	assert.Equal(t, "project-key", first.ProjectID)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "u1", first.UserID)
	assert.NotEmpty(t, first.EventID)
	assert.Equal(t, "Chrome", first.Browser)
	assert.Equal(t, "203.0.113.7", first.ClientIP)
	assert.Equal(t, "fixed", prod.records[1].EventID)
}

func TestHandlePointer_ProjectKeyHeader(t *testing.T) {
	prod := &fakeProducer{}
	h := NewHTTPHandler(prod, &fakeValidator{}, enricher.NewEnricher(""))

	body := `{"session_id": "s", "events": [{"type": "session_end"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/pointer", strings.NewReader(body))
	req.Header.Set("X-Project-Key", "hdr")
	rec := serve(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, prod.records, 1)
	assert.Equal(t, "project-hdr", prod.records[0].ProjectID)
}

func TestHandlePointer_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		validator *fakeValidator
		producer  *fakeProducer
		want      int
	}{
		{"invalid json", `{`, &fakeValidator{}, &fakeProducer{}, http.StatusBadRequest},
		{"missing session", `{"project_key": "k", "events": []}`, &fakeValidator{}, &fakeProducer{}, http.StatusBadRequest},
		{"invalid key", batch, &fakeValidator{keyErr: validation.ErrInvalidAPIKey}, &fakeProducer{}, http.StatusUnauthorized},
		{"key lookup down", batch, &fakeValidator{keyErr: errors.New("postgres down")}, &fakeProducer{}, http.StatusServiceUnavailable},
		{"rate limited", batch, &fakeValidator{limited: true}, &fakeProducer{}, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHTTPHandler(tt.producer, tt.validator, enricher.NewEnricher(""))
			req := httptest.NewRequest(http.MethodPost, "/v1/pointer", strings.NewReader(tt.body))
			rec := serve(t, h, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, tt.producer.records)
		})
	}
}

func TestHandlePointer_ProducerFailure(t *testing.T) {
	prod := &fakeProducer{err: errors.New("kafka unavailable")}
	h := NewHTTPHandler(prod, &fakeValidator{}, enricher.NewEnricher(""))

	req := httptest.NewRequest(http.MethodPost, "/v1/pointer", strings.NewReader(batch))
	rec := serve(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Zero(t, resp.AcceptedCount)
	assert.Equal(t, 3, resp.RejectedCount)
}

func TestRouter_HealthMetricsAndCORS(t *testing.T) {
	h := NewHTTPHandler(&fakeProducer{}, &fakeValidator{}, enricher.NewEnricher(""))

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = serve(t, h, httptest.NewRequest(http.MethodOptions, "/v1/pointer", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_PerIPRateLimit(t *testing.T) {
	prod := &fakeProducer{}
	router := NewRouter(NewHTTPHandler(prod, &fakeValidator{}, enricher.NewEnricher("")), 2)
	body := `{"project_key": "k", "session_id": "s", "events": [{"type": "session_end"}]}`

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/pointer", strings.NewReader(body))
		req.RemoteAddr = "198.51.100.9:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Len(t, prod.records, 2)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.9:5000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "health is not limited")
}
