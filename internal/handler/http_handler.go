package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gosight/engagement/internal/enricher"
	"github.com/gosight/engagement/internal/metrics"
	"github.com/gosight/engagement/internal/validation"
)

const maxBodyBytes = 1 << 20

type PointerProducer interface {
	ProducePointer(ctx context.Context, sessionID string, event interface{}) error
}

type EventValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (string, error)
	CheckRateLimit(ctx context.Context, projectID string) bool
	ValidateEvent(event map[string]interface{}) error
}

type EventEnricher interface {
	Enrich(event map[string]interface{}, userAgent, clientIP string) *enricher.PointerRecord
}

type HTTPHandler struct {
	producer  PointerProducer
	validator EventValidator
	enricher  EventEnricher
}

func NewHTTPHandler(p PointerProducer, v EventValidator, e EventEnricher) *HTTPHandler {
	return &HTTPHandler{
		producer:  p,
		validator: v,
		enricher:  e,
	}
}

// NewRouter mounts the ingest endpoints. perIPPerMinute bounds pointer
// batches per client address; zero disables the limit.
func NewRouter(h *HTTPHandler, perIPPerMinute int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		if perIPPerMinute > 0 {
			r.Use(ipRateLimit(perIPPerMinute, time.Minute))
		}
		r.Post("/v1/pointer", h.HandlePointer)
	})

	return r
}

func ipRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.IngestedTotal.WithLabelValues("rate_limited").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, EventResponse{Errors: []string{"Rate limit exceeded"}})
		}),
	)
}

type PointerBatchRequest struct {
	ProjectKey string                   `json:"project_key"`
	SessionID  string                   `json:"session_id"`
	UserID     string                   `json:"user_id"`
	Events     []map[string]interface{} `json:"events"`
}

type EventResponse struct {
	Success       bool     `json:"success"`
	AcceptedCount int      `json:"accepted_count"`
	RejectedCount int      `json:"rejected_count"`
	Errors        []string `json:"errors,omitempty"`
}

// HandlePointer accepts a batch of card pointer records from one browser session
func (h *HTTPHandler) HandlePointer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req PointerBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ProjectKey == "" {
		req.ProjectKey = r.Header.Get("X-Project-Key")
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, EventResponse{Errors: []string{"session_id is required"}})
		return
	}

	projectID, err := h.validator.ValidateAPIKey(r.Context(), req.ProjectKey)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidAPIKey) {
			writeJSON(w, http.StatusUnauthorized, EventResponse{Errors: []string{"Invalid API key"}})
			return
		}
		log.Error().Err(err).Msg("API key lookup failed")
		writeJSON(w, http.StatusServiceUnavailable, EventResponse{Errors: []string{"API key lookup failed"}})
		return
	}

	if !h.validator.CheckRateLimit(r.Context(), projectID) {
		metrics.IngestedTotal.WithLabelValues("rate_limited").Add(float64(len(req.Events)))
		writeJSON(w, http.StatusTooManyRequests, EventResponse{Errors: []string{"Rate limit exceeded"}})
		return
	}

	clientIP := clientIP(r)
	userAgent := r.Header.Get("User-Agent")

	accepted := 0
	rejected := 0
	var errs []string

	for _, event := range req.Events {
		if err := h.validator.ValidateEvent(event); err != nil {
			rejected++
			errs = append(errs, err.Error())
			metrics.IngestedTotal.WithLabelValues("invalid").Inc()
			continue
		}

		event["project_id"] = projectID
		event["session_id"] = req.SessionID
		event["user_id"] = req.UserID
		if event["event_id"] == nil {
			event["event_id"] = uuid.New().String()
		}

		rec := h.enricher.Enrich(event, userAgent, clientIP)

		if err := h.producer.ProducePointer(r.Context(), req.SessionID, rec); err != nil {
			rejected++
			errs = append(errs, err.Error())
			metrics.IngestedTotal.WithLabelValues("error").Inc()
			continue
		}
		accepted++
		metrics.IngestedTotal.WithLabelValues("accepted").Inc()
	}

	writeJSON(w, http.StatusOK, EventResponse{
		Success:       rejected == 0,
		AcceptedCount: accepted,
		RejectedCount: rejected,
		Errors:        errs,
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
