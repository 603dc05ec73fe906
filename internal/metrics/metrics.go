// Package metrics provides Prometheus metrics for the engagement pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No session, suggestion or project ids in labels.

var (
	// PointerEventsTotal counts pointer records routed to trackers, by kind and result.
	PointerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_pointer_events_total",
		Help: "Total number of pointer records dispatched to card trackers, by kind and result.",
	}, []string{"kind", "result"})

	// EngagementsTotal counts emitted engagement events by type.
	EngagementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_events_total",
		Help: "Total number of engagement events emitted, by engagement type.",
	}, []string{"type"})

	// SelectionsTotal counts interaction events that carried a selection payload.
	SelectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_selections_total",
		Help: "Total number of interaction engagements carrying a selection payload.",
	})

	// ActiveTrackers tracks the number of live card trackers.
	ActiveTrackers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engagement_active_trackers",
		Help: "Current number of card trackers held by the registry.",
	})

	// EvictedTrackersTotal counts trackers dropped for inactivity or session end.
	EvictedTrackersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_evicted_trackers_total",
		Help: "Total number of card trackers dropped, by reason.",
	}, []string{"reason"})

	// FlushTotal counts storage flushes by table and result.
	FlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_flush_total",
		Help: "Total number of storage flushes, by table and result.",
	}, []string{"table", "result"})

	// IngestedTotal counts pointer records accepted or rejected at ingest.
	IngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_ingested_total",
		Help: "Total number of pointer records received by the ingestor, by result.",
	}, []string{"result"})
)
