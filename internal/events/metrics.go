package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultApplied = "applied"
	resultIgnored = "ignored"
	resultError   = "error"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workspace_events_total",
		Help: "Pushed events by type and dispatch result",
	}, []string{"type", "result"})

	eventApplySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workspace_event_apply_seconds",
		Help:    "Time spent applying a pushed event to the caches",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
	}, []string{"type"})

	wsReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workspace_ws_reconnects_total",
		Help: "WebSocket connection attempts after the first",
	})
)
