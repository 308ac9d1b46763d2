// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OverlayUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_overlay_updates_total",
		Help: "Annotation updates offered to the debouncer, by outcome (armed, suppressed)",
	}, []string{"outcome"})

	OverlayReconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twin_overlay_reconciliations_total",
		Help: "Annotation extension reload cycles completed",
	})

	OverlayPending = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twin_overlay_pending_total",
		Help: "Reconciliations deferred because the scene was not ready",
	})

	SceneFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_scene_failures_total",
		Help: "Scene collaborator failures, by operation",
	}, []string{"op"})

	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_poll_ticks_total",
		Help: "Poll ticks, by poller and result (ok, skipped)",
	}, []string{"poller", "result"})

	IngestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twin_ingest_messages_total",
		Help: "MQTT messages ingested, by result (ok, unrouted, error)",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
