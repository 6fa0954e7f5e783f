// Package metrics exposes Prometheus instrumentation for the engagement
// engine. Counters are registered on the default registry and served by the
// promhttp handler mounted at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts accepted engagement events by type.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_events_ingested_total",
		Help: "Accepted engagement events by event type.",
	}, []string{"event_type"})

	// ValidationFailures counts rejected event submissions by reason code.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_validation_failures_total",
		Help: "Rejected event submissions by reason code.",
	}, []string{"code"})

	// OutOfOrderAnomalies counts events accepted out of server-timestamp order.
	OutOfOrderAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_out_of_order_anomalies_total",
		Help: "Events accepted with a server timestamp preceding the session's last processed event.",
	})

	// SessionsClosed counts closed sessions by terminal state.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_sessions_closed_total",
		Help: "Sessions closed by terminal state (completed, abandoned).",
	}, []string{"state"})

	// SessionsSwept counts idle sessions force-closed by the sweeper.
	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_sessions_swept_total",
		Help: "Idle sessions force-closed as abandoned by the background sweep.",
	})

	// OpenSessions tracks currently open in-memory session records.
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engagement_open_sessions",
		Help: "Currently open viewing sessions.",
	})

	// ReconcileLookups counts authoritative duration lookups by outcome.
	ReconcileLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_reconcile_lookups_total",
		Help: "Authoritative duration lookups by outcome (ok, failed).",
	}, []string{"outcome"})

	// DiscrepanciesFlagged counts duration discrepancies upserted.
	DiscrepanciesFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_duration_discrepancies_flagged_total",
		Help: "Duration discrepancies flagged above the significance threshold.",
	})

	// SnapshotRebuilds counts full snapshot rebuilds.
	SnapshotRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_snapshot_rebuilds_total",
		Help: "Full per-video snapshot rebuilds from the event log.",
	})
)
