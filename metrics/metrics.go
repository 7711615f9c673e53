// metrics/metrics.go
// Prometheus metrics updated by the executors and the stream layer,
// served at /metrics by the HTTP handler started in main.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AmendmentsTotal counts protective-leg amendments by kind
	// (stop_loss|take_profit) and result (ok|error|rejected).
	AmendmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trademgr_amendments_total",
			Help: "Order amendments submitted to the broker",
		},
		[]string{"kind", "result"},
	)

	// PollTicksTotal counts completed poll passes of the threaded executor.
	PollTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trademgr_poll_ticks_total",
			Help: "Completed polling passes",
		},
	)

	// StreamMessagesTotal counts dispatched stream messages by category
	// (quote|depth|trade|control).
	StreamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trademgr_stream_messages_total",
			Help: "Stream messages dispatched to handlers",
		},
		[]string{"category"},
	)

	// ReconnectsTotal counts successful stream reconnections.
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trademgr_stream_reconnects_total",
			Help: "Successful stream reconnections",
		},
	)

	// ManagedPositions reports how many positions are currently managed.
	ManagedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trademgr_managed_positions",
			Help: "Positions currently under management",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AmendmentsTotal,
		PollTicksTotal,
		StreamMessagesTotal,
		ReconnectsTotal,
		ManagedPositions,
	)
}
