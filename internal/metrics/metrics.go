package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesFramedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_messages_framed_total",
			Help: "BMP messages successfully framed off a connection, by type.",
		},
		[]string{"msg_type"},
	)

	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_connections_total",
			Help: "Router connections accepted.",
		},
		[]string{},
	)

	ConnectionTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_connection_terminations_total",
			Help: "Connections ended, by cause.",
		},
		[]string{"cause"}, // "term_msg", "malformed", "truncated", "eof"
	)

	PeerRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_peer_records_total",
			Help: "Peer records emitted, by action.",
		},
		[]string{"action"}, // "first", "up", "down"
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bmpcollector_dispatch_duration_seconds",
			Help:    "Time to process one BMP message end to end.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"msg_type"},
	)

	RawBytesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_raw_bytes_sent_total",
			Help: "Raw BMP frame bytes forwarded to the bus.",
		},
		[]string{},
	)

	BusProduceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_bus_produce_errors_total",
			Help: "Errors producing a bus record, by action.",
		},
		[]string{"action"},
	)

	StatsReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_stats_reports_total",
			Help: "Statistics Report TLVs forwarded, by stat type.",
		},
		[]string{"stat_type"},
	)

	RouteRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpcollector_route_records_total",
			Help: "Route Monitoring NLRI changes forwarded, by action.",
		},
		[]string{"action"}, // "A", "D"
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesFramedTotal,
			ConnectionsTotal,
			ConnectionTerminationsTotal,
			PeerRecordsTotal,
			DispatchDuration,
			RawBytesSentTotal,
			BusProduceErrorsTotal,
			StatsReportsTotal,
			RouteRecordsTotal,
		)
	})
}
