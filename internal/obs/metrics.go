// Package obs wires the gateway's observability: Prometheus metrics and the
// optional OpenTelemetry tracer.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gateway metric family. One instance per process,
// registered on its own registry so tests can create isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	WsUpgrades          *prometheus.CounterVec
	WsSessionsActive    *prometheus.GaugeVec
	PolicyDecisions     *prometheus.CounterVec
	HandshakeRejections *prometheus.CounterVec
	DispatchDuration    *prometheus.HistogramVec
	DecodeErrors        *prometheus.CounterVec
	ServiceErrors       *prometheus.CounterVec
	UnknownService      *prometheus.CounterVec
	WriterTimeouts      *prometheus.CounterVec
	OutboundDropped     *prometheus.CounterVec
	HotRejectedNoRoom   *prometheus.CounterVec
	Draining            prometheus.Gauge
}

// NewMetrics creates and registers all metric families.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		WsUpgrades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_ws_upgrades_total",
			Help: "Completed WebSocket upgrades.",
		}, []string{"tenant"}),
		WsSessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsprism_ws_sessions_active",
			Help: "Currently registered sessions.",
		}, []string{"tenant"}),
		PolicyDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_policy_decisions_total",
			Help: "Admission pipeline outcomes per frame.",
		}, []string{"tenant", "lane", "decision"}),
		HandshakeRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_handshake_rejections_total",
			Help: "Handshakes rejected before upgrade.",
		}, []string{"reason"}),
		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wsprism_dispatch_duration_seconds",
			Help:    "Time spent in the service handler call.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"lane", "svc"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_decode_errors_total",
			Help: "Frames that failed to decode.",
		}, []string{"tenant", "lane"}),
		ServiceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_service_errors_total",
			Help: "Handler-reported errors and recovered panics.",
		}, []string{"svc"}),
		UnknownService: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_unknown_service_total",
			Help: "Admitted frames with no registered handler.",
		}, []string{"lane"}),
		WriterTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_writer_timeouts_total",
			Help: "Sessions evicted as slow consumers.",
		}, []string{"tenant"}),
		OutboundDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_outbound_dropped_total",
			Help: "Outbound items dropped by tier overflow or coalescing.",
		}, []string{"tenant", "tier"}),
		HotRejectedNoRoom: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsprism_hot_rejected_no_room_total",
			Help: "Hot frames rejected for lacking an active room.",
		}, []string{"tenant"}),
		Draining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsprism_draining",
			Help: "1 while the gateway is draining.",
		}),
	}
}
