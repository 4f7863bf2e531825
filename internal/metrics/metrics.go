package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments shared by the execution feed
// and the process monitor. All instruments live on the registry passed
// to New, never on the global default registry.
type Metrics struct {
	reg *prometheus.Registry

	FramesTotal        prometheus.Counter
	KeepalivesTotal    prometheus.Counter
	EventsForwarded    prometheus.Counter
	MalformedFrames    prometheus.Counter
	ReconnectsTotal    prometheus.Counter
	TokenMintsTotal    prometheus.Counter
	TokenMintFailures  prometheus.Counter
	AlertsTriggered    prometheus.Counter
	AlertsResolved     prometheus.Counter
	AlertFailures      prometheus.Counter
	MonitorSamples     prometheus.Counter
	SnapshotErrors     prometheus.Counter
	ConnectionState    prometheus.Gauge
}

// New creates a Metrics instance with every instrument registered on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		FramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_feed_frames_total",
			Help: "Total number of data frames read from the exchange socket",
		}),
		KeepalivesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_feed_keepalives_total",
			Help: "Total number of server pings answered with a pong",
		}),
		EventsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_feed_events_forwarded_total",
			Help: "Total number of subscribed-channel events forwarded to the alert sink",
		}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_feed_malformed_frames_total",
			Help: "Total number of frames dropped because they failed to decode",
		}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_feed_reconnects_total",
			Help: "Total number of connection attempts after the first",
		}),
		TokenMintsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_token_mints_total",
			Help: "Total number of websocket access tokens minted",
		}),
		TokenMintFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_token_mint_failures_total",
			Help: "Total number of failed token mint attempts",
		}),
		AlertsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_alerts_triggered_total",
			Help: "Total number of trigger events sent to the alert sink",
		}),
		AlertsResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_alerts_resolved_total",
			Help: "Total number of resolve events sent to the alert sink",
		}),
		AlertFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_alert_failures_total",
			Help: "Total number of alert sink calls that returned an error",
		}),
		MonitorSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_procmon_samples_total",
			Help: "Total number of process table samples taken",
		}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_procmon_snapshot_errors_total",
			Help: "Total number of process table samples skipped due to errors",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fillwatch_feed_connection_state",
			Help: "Current feed connection state (0=disconnected 1=authenticating 2=connected 3=subscribed 4=closing)",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
