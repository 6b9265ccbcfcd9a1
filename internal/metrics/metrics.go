// Package metrics exposes supervisor telemetry as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrument set for one supervisor process.
type Metrics struct {
	registry *prometheus.Registry

	Commands        *prometheus.CounterVec
	FramesRouted    prometheus.Counter
	ProfilesRouted  prometheus.Counter
	EnvironmentSafe prometheus.Gauge
	UnsafeGroups    prometheus.Gauge
	DomeStatus      prometheus.Gauge
	SubsystemMode   *prometheus.GaugeVec
	QueueLength     prometheus.Gauge
}

// New creates an isolated registry with the supervisor instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsd_commands_total",
			Help: "Facade commands by operation and result code.",
		}, []string{"operation", "code"}),
		FramesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "opsd_pipeline_frames_total",
			Help: "Pipeline frames routed to the active action.",
		}),
		ProfilesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "opsd_pipeline_guide_profiles_total",
			Help: "Pipeline guide profiles routed to the active action.",
		}),
		EnvironmentSafe: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opsd_environment_safe",
			Help: "1 while the aggregated environment verdict is safe.",
		}),
		UnsafeGroups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opsd_environment_unsafe_groups",
			Help: "Number of condition groups currently unsafe.",
		}),
		DomeStatus: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opsd_dome_status",
			Help: "Dome status enum (0 closed, 1 open, 2 moving, 3 timeout).",
		}),
		SubsystemMode: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opsd_subsystem_mode",
			Help: "Operations mode enum per subsystem (0 error, 1 automatic, 2 manual).",
		}, []string{"subsystem"}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opsd_action_queue_length",
			Help: "Actions visible in the schedule table, including the active one.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
