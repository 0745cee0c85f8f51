package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	TicketsIssued     *prometheus.CounterVec
	PatientsCalled    *prometheus.CounterVec
	ClinicsCompleted  *prometheus.CounterVec
	RoutesAssigned    *prometheus.CounterVec
	TemplateFallbacks *prometheus.CounterVec
	PatientsFinished  prometheus.Counter
	PinFailures       *prometheus.CounterVec
	PinsGenerated     *prometheus.CounterVec
	EventsBroadcast   prometheus.Counter
	EventsRelayed     prometheus.Counter
	RealtimeClients   prometheus.Gauge
}

// NewCollector registers every metric on a private registry so independent
// collectors can coexist in one process.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path"}),

		TicketsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tickets_issued_total",
			Help:      "Tickets issued per clinic.",
		}, []string{"clinic"}),

		PatientsCalled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "patients_called_total",
			Help:      "Patients promoted to IN_SERVICE per clinic.",
		}, []string{"clinic"}),

		ClinicsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tickets_completed_total",
			Help:      "Tickets moved to DONE per clinic.",
		}, []string{"clinic"}),

		RoutesAssigned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "patients",
			Name:      "routes_assigned_total",
			Help:      "Routes assigned at registration by exam type.",
		}, []string{"exam_type"}),

		TemplateFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "patients",
			Name:      "template_fallbacks_total",
			Help:      "Template lookups that fell back to a default, by kind.",
		}, []string{"kind"}),

		PatientsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "patients",
			Name:      "routes_completed_total",
			Help:      "Patients that finished their whole route.",
		}),

		PinFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pin",
			Name:      "validation_failures_total",
			Help:      "Rejected PIN submissions per clinic.",
		}, []string{"clinic"}),

		PinsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pin",
			Name:      "generated_total",
			Help:      "Daily PINs minted per clinic.",
		}, []string{"clinic"}),

		EventsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_broadcast_total",
			Help:      "Outbox events fanned out to realtime subscribers.",
		}),

		EventsRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_published_total",
			Help:      "Outbox events published to Kafka.",
		}),

		RealtimeClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Connected realtime clients.",
		}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// MetricsHandler returns an HTTP handler that serves the Prometheus metrics endpoint.
func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
