// Package metrics holds the Prometheus collectors shared by the updater,
// supervisor, config watcher and notifier. All helper methods are safe to
// call on a nil *Metrics, so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Updater
	UpdateChecks   *prometheus.CounterVec
	ChecksInFlight prometheus.Gauge
	Downloads      *prometheus.CounterVec

	// Supervisor
	WorkerRestarts *prometheus.CounterVec
	WorkerUp       *prometheus.GaugeVec

	// Config watcher
	ConfigReloads prometheus.Counter

	// Notifier
	NotifierClients prometheus.Gauge
	Webhooks        *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		UpdateChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrosoft_update_checks_total",
				Help: "Completed update checks by outcome",
			},
			[]string{"outcome"},
		),
		ChecksInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrosoft_update_checks_in_flight",
				Help: "Update checks currently running (0 or 1)",
			},
		),
		Downloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrosoft_artifact_downloads_total",
				Help: "Artifact downloads by result",
			},
			[]string{"result"},
		),
		WorkerRestarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrosoft_worker_restarts_total",
				Help: "Worker relaunches after a crash",
			},
			[]string{"worker"},
		),
		WorkerUp: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "retrosoft_worker_up",
				Help: "1 when the worker is running, 0 otherwise",
			},
			[]string{"worker"},
		),
		ConfigReloads: f.NewCounter(
			prometheus.CounterOpts{
				Name: "retrosoft_config_reloads_total",
				Help: "Configuration changes delivered to subscribers",
			},
		),
		NotifierClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrosoft_notifier_clients",
				Help: "Connected WebSocket notification clients",
			},
		),
		Webhooks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrosoft_webhooks_total",
				Help: "Webhook deliveries by result",
			},
			[]string{"result"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveCheck(outcome string) {
	if m == nil {
		return
	}
	m.UpdateChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetChecksInFlight(n int32) {
	if m == nil {
		return
	}
	m.ChecksInFlight.Set(float64(n))
}

func (m *Metrics) ObserveDownload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Downloads.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRestart(worker string) {
	if m == nil {
		return
	}
	m.WorkerRestarts.WithLabelValues(worker).Inc()
}

func (m *Metrics) SetWorkerUp(worker string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.WorkerUp.WithLabelValues(worker).Set(v)
}

func (m *Metrics) ObserveConfigReload() {
	if m == nil {
		return
	}
	m.ConfigReloads.Inc()
}

func (m *Metrics) SetNotifierClients(n int) {
	if m == nil {
		return
	}
	m.NotifierClients.Set(float64(n))
}

func (m *Metrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(result).Inc()
}
