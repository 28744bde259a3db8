package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for deployment runs.
type Metrics struct {
	config MetricsConfig

	// Deployment metrics
	deploymentsStarted   *prometheus.CounterVec
	deploymentsCompleted *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Download metrics
	downloadsCompleted *prometheus.CounterVec
	downloadBytes      prometheus.Counter

	// Plugin metrics
	pluginInstalls *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeDeployments prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// When cfg.Enabled is false a no-op instance is returned.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploymentsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_started_total",
				Help:      "Total number of deployment runs started",
			},
			[]string{"mode"},
		),
		deploymentsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_completed_total",
				Help:      "Total number of deployment runs completed",
			},
			[]string{"status"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Duration of deployment runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of deployment steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of deployment steps in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),

		downloadsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_downloads_total",
				Help:      "Total number of model file downloads",
			},
			[]string{"status"},
		),
		downloadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_download_bytes_total",
				Help:      "Total bytes written by model downloads",
			},
		),

		pluginInstalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_installs_total",
				Help:      "Total number of plugin installations",
			},
			[]string{"status"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		activeDeployments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deployments",
				Help:      "Current number of active deployment runs",
			},
		),
	}

	registry.MustRegister(
		m.deploymentsStarted,
		m.deploymentsCompleted,
		m.deploymentDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.downloadsCompleted,
		m.downloadBytes,
		m.pluginInstalls,
		m.errorsByClass,
		m.activeDeployments,
	)

	return m, nil
}

// RecordDeploymentStarted increments the counter for started deployments.
func (m *Metrics) RecordDeploymentStarted(mode string) {
	if m == nil || m.deploymentsStarted == nil {
		return
	}
	m.deploymentsStarted.WithLabelValues(mode).Inc()
	m.activeDeployments.Inc()
}

// RecordDeploymentCompleted records a completed deployment with its status and duration.
func (m *Metrics) RecordDeploymentCompleted(status string, duration time.Duration) {
	if m == nil || m.deploymentsCompleted == nil {
		return
	}
	m.deploymentsCompleted.WithLabelValues(status).Inc()
	m.deploymentDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeDeployments.Dec()
}

// RecordStep records the execution of a deployment step.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m == nil || m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordDownload records the outcome of a single model file download.
func (m *Metrics) RecordDownload(status string, bytes int64) {
	if m == nil || m.downloadsCompleted == nil {
		return
	}
	m.downloadsCompleted.WithLabelValues(status).Inc()
	if bytes > 0 {
		m.downloadBytes.Add(float64(bytes))
	}
}

// RecordPluginInstall records the outcome of a plugin installation.
func (m *Metrics) RecordPluginInstall(status string) {
	if m == nil || m.pluginInstalls == nil {
		return
	}
	m.pluginInstalls.WithLabelValues(status).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics endpoint.
// It returns immediately; the server lives for the remainder of the process.
func (m *Metrics) StartMetricsServer(errorLog *Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errorLog != nil {
				errorLog.WithError(err).Error("metrics server stopped")
			}
		}
	}()

	return nil
}
