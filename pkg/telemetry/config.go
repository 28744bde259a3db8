package telemetry

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error, fatal.
	Level string

	// Format is "console" for human-readable output or "json" for structured output.
	Format string

	// Output is "stdout", "stderr", or a file path.
	Output string

	// EnableCaller adds caller file:line information to each entry.
	EnableCaller bool
}

// DefaultLoggingConfig returns the configuration used when none is supplied:
// console output on stderr at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// MetricsConfig controls the Prometheus metrics collector.
type MetricsConfig struct {
	// Enabled turns metric collection on. When false all recording calls are no-ops.
	Enabled bool

	// Namespace is the metric name prefix.
	Namespace string

	// ListenAddress is the address the optional metrics HTTP listener binds to.
	ListenAddress string

	// Path is the HTTP path the metrics handler is mounted on.
	Path string
}

// DefaultMetricsConfig returns a disabled collector configuration with the
// conventional listener settings filled in.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:       false,
		Namespace:     "bundleforge",
		ListenAddress: ":9464",
		Path:          "/metrics",
	}
}
