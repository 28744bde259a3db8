// Package config loads application settings from environment variables and an
// optional config file. Settings are constructed once at process start and
// threaded into the store, deployer, and capturer constructors.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DeployMode controls which components a deployment installs.
type DeployMode string

const (
	// ModeFull provisions everything: engine checkout, requirements, plugins,
	// models, and workflow.
	ModeFull DeployMode = "full"

	// ModeModelsOnly downloads models and installs the workflow, assuming the
	// engine is already set up.
	ModeModelsOnly DeployMode = "models_only"
)

// ParseDeployMode converts a string to a DeployMode.
func ParseDeployMode(s string) (DeployMode, error) {
	switch DeployMode(strings.ToLower(s)) {
	case ModeFull:
		return ModeFull, nil
	case ModeModelsOnly:
		return ModeModelsOnly, nil
	default:
		return "", fmt.Errorf("unknown deploy mode %q (expected full or models_only)", s)
	}
}

// Settings holds all application configuration.
type Settings struct {
	// EnginePath is the path to the engine installation.
	EnginePath string `mapstructure:"engine_path" validate:"required"`

	// BundlesPath is the root directory of the bundle store.
	BundlesPath string `mapstructure:"bundles_path" validate:"required"`

	// Bundle is the default bundle name to deploy.
	Bundle string `mapstructure:"bundle"`

	// BundleVersion is the default bundle version (empty means "current").
	BundleVersion string `mapstructure:"bundle_version"`

	// HFToken authenticates downloads from huggingface.co.
	HFToken string `mapstructure:"hf_token"`

	// CivitaiToken authenticates downloads from civitai.com.
	CivitaiToken string `mapstructure:"civitai_token"`

	// MaxConcurrentDownloads bounds the model download worker pool.
	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads" validate:"gte=1,lte=10"`

	// DownloadTimeout is the per-file transfer timeout.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`

	// DownloadRetries bounds retry attempts for transient download failures.
	DownloadRetries int `mapstructure:"download_retries" validate:"gte=1,lte=10"`

	// SkipExisting skips files already present with a matching declared size.
	SkipExisting bool `mapstructure:"skip_existing"`

	// VerifyChecksums enables SHA-256 verification of downloaded files.
	VerifyChecksums bool `mapstructure:"verify_checksums"`

	// NoVerify skips engine verification after deployment.
	NoVerify bool `mapstructure:"no_verify"`

	// DeployMode selects the deployment mode.
	DeployMode string `mapstructure:"deploy_mode" validate:"oneof=full models_only"`

	// EnginePort is the port the engine's introspection endpoint listens on.
	EnginePort int `mapstructure:"engine_port" validate:"gte=1,lte=65535"`

	// EngineStartTimeout bounds the wait for the engine to become ready
	// during verification.
	EngineStartTimeout time.Duration `mapstructure:"engine_start_timeout"`

	// PythonBin is the interpreter used for dependency installs and to start
	// the engine during verification.
	PythonBin string `mapstructure:"python_bin" validate:"required"`

	// HistoryDB is the path of the deployment-history SQLite database.
	// Empty disables history recording.
	HistoryDB string `mapstructure:"history_db"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`

	// Metrics
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsListen  string `mapstructure:"metrics_listen"`
}

// ModelsPath returns the engine's model storage root.
func (s *Settings) ModelsPath() string {
	return filepath.Join(s.EnginePath, "models")
}

// PluginsPath returns the engine's plugin installation directory.
func (s *Settings) PluginsPath() string {
	return filepath.Join(s.EnginePath, "custom_nodes")
}

// Load reads settings from the optional config file and FORGE_* environment
// variables, applies defaults, and validates the result.
func Load(configPath string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("engine_path", "/workspace/ComfyUI")
	v.SetDefault("bundles_path", "config/bundles")
	v.SetDefault("bundle", "")
	v.SetDefault("bundle_version", "")
	v.SetDefault("hf_token", "")
	v.SetDefault("civitai_token", "")
	v.SetDefault("max_concurrent_downloads", 3)
	v.SetDefault("download_timeout", "1h")
	v.SetDefault("download_retries", 3)
	v.SetDefault("skip_existing", true)
	v.SetDefault("verify_checksums", true)
	v.SetDefault("no_verify", false)
	v.SetDefault("deploy_mode", string(ModeFull))
	v.SetDefault("engine_port", 8188)
	v.SetDefault("engine_start_timeout", "120s")
	v.SetDefault("python_bin", "python3")
	v.SetDefault("history_db", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_listen", ":9464")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is fine; defaults and environment apply.
		}
	}

	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings against their declared constraints.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
