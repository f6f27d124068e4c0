package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] when the corresponding field is unset.
const (
	DefaultListenAddr     = ":8080"
	DefaultMaxUploadMB    = 512
	DefaultStorePath      = "rescribe.db"
	DefaultBusyTimeoutMS  = 5000
	DefaultUploadDir      = "uploads"
	DefaultASRTimeoutSec  = 300
	DefaultALMTimeoutSec  = 120
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 500
	DefaultConfidence     = 0.60
	DefaultProximitySec   = 5.0
	DefaultWindowSec      = 20.0
	DefaultPollIntervalMS = 3000
	DefaultFFmpegBinary   = "ffmpeg"
)

// Environment variables recognised by [LoadFromReader]. Each overrides the
// corresponding YAML field when set, so deployments can retune the pipeline
// without editing the config file.
const (
	EnvConfidenceThreshold = "CONFIDENCE_THRESHOLD"
	EnvProximitySeconds    = "CLUSTERING_PROXIMITY_SECONDS"
	EnvWindowSeconds       = "CORRECTION_WINDOW_SECONDS"
	EnvPollIntervalMS      = "WORKER_POLL_INTERVAL_MS"
	EnvASRURL              = "ASR_URL"
	EnvMultimodalURL       = "MULTIMODAL_URL"
	EnvStorePath           = "STORE_PATH"
	EnvUploadDir           = "UPLOAD_DIR"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: environment overrides: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides copies recognised environment variables into cfg.
// Overrides run before defaulting, so an empty variable value counts as set.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	if v, ok := os.LookupEnv(EnvASRURL); ok {
		cfg.ASR.URL = v
	}
	if v, ok := os.LookupEnv(EnvMultimodalURL); ok {
		cfg.Multimodal.URL = v
	}
	if v, ok := os.LookupEnv(EnvStorePath); ok {
		cfg.Store.Path = v
	}
	if v, ok := os.LookupEnv(EnvUploadDir); ok {
		cfg.Paths.UploadDir = v
	}
	if v, ok := os.LookupEnv(EnvConfidenceThreshold); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", EnvConfidenceThreshold, v, err))
		} else {
			cfg.Pipeline.ConfidenceThreshold = f
		}
	}
	if v, ok := os.LookupEnv(EnvProximitySeconds); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", EnvProximitySeconds, v, err))
		} else {
			cfg.Pipeline.ProximitySeconds = f
		}
	}
	if v, ok := os.LookupEnv(EnvWindowSeconds); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", EnvWindowSeconds, v, err))
		} else {
			cfg.Pipeline.CorrectionWindowSeconds = f
		}
	}
	if v, ok := os.LookupEnv(EnvPollIntervalMS); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", EnvPollIntervalMS, v, err))
		} else {
			cfg.Pipeline.PollIntervalMS = n
		}
	}

	return errors.Join(errs...)
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.BusyTimeoutMS == 0 {
		cfg.Store.BusyTimeoutMS = DefaultBusyTimeoutMS
	}
	if cfg.Paths.UploadDir == "" {
		cfg.Paths.UploadDir = DefaultUploadDir
	}
	if cfg.ASR.TimeoutSeconds == 0 {
		cfg.ASR.TimeoutSeconds = DefaultASRTimeoutSec
	}
	if cfg.Multimodal.Temperature == 0 {
		cfg.Multimodal.Temperature = DefaultTemperature
	}
	if cfg.Multimodal.MaxTokens == 0 {
		cfg.Multimodal.MaxTokens = DefaultMaxTokens
	}
	if cfg.Multimodal.TimeoutSeconds == 0 {
		cfg.Multimodal.TimeoutSeconds = DefaultALMTimeoutSec
	}
	if cfg.Pipeline.ConfidenceThreshold == 0 {
		cfg.Pipeline.ConfidenceThreshold = DefaultConfidence
	}
	if cfg.Pipeline.ProximitySeconds == 0 {
		cfg.Pipeline.ProximitySeconds = DefaultProximitySec
	}
	if cfg.Pipeline.CorrectionWindowSeconds == 0 {
		cfg.Pipeline.CorrectionWindowSeconds = DefaultWindowSec
	}
	if cfg.Pipeline.PollIntervalMS == 0 {
		cfg.Pipeline.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.FFmpeg.Binary == "" {
		cfg.FFmpeg.Binary = DefaultFFmpegBinary
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when TLS is configured"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when TLS is configured"))
		}
	}

	// Store
	if cfg.Store.BusyTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("store.busy_timeout_ms %d must not be negative", cfg.Store.BusyTimeoutMS))
	}

	// Recognizer endpoints
	errs = appendURLError(errs, "asr.url", cfg.ASR.URL, true)
	errs = appendURLError(errs, "multimodal.url", cfg.Multimodal.URL, true)
	if cfg.Multimodal.Model == "" {
		errs = append(errs, errors.New("multimodal.model is required"))
	}
	if cfg.Multimodal.Temperature < 0 || cfg.Multimodal.Temperature > 2 {
		errs = append(errs, fmt.Errorf("multimodal.temperature %.2f is out of range [0, 2]", cfg.Multimodal.Temperature))
	}
	if cfg.Multimodal.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("multimodal.max_tokens %d must not be negative", cfg.Multimodal.MaxTokens))
	}

	// Pipeline tuning
	if cfg.Pipeline.ConfidenceThreshold < 0 || cfg.Pipeline.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.confidence_threshold %.2f is out of range [0, 1]", cfg.Pipeline.ConfidenceThreshold))
	}
	if cfg.Pipeline.ProximitySeconds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.proximity_seconds %.2f must not be negative", cfg.Pipeline.ProximitySeconds))
	}
	if cfg.Pipeline.CorrectionWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.correction_window_seconds %.2f must be positive", cfg.Pipeline.CorrectionWindowSeconds))
	}
	if cfg.Pipeline.PollIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.poll_interval_ms %d must not be negative", cfg.Pipeline.PollIntervalMS))
	}

	// Notifications
	errs = appendURLError(errs, "notify.webhook_url", cfg.Notify.WebhookURL, false)
	if cfg.Notify.WebhookURL == "" {
		slog.Warn("notify.webhook_url is empty; job notifications are disabled unless a job carries its own webhook URL")
	}

	return errors.Join(errs...)
}

// appendURLError validates that value is an absolute http(s) URL and appends
// a descriptive error to errs otherwise. An empty value is an error only when
// required is true.
func appendURLError(errs []error, field, value string, required bool) []error {
	if value == "" {
		if required {
			return append(errs, fmt.Errorf("%s is required", field))
		}
		return errs
	}
	u, err := url.Parse(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s %q: %w", field, value, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return append(errs, fmt.Errorf("%s %q must use http or https", field, value))
	}
	if u.Host == "" {
		return append(errs, fmt.Errorf("%s %q is missing a host", field, value))
	}
	return errs
}
