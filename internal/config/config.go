// Package config provides the configuration schema and loader for the
// Rescribe transcription service.
package config

// LogLevel controls log verbosity for the Rescribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Rescribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Configuration is read once at startup; there is no hot reload.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Paths      PathsConfig      `yaml:"paths"`
	ASR        ASRConfig        `yaml:"asr"`
	Multimodal MultimodalConfig `yaml:"multimodal"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Notify     NotifyConfig     `yaml:"notify"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
}

// ServerConfig holds network and logging settings for the Rescribe server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadMB caps the size of a single audio upload in mebibytes.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// StoreConfig holds settings for the embedded SQLite job store.
type StoreConfig struct {
	// Path is the SQLite database file. Created on first start if missing.
	Path string `yaml:"path"`

	// BusyTimeoutMS is how long a connection waits on a locked database
	// before giving up.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`
}

// PathsConfig holds filesystem locations used by the pipeline.
type PathsConfig struct {
	// UploadDir is where submitted recordings and temporary correction clips
	// are written. Created on first start if missing.
	UploadDir string `yaml:"upload_dir"`
}

// ASRConfig points at the word-level recognizer used for the first pass.
type ASRConfig struct {
	// URL is the base URL of the recognizer's HTTP API
	// (e.g., "http://localhost:9000").
	URL string `yaml:"url"`

	// Model optionally selects a model on the recognizer side.
	Model string `yaml:"model"`

	// TimeoutSeconds bounds a single transcription request. 0 means 300.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// MultimodalConfig points at the audio-capable chat model used for the
// second pass over low-confidence regions.
type MultimodalConfig struct {
	// URL is the base URL of an OpenAI-compatible chat completions API.
	URL string `yaml:"url"`

	// Model is the model name sent with each request.
	Model string `yaml:"model"`

	// Temperature for the correction model. 0 means the default 0.1; the
	// second pass wants near-deterministic output.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length. 0 means the default 500, which
	// comfortably covers a 20-second clip.
	MaxTokens int `yaml:"max_tokens"`

	// TimeoutSeconds bounds a single correction request. 0 means 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// PipelineConfig tunes how low-confidence regions are selected and re-heard.
type PipelineConfig struct {
	// ConfidenceThreshold is the per-word probability below which a word is
	// treated as unreliable. 0 means the default 0.60.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// ProximitySeconds is the maximum gap between neighbouring unreliable
	// words for them to share one correction window. 0 means the default 5.
	ProximitySeconds float64 `yaml:"proximity_seconds"`

	// CorrectionWindowSeconds is the width of the audio clip extracted around
	// each cluster. 0 means the default 20.
	CorrectionWindowSeconds float64 `yaml:"correction_window_seconds"`

	// PollIntervalMS is how often the worker checks for pending jobs.
	// 0 means the default 3000.
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// NotifyConfig configures Discord-compatible webhook notifications for job
// lifecycle events.
type NotifyConfig struct {
	// WebhookURL is the default webhook target. Empty disables notifications
	// unless a job carries its own webhook URL.
	WebhookURL string `yaml:"webhook_url"`

	// Username overrides the webhook's display name. Empty keeps the name
	// configured on the webhook itself.
	Username string `yaml:"username"`
}

// FFmpegConfig locates the ffmpeg binary used to cut correction clips.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable. Resolved via PATH when not absolute.
	Binary string `yaml:"binary"`
}
