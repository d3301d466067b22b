// Package config provides the configuration schema, loader and file watcher
// for the meetscribe recorder bot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the meetscribe server.
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

// Slog maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for meetscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Discord    DiscordConfig    `yaml:"discord"`
	Recording  RecordingConfig  `yaml:"recording"`
	Processing ProcessingConfig `yaml:"processing"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// WebhookSecret, when set, must be sent by the processing service in the
	// X-Webhook-Secret header of completion callbacks.
	WebhookSecret string `yaml:"webhook_secret"`

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

// DiscordConfig holds the bot credentials and command access settings.
type DiscordConfig struct {
	// Token is the bot token. Use "${DISCORD_BOT_TOKEN}" to read it from the
	// environment.
	Token string `yaml:"token"`

	// GuildID registers slash commands to a single guild when set, which
	// makes them available immediately. Empty registers them globally.
	GuildID string `yaml:"guild_id"`

	// AdminUserIDs may run commands without the Administrator permission.
	AdminUserIDs []string `yaml:"admin_user_ids"`
}

// RecordingConfig controls recording sessions.
type RecordingConfig struct {
	// TempDir receives one PCM file per participant capture.
	TempDir string `yaml:"temp_dir"`

	// ChunkInterval is how often newly captured audio is forwarded.
	ChunkInterval time.Duration `yaml:"chunk_interval"`

	// MaxDuration force-stops a session after this long.
	MaxDuration time.Duration `yaml:"max_duration"`

	// MaxDurationLimit caps per-guild overrides set through commands.
	MaxDurationLimit time.Duration `yaml:"max_duration_limit"`

	// ConnectTimeout bounds the voice handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Retention is how long completed sessions stay queryable.
	Retention time.Duration `yaml:"retention"`

	// SweepInterval is how often completed sessions and stale temp files are
	// purged.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TempFileMaxAge is the age after which PCM files are deleted.
	TempFileMaxAge time.Duration `yaml:"temp_file_max_age"`
}

// ProcessingConfig points at the external processing service.
type ProcessingConfig struct {
	// BaseURL is the service root, e.g. "http://localhost:8000".
	BaseURL string `yaml:"base_url"`

	StartTimeout    time.Duration `yaml:"start_timeout"`
	ChunkTimeout    time.Duration `yaml:"chunk_timeout"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`

	// MaxConcurrentUploads bounds segment uploads in flight.
	MaxConcurrentUploads int `yaml:"max_concurrent_uploads"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the processing service.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// WatchdogConfig controls passive voice connections.
type WatchdogConfig struct {
	// AutoLeave disconnects passive connections once no human is left.
	// A nil value means enabled.
	AutoLeave *bool `yaml:"auto_leave"`

	// PollInterval is how often member counts are checked.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// AutoLeaveEnabled reports the effective auto-leave setting.
func (w WatchdogConfig) AutoLeaveEnabled() bool {
	return w.AutoLeave == nil || *w.AutoLeave
}

// TelemetryConfig configures OpenTelemetry resources and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// Environment is reported as deployment.environment, e.g. "prod".
	Environment string `yaml:"environment"`

	// TraceSampleRatio is the fraction of new traces kept, between 0 and 1.
	// Zero keeps all of them.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Defaults for zero-valued fields, applied by [ApplyDefaults].
const (
	DefaultListenAddr           = ":8080"
	DefaultTempDir              = "./temp"
	DefaultChunkInterval        = 30 * time.Minute
	DefaultMaxDuration          = 3 * time.Hour
	DefaultMaxDurationLimit     = 6 * time.Hour
	DefaultConnectTimeout       = 10 * time.Second
	DefaultRetention            = 24 * time.Hour
	DefaultSweepInterval        = time.Hour
	DefaultTempFileMaxAge       = 24 * time.Hour
	DefaultProcessingURL        = "http://localhost:8000"
	DefaultStartTimeout         = 5 * time.Second
	DefaultChunkTimeout         = 30 * time.Second
	DefaultFinalizeTimeout      = 10 * time.Second
	DefaultMaxConcurrentUploads = 4
	DefaultBreakerFailures      = 5
	DefaultBreakerReset         = 30 * time.Second
	DefaultPollInterval         = 5 * time.Second
	DefaultServiceName          = "meetscribe"
)

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	r := &cfg.Recording
	setDefault(&r.TempDir, DefaultTempDir)
	setDefault(&r.ChunkInterval, DefaultChunkInterval)
	setDefault(&r.MaxDuration, DefaultMaxDuration)
	setDefault(&r.MaxDurationLimit, DefaultMaxDurationLimit)
	setDefault(&r.ConnectTimeout, DefaultConnectTimeout)
	setDefault(&r.Retention, DefaultRetention)
	setDefault(&r.SweepInterval, DefaultSweepInterval)
	setDefault(&r.TempFileMaxAge, DefaultTempFileMaxAge)

	p := &cfg.Processing
	setDefault(&p.BaseURL, DefaultProcessingURL)
	setDefault(&p.StartTimeout, DefaultStartTimeout)
	setDefault(&p.ChunkTimeout, DefaultChunkTimeout)
	setDefault(&p.FinalizeTimeout, DefaultFinalizeTimeout)
	setDefault(&p.MaxConcurrentUploads, DefaultMaxConcurrentUploads)
	setDefault(&p.Breaker.MaxFailures, DefaultBreakerFailures)
	setDefault(&p.Breaker.ResetTimeout, DefaultBreakerReset)

	setDefault(&cfg.Watchdog.PollInterval, DefaultPollInterval)
	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
