package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Discord
	if cfg.Discord.Token == "" {
		slog.Warn("discord.token is empty; the bot will not be able to connect")
	}

	// Recording
	r := cfg.Recording
	for _, d := range []struct {
		name  string
		value int64
	}{
		{"recording.chunk_interval", int64(r.ChunkInterval)},
		{"recording.max_duration", int64(r.MaxDuration)},
		{"recording.max_duration_limit", int64(r.MaxDurationLimit)},
		{"recording.connect_timeout", int64(r.ConnectTimeout)},
		{"recording.retention", int64(r.Retention)},
		{"recording.sweep_interval", int64(r.SweepInterval)},
		{"recording.temp_file_max_age", int64(r.TempFileMaxAge)},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if r.ChunkInterval > 0 && r.MaxDuration > 0 && r.ChunkInterval > r.MaxDuration {
		slog.Warn("recording.chunk_interval exceeds recording.max_duration; only the final chunk will be sent",
			"chunk_interval", r.ChunkInterval,
			"max_duration", r.MaxDuration,
		)
	}
	if r.MaxDurationLimit > 0 && r.MaxDuration > r.MaxDurationLimit {
		errs = append(errs, fmt.Errorf("recording.max_duration %s exceeds recording.max_duration_limit %s", r.MaxDuration, r.MaxDurationLimit))
	}
	if r.TempFileMaxAge > 0 && r.TempFileMaxAge < r.MaxDuration {
		errs = append(errs, fmt.Errorf("recording.temp_file_max_age %s is shorter than recording.max_duration %s", r.TempFileMaxAge, r.MaxDuration))
	}

	// Processing
	p := cfg.Processing
	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("processing.base_url %q must be an absolute http or https URL", p.BaseURL))
		}
	}
	if p.MaxConcurrentUploads < 0 {
		errs = append(errs, errors.New("processing.max_concurrent_uploads must not be negative"))
	}
	if p.Breaker.MaxFailures < 0 {
		errs = append(errs, errors.New("processing.breaker.max_failures must not be negative"))
	}

	// Watchdog
	if cfg.Watchdog.PollInterval < 0 {
		errs = append(errs, errors.New("watchdog.poll_interval must not be negative"))
	}

	// Telemetry
	if ratio := cfg.Telemetry.TraceSampleRatio; ratio < 0 || ratio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g must be between 0 and 1", ratio))
	}

	return errors.Join(errs...)
}
