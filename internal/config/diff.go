package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AutoLeaveChanged bool
	NewAutoLeave     bool

	// SessionDefaultsChanged is set when the chunk interval or maximum
	// duration for new recording sessions changed.
	SessionDefaultsChanged bool
	NewChunkInterval       time.Duration
	NewMaxDuration         time.Duration

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AutoLeaveChanged || d.SessionDefaultsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Watchdog
	if old.Watchdog.AutoLeaveEnabled() != new.Watchdog.AutoLeaveEnabled() {
		d.AutoLeaveChanged = true
		d.NewAutoLeave = new.Watchdog.AutoLeaveEnabled()
	}

	// Session defaults
	if old.Recording.ChunkInterval != new.Recording.ChunkInterval || old.Recording.MaxDuration != new.Recording.MaxDuration {
		d.SessionDefaultsChanged = true
		d.NewChunkInterval = new.Recording.ChunkInterval
		d.NewMaxDuration = new.Recording.MaxDuration
	}

	// Everything wired at startup.
	for _, f := range []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"discord.token", old.Discord.Token != new.Discord.Token},
		{"discord.guild_id", old.Discord.GuildID != new.Discord.GuildID},
		{"recording.temp_dir", old.Recording.TempDir != new.Recording.TempDir},
		{"processing.base_url", old.Processing.BaseURL != new.Processing.BaseURL},
		{"watchdog.poll_interval", old.Watchdog.PollInterval != new.Watchdog.PollInterval},
		{"telemetry.service_name", old.Telemetry.ServiceName != new.Telemetry.ServiceName},
		{"telemetry.environment", old.Telemetry.Environment != new.Telemetry.Environment},
		{"telemetry.trace_sample_ratio", old.Telemetry.TraceSampleRatio != new.Telemetry.TraceSampleRatio},
	} {
		if f.changed {
			d.RestartRequired = append(d.RestartRequired, f.name)
		}
	}

	return d
}
