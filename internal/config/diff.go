package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be acted on without a restart are tracked; transport and socket
// changes require a daemon restart and are reported so the operator can be
// told.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StartModeChanged bool
	VoiceChanged     bool

	// RestartNeeded is set when the telegram, socket or metrics settings
	// changed; those are bound at startup.
	RestartNeeded bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.StartModeChanged || d.VoiceChanged || d.RestartNeeded
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.AFK.StartMode != new.AFK.StartMode {
		d.StartModeChanged = true
	}
	if old.Voice != new.Voice {
		d.VoiceChanged = true
	}

	if old.Telegram != new.Telegram ||
		old.Server.MetricsAddr != new.Server.MetricsAddr ||
		old.Tmux != new.Tmux ||
		old.AFK.ResponseDir != new.AFK.ResponseDir ||
		old.AFK.HookSocket != new.AFK.HookSocket ||
		old.AFK.ControlSocket != new.AFK.ControlSocket ||
		old.AFK.RulesCache != new.AFK.RulesCache {
		d.RestartNeeded = true
	}

	return d
}
