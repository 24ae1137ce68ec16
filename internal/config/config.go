// Package config provides the configuration schema, loader and polling
// file watcher for the AFK bridge daemon.
package config

import "time"

// LogLevel controls log verbosity for the daemon.
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

// Mode is the daemon operating mode.
type Mode string

const (
	// ModeNotify surfaces local notifications only; hooks proceed locally.
	ModeNotify Mode = "notify"

	// ModeNarrate additionally narrates assistant activity.
	ModeNarrate Mode = "narrate"

	// ModeAFK forwards prompts to the remote chat and blocks hooks on
	// remote answers.
	ModeAFK Mode = "afk"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeNotify, ModeNarrate, ModeAFK:
		return true
	}
	return false
}

// Config is the root configuration structure for the daemon.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	AFK      AFKConfig      `yaml:"afk"`
	Tmux     TmuxConfig     `yaml:"tmux"`
	Voice    VoiceConfig    `yaml:"voice"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the optional listen address for /metrics and the
	// health probes (e.g. "127.0.0.1:9097"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// TelegramConfig holds the chat transport settings.
type TelegramConfig struct {
	// Token is the bot token from @BotFather.
	Token string `yaml:"token"`

	// ChatID is the only chat the bridge talks to.
	ChatID int64 `yaml:"chat_id"`

	// PollTimeout is the long-poll duration per update request.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// ErrorCap is the consecutive poll-error count after which the poll
	// loop gives up and the daemon reports the transport as down.
	ErrorCap int `yaml:"error_cap"`
}

// AFKConfig holds the bridge-side paths and timings.
type AFKConfig struct {
	// ResponseDir is the root directory for per-session sentinel files.
	ResponseDir string `yaml:"response_dir"`

	// HookSocket is the unix socket path hooks connect to.
	HookSocket string `yaml:"hook_socket"`

	// ControlSocket is the unix socket path for the control plane.
	ControlSocket string `yaml:"control_socket"`

	// HookDeadline is the hook-side answer deadline. The daemon only
	// reports it to status consumers; enforcement lives in the hook.
	HookDeadline time.Duration `yaml:"hook_deadline"`

	// RulesCache is the optional JSON file persisting always-allow
	// fingerprints. Empty keeps the rules in memory only.
	RulesCache string `yaml:"rules_cache"`

	// StartMode is the mode the daemon boots into.
	StartMode Mode `yaml:"start_mode"`
}

// TmuxConfig holds the multiplexer settings.
type TmuxConfig struct {
	// Binary is the tmux executable. Default "tmux" (resolved via PATH).
	Binary string `yaml:"binary"`
}

// VoiceConfig holds the push-to-talk input path settings.
type VoiceConfig struct {
	// Enabled switches the voice path on at boot.
	Enabled bool `yaml:"enabled"`
}
