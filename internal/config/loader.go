package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their working defaults. Paths
// default under one per-user runtime directory so multiple users on a host
// do not collide.
func ApplyDefaults(cfg *Config) {
	runDir := filepath.Join(os.TempDir(), fmt.Sprintf("afkbridge-%d", os.Getuid()))

	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Telegram.PollTimeout == 0 {
		cfg.Telegram.PollTimeout = 15 * time.Second
	}
	if cfg.Telegram.ErrorCap == 0 {
		cfg.Telegram.ErrorCap = 10
	}
	if cfg.AFK.ResponseDir == "" {
		cfg.AFK.ResponseDir = filepath.Join(runDir, "responses")
	}
	if cfg.AFK.HookSocket == "" {
		cfg.AFK.HookSocket = filepath.Join(runDir, "hook.sock")
	}
	if cfg.AFK.ControlSocket == "" {
		cfg.AFK.ControlSocket = filepath.Join(runDir, "control.sock")
	}
	if cfg.AFK.HookDeadline == 0 {
		cfg.AFK.HookDeadline = 600 * time.Second
	}
	if cfg.AFK.StartMode == "" {
		cfg.AFK.StartMode = ModeNotify
	}
	if cfg.Tmux.Binary == "" {
		cfg.Tmux.Binary = "tmux"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if cfg.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required"))
	}
	if cfg.Telegram.PollTimeout < 0 || cfg.Telegram.PollTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("telegram.poll_timeout %s is out of range (0, 1m]", cfg.Telegram.PollTimeout))
	}
	if cfg.Telegram.ErrorCap < 0 {
		errs = append(errs, fmt.Errorf("telegram.error_cap %d must not be negative", cfg.Telegram.ErrorCap))
	}

	if cfg.AFK.HookDeadline < time.Second {
		errs = append(errs, fmt.Errorf("afk.hook_deadline %s is shorter than the hook's polling interval", cfg.AFK.HookDeadline))
	}
	if cfg.AFK.StartMode != "" && !cfg.AFK.StartMode.IsValid() {
		errs = append(errs, fmt.Errorf("afk.start_mode %q is invalid; valid values: notify, narrate, afk", cfg.AFK.StartMode))
	}
	if cfg.AFK.HookSocket != "" && cfg.AFK.HookSocket == cfg.AFK.ControlSocket {
		errs = append(errs, errors.New("afk.hook_socket and afk.control_socket must differ"))
	}

	return errors.Join(errs...)
}
