// Package app wires all bridge subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run supervises the worker goroutines until shutdown, and
// Shutdown tears everything down in order. App implements
// [control.Daemon], so the control plane drives mode changes, voice
// toggles and shutdown through it.
//
// For testing, inject fake implementations via functional options
// (WithChatTransport, WithManager, ...). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jvosloo/afkbridge/internal/afk"
	"github.com/jvosloo/afkbridge/internal/config"
	"github.com/jvosloo/afkbridge/internal/control"
	"github.com/jvosloo/afkbridge/internal/health"
	"github.com/jvosloo/afkbridge/internal/hookrv"
	"github.com/jvosloo/afkbridge/internal/inject"
	"github.com/jvosloo/afkbridge/internal/observe"
	"github.com/jvosloo/afkbridge/internal/rules"
	"github.com/jvosloo/afkbridge/internal/telegram"
	"github.com/jvosloo/afkbridge/internal/tmux"
	"github.com/jvosloo/afkbridge/internal/voice"
)

// ChatTransport is the chat surface the daemon supervises: the manager's
// send/edit/ack side plus connection verification and the poll loop.
type ChatTransport interface {
	afk.Transport
	Verify(ctx context.Context) error
	Poll(ctx context.Context, h telegram.Handler) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	watcher *config.Watcher

	chat    ChatTransport
	manager *afk.Manager
	hookSrv *hookrv.Server
	control *control.Server
	metrics *http.Server
	voice   *voice.Controller
	mux     *tmux.Tmux

	logLevel *slog.LevelVar

	mu      sync.Mutex
	mode    config.Mode
	voiceOn bool
	ready   bool
	// failing tracks the active error code per source so a steady failure
	// produces one error event, not a stream.
	failing map[string]string

	stop     chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithChatTransport injects a chat transport instead of authenticating a
// real Telegram bot.
func WithChatTransport(t ChatTransport) Option {
	return func(a *App) { a.chat = t }
}

// WithManager injects a pre-built AFK manager.
func WithManager(m *afk.Manager) Option {
	return func(a *App) { a.manager = m }
}

// WithVoiceController injects the push-to-talk controller. Without it the
// voice commands report voice as unavailable.
func WithVoiceController(c *voice.Controller) Option {
	return func(a *App) { a.voice = c }
}

// WithLogLevelVar hands the daemon the level var behind the process logger
// so config reloads can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. The watcher may be
// nil (no config file reloading, e.g. in tests).
func New(ctx context.Context, cfg *config.Config, watcher *config.Watcher, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		watcher: watcher,
		mode:    cfg.AFK.StartMode,
		voiceOn: cfg.Voice.Enabled,
		failing: make(map[string]string),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Chat transport ────────────────────────────────────────────────
	if a.chat == nil {
		t, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			ChatID:      cfg.Telegram.ChatID,
			PollTimeout: cfg.Telegram.PollTimeout,
			ErrorCap:    cfg.Telegram.ErrorCap,
		})
		if err != nil {
			return nil, fmt.Errorf("app: chat transport: %w", err)
		}
		a.chat = t
	}
	if err := a.chat.Verify(ctx); err != nil {
		return nil, fmt.Errorf("app: verify chat: %w", err)
	}
	a.setReady(true)

	// ── 2. AFK manager ───────────────────────────────────────────────────
	a.mux = tmux.New(cfg.Tmux.Binary)
	if a.manager == nil {
		a.manager = afk.New(
			a.chat,
			inject.New(a.mux),
			a.mux,
			rules.New(cfg.AFK.RulesCache),
			cfg.AFK.ResponseDir,
			afk.WithToggleFunc(a.onAFKToggle),
		)
	}
	if a.mode == config.ModeAFK {
		a.manager.Activate()
	}

	// ── 3. Sockets ───────────────────────────────────────────────────────
	hookSrv, err := hookrv.Listen(cfg.AFK.HookSocket, a.manager)
	if err != nil {
		return nil, fmt.Errorf("app: hook socket: %w", err)
	}
	a.hookSrv = hookSrv

	ctl, err := control.Listen(cfg.AFK.ControlSocket, a)
	if err != nil {
		hookSrv.Close()
		return nil, fmt.Errorf("app: control socket: %w", err)
	}
	a.control = ctl

	// ── 4. Metrics + health listener (optional) ──────────────────────────
	if cfg.Server.MetricsAddr != "" {
		a.metrics = observe.NewServer(cfg.Server.MetricsAddr, a.healthHandler().Register)
	}

	return a, nil
}

// healthHandler builds the /healthz and /readyz handler over the daemon's
// dependencies.
func (a *App) healthHandler() *health.Handler {
	return health.New(
		health.Probe("telegram", a.chat.Verify),
		health.Probe("tmux", func(ctx context.Context) error {
			if !a.mux.Available(ctx) {
				return errors.New("tmux binary not available")
			}
			return nil
		}),
		health.Socket("hook_socket", a.cfg.AFK.HookSocket),
	)
}

// Run supervises the daemon's workers until ctx is cancelled or a stop
// command arrives. Always returns after a clean teardown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.hookSrv.Serve(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("hook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.control.Serve(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.chat.Poll(ctx, a.manager)
		if errors.Is(err, telegram.ErrTooManyPollErrors) {
			a.setReady(false)
			a.reportError("telegram", "unreachable", err.Error())
			return err
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("chat poll: %w", err)
		}
		return nil
	})

	if a.metrics != nil {
		g.Go(func() error {
			err := a.metrics.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shCtx, shCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shCancel()
			return a.metrics.Shutdown(shCtx)
		})
	}

	// The stop command from the control plane cancels the group.
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-a.stop:
			slog.Info("stop command received")
			cancel()
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases the sockets. Safe to call after Run returned.
func (a *App) Close() error {
	var errs []error
	if a.hookSrv != nil {
		errs = append(errs, a.hookSrv.Close())
	}
	if a.control != nil {
		errs = append(errs, a.control.Close())
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	return errors.Join(errs...)
}

// ── control.Daemon ───────────────────────────────────────────────────────

// Status implements [control.Daemon].
func (a *App) Status() control.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	recording := false
	if a.voice != nil {
		recording = a.voice.Recording()
	}
	return control.Status{
		Daemon:    true,
		Mode:      string(a.mode),
		Voice:     a.voiceOn,
		Recording: recording,
		Ready:     a.ready,
	}
}

// SetMode implements [control.Daemon]. Switching to or from afk drives the
// manager, which flushes outstanding prompts on deactivation.
func (a *App) SetMode(mode string) error {
	m := config.Mode(mode)
	if !m.IsValid() {
		return fmt.Errorf("app: invalid mode %q", mode)
	}

	a.mu.Lock()
	prev := a.mode
	a.mode = m
	a.mu.Unlock()
	if prev == m {
		return nil
	}

	// Manager toggling re-enters onAFKToggle, which is a no-op once the
	// mode already matches.
	if m == config.ModeAFK {
		a.manager.Activate()
	} else if prev == config.ModeAFK {
		a.manager.Deactivate()
	}

	a.publish(control.Event{Name: "mode_changed", Message: string(m)})
	slog.Info("mode changed", "from", prev, "to", m)
	return nil
}

// onAFKToggle is invoked by the manager after chat-side /afk and /back.
func (a *App) onAFKToggle(active bool) {
	a.mu.Lock()
	prev := a.mode
	want := config.ModeNotify
	if active {
		want = config.ModeAFK
	} else if prev != config.ModeAFK {
		want = prev // /back from a non-afk mode keeps the mode
	}
	a.mode = want
	a.mu.Unlock()

	if prev != want {
		a.publish(control.Event{Name: "mode_changed", Message: string(want)})
		slog.Info("mode changed", "from", prev, "to", want)
	}
}

// SetVoice implements [control.Daemon].
func (a *App) SetVoice(on bool) error {
	if on && a.voice == nil {
		return errors.New("app: voice engines not configured")
	}

	a.mu.Lock()
	changed := a.voiceOn != on
	a.voiceOn = on
	a.mu.Unlock()

	if changed {
		a.publish(control.Event{Name: "voice_changed", Message: fmt.Sprintf("%t", on)})
	}
	return nil
}

// ReloadConfig implements [control.Daemon]: force an immediate re-check of
// the config file.
func (a *App) ReloadConfig() error {
	if a.watcher == nil {
		return errors.New("app: no config watcher running")
	}
	if err := a.watcher.ForceCheck(); err != nil {
		return err
	}
	a.publish(control.Event{Name: "config_reloaded"})
	return nil
}

// Shutdown implements [control.Daemon]. Must not block.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// OnConfigChange applies a hot reload. Install it as the watcher callback.
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		if err := a.SetVoice(new.Voice.Enabled); err != nil {
			slog.Warn("voice toggle from config failed", "err", err)
		}
	}
	if d.RestartNeeded {
		slog.Warn("config change requires a restart to take effect")
	}
}

// ── voice events ─────────────────────────────────────────────────────────

// RecordingStarted implements [voice.Events].
func (a *App) RecordingStarted() {
	a.publish(control.Event{Name: "recording_start"})
}

// RecordingStopped implements [voice.Events].
func (a *App) RecordingStopped() {
	a.publish(control.Event{Name: "recording_stop"})
}

// ── error dedup ──────────────────────────────────────────────────────────

// reportError publishes an error event unless the same source is already
// failing with the same code.
func (a *App) reportError(source, code, message string) {
	a.mu.Lock()
	if a.failing[source] == code {
		a.mu.Unlock()
		return
	}
	a.failing[source] = code
	a.mu.Unlock()

	a.publish(control.Event{Name: "error", Source: source, Message: message, Code: code})
}

// clearError publishes error_cleared if the source was failing.
func (a *App) clearError(source string) {
	a.mu.Lock()
	_, was := a.failing[source]
	delete(a.failing, source)
	a.mu.Unlock()

	if was {
		a.publish(control.Event{Name: "error_cleared", Source: source})
	}
}

func (a *App) publish(ev control.Event) {
	if a.control != nil {
		a.control.Publish(ev)
	}
}

func (a *App) setReady(ready bool) {
	a.mu.Lock()
	a.ready = ready
	a.mu.Unlock()
	if ready {
		a.clearError("telegram")
	}
}

// slogLevel maps the config level to slog's.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
