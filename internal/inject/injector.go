// Package inject delivers remote answers back into the originating
// terminal. Two mechanisms exist: a tmux send-keys path when the session
// runs inside the multiplexer, and a scripted OS-level keystroke path
// targeting a terminal device node for everything else. The scripted path
// exists because the in-kernel TIOCSTI injection is disabled on current
// macOS and hardened Linux kernels.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jvosloo/afkbridge/internal/resilience"
	"github.com/jvosloo/afkbridge/internal/tmux"
)

// Mode selects the delivery mechanism for a session.
type Mode int

const (
	// ModeTmux delivers through multiplexer send-keys.
	ModeTmux Mode = iota

	// ModeTTY delivers through scripted OS keystrokes aimed at the
	// window owning a terminal device node.
	ModeTTY
)

// String returns the mode name for logs and status output.
func (m Mode) String() string {
	if m == ModeTmux {
		return "tmux"
	}
	return "tty"
}

// Target describes where an answer must land.
type Target struct {
	Session string
	TTYPath string
	Mode    Mode
}

// Errors reported by Deliver.
var (
	// ErrNoTerminal means the target has neither a live multiplexer
	// session nor a usable device node.
	ErrNoTerminal = errors.New("inject: no terminal to deliver to")

	// ErrSuppressed means the session's delivery path tripped its
	// failure breaker and needs a fresh hook submission to reopen.
	ErrSuppressed = errors.New("inject: delivery suppressed after repeated failures")
)

// maxConsecutiveFailures trips a session's breaker; a new hook
// submission (which refreshes the device node) resets it. The reset
// timeout only matters for sessions that never submit again.
const (
	maxConsecutiveFailures = 3
	breakerResetTimeout    = 5 * time.Minute
)

// scriptTimeout bounds the external scripting process.
const scriptTimeout = 10 * time.Second

// runnerFunc executes one osascript snippet. Swapped out in tests.
type runnerFunc func(ctx context.Context, script string) error

// Injector owns the per-session delivery breakers. Safe for concurrent
// use.
type Injector struct {
	tmux   *tmux.Tmux
	runner runnerFunc

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// New creates an Injector delivering through the given multiplexer.
func New(t *tmux.Tmux) *Injector {
	return &Injector{
		tmux:     t,
		runner:   runOsascript,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// Deliver injects text followed by a Return into the target terminal.
// A failure counts toward the session's breaker; the caller should also
// discard the stored device node so later attempts fall through to the
// "no terminal" path.
func (in *Injector) Deliver(ctx context.Context, target Target, text string) error {
	err := in.breaker(target.Session).Execute(func() error {
		switch target.Mode {
		case ModeTmux:
			return in.deliverTmux(ctx, target.Session, text)
		case ModeTTY:
			return in.deliverTTY(ctx, target.TTYPath, text)
		default:
			return fmt.Errorf("inject: unknown mode %d", target.Mode)
		}
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return ErrSuppressed
	}
	return err
}

// Refresh closes the session's breaker. Called when a new hook
// submission provides a fresh device node.
func (in *Injector) Refresh(session string) {
	in.mu.Lock()
	br := in.breakers[session]
	in.mu.Unlock()
	if br != nil {
		br.Reset()
	}
}

// Forget drops all breaker state for a cleaned-up session.
func (in *Injector) Forget(session string) {
	in.mu.Lock()
	delete(in.breakers, session)
	in.mu.Unlock()
}

func (in *Injector) breaker(session string) *resilience.CircuitBreaker {
	in.mu.Lock()
	defer in.mu.Unlock()
	br, ok := in.breakers[session]
	if !ok {
		br = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "inject:" + session,
			MaxFailures:  maxConsecutiveFailures,
			ResetTimeout: breakerResetTimeout,
		})
		in.breakers[session] = br
	}
	return br
}

func (in *Injector) deliverTmux(ctx context.Context, session, text string) error {
	if !in.tmux.HasTarget(ctx, session) {
		return fmt.Errorf("%w: tmux session %q not found", ErrNoTerminal, session)
	}
	if st := in.tmux.StatusOf(ctx, session); !st.Actionable() {
		return fmt.Errorf("inject: tmux session %q not actionable (status %s)", session, st)
	}
	if err := in.tmux.SendKeys(ctx, session, text, true); err != nil {
		return fmt.Errorf("inject: send-keys to %q: %w", session, err)
	}
	slog.Debug("injected via tmux", "session", session, "bytes", len(text))
	return nil
}

func (in *Injector) deliverTTY(ctx context.Context, ttyPath, text string) error {
	if ttyPath == "" {
		return ErrNoTerminal
	}
	if err := unix.Access(ttyPath, unix.W_OK); err != nil {
		return fmt.Errorf("%w: device %s not writable: %v", ErrNoTerminal, ttyPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	if err := in.runner(ctx, keystrokeScript(ttyPath, text)); err != nil {
		return fmt.Errorf("inject: scripted keystrokes for %s: %w", ttyPath, err)
	}
	slog.Debug("injected via scripted keystrokes", "tty", ttyPath, "bytes", len(text))
	return nil
}

// keystrokeScript builds the AppleScript that raises the terminal window
// owning ttyPath and types text followed by Return (key code 36).
func keystrokeScript(ttyPath, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `tell application "Terminal"
	activate
	repeat with w in windows
		repeat with t in tabs of w
			if tty of t is "%s" then set frontmost of w to true
		end repeat
	end repeat
end tell
tell application "System Events"
	keystroke "%s"
	key code 36
end tell`, escapeAppleScript(ttyPath), escapeAppleScript(text))
	return b.String()
}

// escapeAppleScript escapes backslashes and double quotes so text can be
// embedded in an AppleScript string literal.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func runOsascript(ctx context.Context, script string) error {
	out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("osascript: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
