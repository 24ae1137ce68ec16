// Package tmux wraps the terminal multiplexer's control commands: session
// listing, pane capture and keystroke injection by session name. The
// assistant's activity state is inferred from captured pane content.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds every tmux subprocess invocation.
const commandTimeout = 10 * time.Second

// Tmux shells out to the tmux binary. Safe for concurrent use; every
// call spawns its own subprocess.
type Tmux struct {
	binary string
}

// New returns a Tmux using the given binary name or path. An empty
// binary defaults to "tmux" on PATH.
func New(binary string) *Tmux {
	if binary == "" {
		binary = "tmux"
	}
	return &Tmux{binary: binary}
}

// Available reports whether the tmux binary can be invoked at all.
func (t *Tmux) Available(ctx context.Context) bool {
	_, err := t.run(ctx, "-V")
	return err == nil
}

// run executes one tmux command with a bounded timeout.
func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, t.binary, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// ListSessions returns the names of all running tmux sessions.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running means no sessions, not a failure.
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// HasTarget reports whether session exists in the multiplexer.
func (t *Tmux) HasTarget(ctx context.Context, session string) bool {
	_, err := t.run(ctx, "has-session", "-t", session)
	return err == nil
}

// CapturePane returns the visible content of the session's active pane.
func (t *Tmux) CapturePane(ctx context.Context, session string) (string, error) {
	return t.run(ctx, "capture-pane", "-t", session, "-p")
}

// SendKeys injects literal text into the session's active pane with no
// key-name interpretation, optionally followed by a Return keypress.
func (t *Tmux) SendKeys(ctx context.Context, session, text string, enter bool) error {
	if _, err := t.run(ctx, "send-keys", "-t", session, "-l", text); err != nil {
		return err
	}
	if enter {
		if _, err := t.run(ctx, "send-keys", "-t", session, "Enter"); err != nil {
			return err
		}
	}
	return nil
}

// StatusOf infers the assistant's activity state inside session from its
// captured pane content.
func (t *Tmux) StatusOf(ctx context.Context, session string) Status {
	if !t.HasTarget(ctx, session) {
		return StatusDead
	}
	pane, err := t.CapturePane(ctx, session)
	if err != nil {
		return StatusUnknown
	}
	return InferStatus(pane)
}
