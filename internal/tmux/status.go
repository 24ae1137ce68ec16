package tmux

import "strings"

// Status is the inferred activity state of an assistant session.
type Status string

const (
	// StatusIdle means the assistant is at its prompt awaiting input.
	StatusIdle Status = "idle"

	// StatusWorking means the assistant is mid-task.
	StatusWorking Status = "working"

	// StatusWaiting means the assistant is blocked on a yes/no choice.
	StatusWaiting Status = "waiting"

	// StatusDead means the session is gone from the multiplexer.
	StatusDead Status = "dead"

	// StatusUnknown means the pane could not be read or matched nothing.
	StatusUnknown Status = "unknown"
)

// Actionable reports whether keystrokes injected now will reach the
// assistant rather than vanish into a dead or unreadable pane.
func (s Status) Actionable() bool {
	switch s {
	case StatusIdle, StatusWaiting, StatusWorking:
		return true
	}
	return false
}

// workingHints appear while the assistant is busy (the interrupt hint is
// only shown mid-task).
var workingHints = []string{
	"esc to interrupt",
	"ctrl+c to interrupt",
}

// waitingHints appear when the assistant is blocked on a choice prompt.
var waitingHints = []string{
	"❯ 1.",
	"(y/n)",
	"[y/n]",
	"Do you want",
}

// promptGlyphs are the bare input-prompt markers that indicate idle.
var promptGlyphs = []string{"❯", ">", "›"}

// InferStatus classifies pane content by substring patterns: an interrupt
// hint means working, a choice prompt means waiting, a bare prompt glyph
// with neither means idle.
func InferStatus(pane string) Status {
	lower := strings.ToLower(pane)
	for _, hint := range workingHints {
		if strings.Contains(lower, hint) {
			return StatusWorking
		}
	}
	for _, hint := range waitingHints {
		if strings.Contains(pane, hint) {
			return StatusWaiting
		}
	}
	if last := lastNonEmptyLine(pane); last != "" {
		for _, glyph := range promptGlyphs {
			if strings.HasPrefix(last, glyph) {
				return StatusIdle
			}
		}
	}
	return StatusUnknown
}

func lastNonEmptyLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
