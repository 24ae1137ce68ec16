package afk

import (
	"context"
	"fmt"
	"strings"

	"github.com/jvosloo/afkbridge/internal/present"
)

// helpText lists the chat command surface. Rendered as MarkdownV2.
const helpText = "*Commands*\n" +
	"/afk — toggle AFK mode\n" +
	"/back — leave AFK mode\n" +
	"/status — daemon status\n" +
	"/queue — show the request queue\n" +
	"/skip — skip the current request\n" +
	"/flush — flush all pending requests\n" +
	"/sessions — list tmux sessions\n" +
	"/help — this text"

// handleCommand dispatches one slash command. Commands are accepted
// regardless of the active flag so the bridge can always be toggled from
// the chat.
func (m *Manager) handleCommand(text string) {
	cmd := strings.ToLower(strings.Fields(text)[0])
	// Group chats suffix commands with the bot name.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/afk":
		if m.Active() {
			m.Deactivate()
		} else {
			m.Activate()
		}

	case "/back":
		if m.Active() {
			m.Deactivate()
		} else {
			m.send(present.Message{Body: "Not in AFK mode\\."})
		}

	case "/status":
		m.sendStatus()

	case "/queue":
		m.showQueue()

	case "/skip":
		m.skipActive()

	case "/flush":
		m.flushCommand()

	case "/sessions":
		m.sendSessions()

	case "/help", "/start":
		m.send(present.Message{Body: helpText})

	default:
		m.send(present.Message{Body: "Unknown command\\. See /help\\."})
	}
}

// sendStatus reports the active flag, queue depth and known sessions.
func (m *Manager) sendStatus() {
	m.mu.Lock()
	active := m.active
	total := m.q.Len()
	pending := m.q.PendingLen()
	sessions := len(m.sessions)
	target := m.replyTarget
	m.mu.Unlock()

	state := "off"
	if active {
		state = "on"
	}
	body := fmt.Sprintf("AFK mode *%s*\n%d queued \\(%d pending\\), %d session%s known",
		state, total, pending, sessions, plural(sessions))
	if target != "" {
		body += fmt.Sprintf("\nReply target: `%s`", present.Escape(target))
	}
	if m.rules != nil {
		body += fmt.Sprintf("\n%d always\\-allow rule%s", m.rules.Len(), plural(m.rules.Len()))
	}
	m.send(present.Message{Body: body})
}

// flushCommand drains the queue without leaving AFK mode.
func (m *Manager) flushCommand() {
	m.mu.Lock()
	drained := m.q.Clear()
	m.mu.Unlock()

	m.flush(drained)
	m.send(present.Message{Body: fmt.Sprintf("Flushed %d\\.", len(drained))})
}

// sendSessions shows the multiplexer sessions panel with their inferred
// statuses.
func (m *Manager) sendSessions() {
	if m.mux == nil {
		m.send(present.Message{Body: "No tmux available\\."})
		return
	}
	ctx := context.Background()
	names, err := m.mux.ListSessions(ctx)
	if err != nil {
		m.send(present.Message{Body: "tmux error: " + present.Escape(err.Error())})
		return
	}

	entries := make([]present.SessionEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, present.SessionEntry{
			Name:   n,
			Status: string(m.mux.StatusOf(ctx, n)),
		})
	}

	m.mu.Lock()
	msg := present.RenderSessions(entries, m.q.VisualFor)
	m.mu.Unlock()
	m.send(msg)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
