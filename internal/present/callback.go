package present

import (
	"strings"
)

// maxCallbackData is Telegram's limit on callback_data bytes. Values that
// would exceed it truncate the session/label portion, never the command
// prefix, so the action still parses.
const maxCallbackData = 64

// Action enumerates the callback-data dialect understood by the daemon.
type Action int

const (
	// ActionAnswer resolves a permission prompt: yes, always or no.
	ActionAnswer Action = iota

	// ActionOption selects a multi-choice option by label.
	ActionOption

	// ActionOptionOther asks for a typed reply instead of an option.
	ActionOptionOther

	// ActionReply arms a session as the reply target.
	ActionReply

	// ActionSkip rotates the presented request to the FIFO tail.
	ActionSkip

	// ActionShowQueue requests the queue overview message.
	ActionShowQueue

	// ActionPriority promotes a session's oldest pending request.
	ActionPriority

	// ActionTmuxPrompt arms a reply to a session from the sessions panel.
	ActionTmuxPrompt

	// ActionTmuxQueue priority-jumps a session from the sessions panel.
	ActionTmuxQueue
)

// Callback is the decoded form of a button's callback data.
type Callback struct {
	Action Action

	// Answer is "yes", "always" or "no" for ActionAnswer.
	Answer string

	// Label is the option label for ActionOption. May be truncated; the
	// router matches it back against the active request's options.
	Label string

	// Session is set for ActionReply, ActionPriority and the tmux panel
	// actions. May be truncated.
	Session string
}

// Callback data wire prefixes.
const (
	dataOther      = "opt:__other__"
	prefixOpt      = "opt:"
	prefixReply    = "reply:"
	prefixCmd      = "cmd:"
	prefixPriority = "cmd:priority:"
	prefixTmux     = "tmux:"
)

// ParseCallback decodes raw callback data. The second return value is
// false for data outside the dialect (foreign or corrupted buttons).
func ParseCallback(data string) (Callback, bool) {
	switch data {
	case "yes", "always", "no":
		return Callback{Action: ActionAnswer, Answer: data}, true
	case dataOther:
		return Callback{Action: ActionOptionOther}, true
	case "cmd:skip":
		return Callback{Action: ActionSkip}, true
	case "cmd:show_queue":
		return Callback{Action: ActionShowQueue}, true
	}

	switch {
	case strings.HasPrefix(data, prefixPriority):
		return Callback{Action: ActionPriority, Session: data[len(prefixPriority):]}, true
	case strings.HasPrefix(data, prefixReply):
		return Callback{Action: ActionReply, Session: data[len(prefixReply):]}, true
	case strings.HasPrefix(data, prefixOpt):
		return Callback{Action: ActionOption, Label: data[len(prefixOpt):]}, true
	case strings.HasPrefix(data, prefixTmux):
		rest := data[len(prefixTmux):]
		switch {
		case strings.HasPrefix(rest, "prompt:"):
			return Callback{Action: ActionTmuxPrompt, Session: rest[len("prompt:"):]}, true
		case strings.HasPrefix(rest, "queue:"):
			return Callback{Action: ActionTmuxQueue, Session: rest[len("queue:"):]}, true
		}
	}
	return Callback{}, false
}

// Encode renders the callback back to its wire form, applying the 64-byte
// truncation rule.
func (c Callback) Encode() string {
	switch c.Action {
	case ActionAnswer:
		return c.Answer
	case ActionOption:
		return clampData(prefixOpt, c.Label)
	case ActionOptionOther:
		return dataOther
	case ActionReply:
		return clampData(prefixReply, c.Session)
	case ActionSkip:
		return "cmd:skip"
	case ActionShowQueue:
		return "cmd:show_queue"
	case ActionPriority:
		return clampData(prefixPriority, c.Session)
	case ActionTmuxPrompt:
		return clampData("tmux:prompt:", c.Session)
	case ActionTmuxQueue:
		return clampData("tmux:queue:", c.Session)
	}
	return ""
}

// clampData joins prefix and value, truncating the value so the result
// fits maxCallbackData bytes.
func clampData(prefix, value string) string {
	budget := maxCallbackData - len(prefix)
	if budget < 0 {
		budget = 0
	}
	if len(value) > budget {
		value = value[:budget]
	}
	return prefix + value
}
