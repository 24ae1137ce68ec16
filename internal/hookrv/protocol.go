// Package hookrv implements the hook rendezvous: a process-private unix
// stream socket where terminal-side hook scripts submit prompts. The
// protocol is one JSON document per connection in each direction; the
// hook then polls the returned sentinel path for the answer.
package hookrv

// Request is what a hook submits when the assistant raises a prompt.
type Request struct {
	// Session is the originating session id (cwd basename + suffix).
	Session string `json:"session"`

	// Type is permission, input, multi_choice or context.
	Type string `json:"type"`

	// Prompt is the human-readable question.
	Prompt string `json:"prompt"`

	// Context is the surrounding assistant output, when available.
	Context string `json:"context,omitempty"`

	// Options carries multi-choice entries.
	Options []RequestOption `json:"options,omitempty"`

	// TTYPath is the hook's controlling terminal device node.
	TTYPath string `json:"tty_path,omitempty"`
}

// RequestOption is one multi-choice entry as submitted by the hook.
type RequestOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Response tells the hook whether to block on a sentinel path.
type Response struct {
	// Wait is false when AFK is inactive or the presenter is not ready;
	// the hook then proceeds locally without blocking.
	Wait bool `json:"wait"`

	// ResponsePath is the sentinel file to poll, set iff Wait is true.
	ResponsePath string `json:"response_path,omitempty"`
}

// Sentinel values the hook must recognise. Anything else written to the
// sentinel is the answer itself.
const (
	// SentinelFlush means AFK was deactivated; the hook declines locally.
	SentinelFlush = "__flush__"

	// SentinelDenyForQuestion means the remote user asked a clarifying
	// question instead of answering; the hook denies the permission so
	// the assistant re-asks after responding. The question text follows
	// on the next line.
	SentinelDenyForQuestion = "deny_for_question"
)
