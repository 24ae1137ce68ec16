// Package queue holds the in-memory request queue that multiplexes
// concurrent assistant sessions over the single remote chat surface.
//
// At most one request is *presented* (shown in chat with buttons) at any
// time; all other submitted requests wait in a FIFO. The queue itself is
// not synchronised — the AFK manager serialises all access under its own
// mutex, which keeps every queue operation short and free of I/O.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// ctxNone is passed to fsm transitions; no callback needs cancellation.
var ctxNone = context.Background()

// Kind classifies a hook-submitted request.
type Kind string

const (
	// KindPermission is a yes/always/no tool-permission prompt.
	KindPermission Kind = "permission"

	// KindInput is a free-text prompt.
	KindInput Kind = "input"

	// KindMultiChoice is an ordered option picker with an "Other" escape.
	KindMultiChoice Kind = "multi_choice"

	// KindContext is a non-blocking "here is what the assistant just said"
	// update. Context requests are never enqueued.
	KindContext Kind = "context"
)

// IsValid reports whether k is a recognised request kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindPermission, KindInput, KindMultiChoice, KindContext:
		return true
	}
	return false
}

// Option is one selectable entry of a multi-choice request.
type Option struct {
	Label       string
	Description string
}

// Request lifecycle states.
const (
	StatePending   = "pending"
	StatePresented = "presented"
	StateDone      = "done"
)

// Request lifecycle events.
const (
	eventPromote = "promote"
	eventAnswer  = "answer"
	eventSkip    = "skip"
	eventFlush   = "flush"
	eventExpire  = "expire"
)

// Request is one prompt awaiting a remote answer.
type Request struct {
	// Session identifies the originating terminal session (working
	// directory basename + short random suffix).
	Session string

	// Kind is the prompt category.
	Kind Kind

	// Prompt is the human-readable question.
	Prompt string

	// Context carries the surrounding assistant output, when provided.
	Context string

	// Options is non-empty iff Kind == KindMultiChoice.
	Options []Option

	// ResponsePath is the sentinel file the hook polls for the answer.
	ResponsePath string

	// TTYPath is the terminal device node captured when the hook ran.
	TTYPath string

	// MessageID is the remote chat message id, assigned exactly when the
	// request is presented. Zero while pending.
	MessageID int

	// AwaitingText is set after the user pressed "Other" on a multi-choice
	// request; the next free-text message resolves it.
	AwaitingText bool

	// CreatedAt is used for "waiting Ns" displays.
	CreatedAt time.Time

	life *fsm.FSM
}

// NewRequest creates a pending request with its lifecycle machine.
func NewRequest(session string, kind Kind, prompt string) *Request {
	r := &Request{
		Session:   session,
		Kind:      kind,
		Prompt:    prompt,
		CreatedAt: time.Now(),
	}
	r.life = fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventPromote, Src: []string{StatePending}, Dst: StatePresented},
			{Name: eventAnswer, Src: []string{StatePresented}, Dst: StateDone},
			{Name: eventSkip, Src: []string{StatePresented}, Dst: StatePending},
			{Name: eventFlush, Src: []string{StatePending, StatePresented}, Dst: StateDone},
			{Name: eventExpire, Src: []string{StatePending, StatePresented}, Dst: StateDone},
		},
		fsm.Callbacks{},
	)
	return r
}

// State returns the current lifecycle state.
func (r *Request) State() string {
	return r.life.Current()
}

// promote marks the request as presented. The caller assigns MessageID
// once the chat message has actually been sent.
func (r *Request) promote() error {
	return r.life.Event(ctxNone, eventPromote)
}

// demote returns a presented request to the pending state (skip or
// priority jump). The remote message id is cleared — a request is only
// addressable by message id while it is the one presented.
func (r *Request) demote() error {
	if err := r.life.Event(ctxNone, eventSkip); err != nil {
		return err
	}
	r.MessageID = 0
	r.AwaitingText = false
	return nil
}

// Answer marks the request resolved by a remote reply.
func (r *Request) Answer() error {
	return r.life.Event(ctxNone, eventAnswer)
}

// Flush marks the request resolved by AFK deactivation.
func (r *Request) Flush() error {
	return r.life.Event(ctxNone, eventFlush)
}

// Age returns how long the request has been waiting, rounded to seconds.
func (r *Request) Age() time.Duration {
	return time.Since(r.CreatedAt).Round(time.Second)
}

// PickerIndex returns the number of Down-arrow presses the hook companion
// must issue to select label in the assistant's interactive picker: the
// 0-based index of the label, or len(Options) to reach "Other". Returns an
// error when the label is not one of the request's options.
func (r *Request) PickerIndex(label string) (int, error) {
	for i, opt := range r.Options {
		if opt.Label == label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("queue: option %q not in request for session %s", label, r.Session)
}

// PickerIndexOther returns the Down-arrow count that reaches the "Other"
// entry placed after the last real option.
func (r *Request) PickerIndexOther() int {
	return len(r.Options)
}
