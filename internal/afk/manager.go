// Package afk implements the bridge orchestrator: it accepts hook
// submissions, multiplexes them over the single chat surface through the
// request queue, routes chat answers back to sentinel files and drives the
// terminal injector for free-form replies.
//
// All queue and session state is guarded by one manager-wide mutex.
// Operations under the lock are short and perform no I/O: chat messages
// are rendered under the lock but sent outside it.
package afk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jvosloo/afkbridge/internal/hookrv"
	"github.com/jvosloo/afkbridge/internal/inject"
	"github.com/jvosloo/afkbridge/internal/observe"
	"github.com/jvosloo/afkbridge/internal/present"
	"github.com/jvosloo/afkbridge/internal/queue"
	"github.com/jvosloo/afkbridge/internal/rules"
	"github.com/jvosloo/afkbridge/internal/tmux"
)

// Transport is the narrow chat surface the manager drives. Implemented by
// [telegram.Transport]; faked in tests.
type Transport interface {
	// Send posts a message and returns its id.
	Send(text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error)

	// EditMarkup replaces a message's buttons; nil strips them.
	EditMarkup(messageID int, markup *tgbotapi.InlineKeyboardMarkup) error

	// AckCallback answers a button press, optionally with a toast.
	AckCallback(callbackID, toast string) error
}

// Deliverer injects answer text into a terminal. Implemented by
// [inject.Injector].
type Deliverer interface {
	Deliver(ctx context.Context, target inject.Target, text string) error
	Refresh(session string)
	Forget(session string)
}

// Multiplexer is the tmux surface the sessions panel and reply-mode
// selection need. Implemented by [tmux.Tmux].
type Multiplexer interface {
	ListSessions(ctx context.Context) ([]string, error)
	HasTarget(ctx context.Context, session string) bool
	StatusOf(ctx context.Context, session string) tmux.Status
}

// modeProbeTimeout bounds the tmux lookup done while a hook connection is
// waiting on its handshake reply. Must stay under the rendezvous server's
// connection deadline.
const modeProbeTimeout = 2 * time.Second

// sessionState is what the manager remembers about one terminal session
// between hook submissions.
type sessionState struct {
	snippet string
	tty     string
	mode    inject.Mode
}

// Manager is the orchestrator. Safe for concurrent use.
type Manager struct {
	transport Transport
	injector  Deliverer
	mux       Multiplexer
	rules     *rules.Cache
	met       *observe.Metrics
	log       *slog.Logger

	responseDir string
	onToggle    func(active bool)

	mu          sync.Mutex
	active      bool
	q           *queue.Queue
	sessions    map[string]*sessionState
	replyTarget string
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.met = met }
}

// WithToggleFunc installs the callback invoked after /afk and /back flip
// the active flag, so the daemon can track the mode change.
func WithToggleFunc(fn func(active bool)) Option {
	return func(m *Manager) { m.onToggle = fn }
}

// New creates a Manager. responseDir is the root under which per-session
// sentinel files are written.
func New(t Transport, d Deliverer, mux Multiplexer, rc *rules.Cache, responseDir string, opts ...Option) *Manager {
	m := &Manager{
		transport:   t,
		injector:    d,
		mux:         mux,
		rules:       rc,
		met:         observe.DefaultMetrics(),
		log:         slog.Default(),
		responseDir: responseDir,
		q:           queue.New(),
		sessions:    make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Active reports whether AFK mode is on.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// QueueLen reports the number of outstanding requests.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Len()
}

// Activate switches AFK mode on and announces it in the chat.
func (m *Manager) Activate() {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.mu.Unlock()

	m.send(present.Message{Body: "AFK mode *on*\\. Prompts will be forwarded here\\."})
	if m.onToggle != nil {
		m.onToggle(true)
	}
}

// Deactivate switches AFK mode off, flushes every outstanding sentinel and
// sends one goodbye message with the flushed count.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	drained := m.q.Clear()
	m.replyTarget = ""
	forgotten := m.knownSessionsLocked()
	m.sessions = make(map[string]*sessionState)
	m.mu.Unlock()

	for _, s := range forgotten {
		m.injector.Forget(s)
	}
	m.flush(drained)
	m.send(present.Message{Body: fmt.Sprintf("AFK mode *off*\\. Flushed %d\\.", len(drained))})
	if m.onToggle != nil {
		m.onToggle(false)
	}
}

// flush writes __flush__ to each drained request's sentinel so the hooks
// unblock and decline locally.
func (m *Manager) flush(drained []*queue.Request) {
	ctx := context.Background()
	for _, r := range drained {
		if err := writeSentinel(r.ResponsePath, hookrv.SentinelFlush); err != nil {
			m.log.Warn("flush sentinel failed", "session", r.Session, "err", err)
		}
		m.met.RecordSentinel(ctx, "flush")
		m.met.RecordResolved(ctx, string(r.Kind), "flushed")
	}
}

// ── hook rendezvous ──────────────────────────────────────────────────────

// HandleHookRequest implements [hookrv.Handler]. Called from a hook
// connection goroutine; must not block on chat I/O longer than the hook's
// handshake deadline allows.
func (m *Manager) HandleHookRequest(req hookrv.Request) hookrv.Response {
	kind := queue.Kind(req.Type)
	if req.Session == "" || !kind.IsValid() {
		m.met.RecordHookRequest(context.Background(), req.Type, "invalid")
		return hookrv.Response{Wait: false}
	}
	if !m.Active() {
		m.met.RecordHookRequest(context.Background(), req.Type, "inactive")
		return hookrv.Response{Wait: false}
	}

	// Delivery mode for later replies: prefer send-keys when the session
	// lives in the multiplexer, scripted keystrokes otherwise. Probed
	// before taking the lock, with a deadline well under the hook's
	// handshake timeout so a wedged multiplexer server cannot stall the
	// rendezvous reply.
	mode := inject.ModeTTY
	if m.mux != nil {
		probeCtx, cancel := context.WithTimeout(context.Background(), modeProbeTimeout)
		if m.mux.HasTarget(probeCtx, req.Session) {
			mode = inject.ModeTmux
		}
		cancel()
	}

	if kind == queue.KindContext {
		m.handleContext(req, mode)
		m.met.RecordHookRequest(context.Background(), req.Type, "ok")
		return hookrv.Response{Wait: false}
	}

	path := responsePath(m.responseDir, req.Session, kind)

	// Previously always-allowed permission prompts are answered without a
	// chat round trip; the hook unblocks on its first sentinel poll.
	if kind == queue.KindPermission && m.rules != nil && m.rules.IsAllowed(req.Prompt) {
		if err := writeSentinel(path, "always"); err != nil {
			m.log.Error("cached-allow sentinel failed", "session", req.Session, "err", err)
			return hookrv.Response{Wait: false}
		}
		m.log.Info("permission auto-allowed", "session", req.Session)
		m.met.RecordHookRequest(context.Background(), req.Type, "auto_allowed")
		m.met.RecordSentinel(context.Background(), "always")
		return hookrv.Response{Wait: true, ResponsePath: path}
	}

	r := queue.NewRequest(req.Session, kind, req.Prompt)
	r.Context = req.Context
	r.ResponsePath = path
	r.TTYPath = req.TTYPath
	for _, o := range req.Options {
		r.Options = append(r.Options, queue.Option{Label: o.Label, Description: o.Description})
	}

	m.mu.Lock()
	m.rememberLocked(req.Session, req.Context, req.TTYPath, mode)
	placement, pos := m.q.Enqueue(r)
	total := m.q.Len()
	var msg present.Message
	if placement == queue.PlacedActive {
		msg = present.Render(r, m.q.VisualFor(r.Session), m.q.PendingLen())
	} else {
		msg = present.RenderQueued(r, m.q.VisualFor(r.Session), pos, total)
	}
	m.mu.Unlock()

	m.injector.Refresh(req.Session)

	placed := "queued"
	if placement == queue.PlacedActive {
		placed = "active"
	}
	m.met.RecordHookRequest(context.Background(), req.Type, "ok")
	m.met.RecordEnqueued(context.Background(), string(kind), placed)
	m.log.Info("hook request enqueued",
		"session", req.Session, "kind", kind, "placement", placed, "position", pos)

	if placement == queue.PlacedActive {
		m.deliverPresentation(r, msg)
	} else {
		m.send(msg)
	}
	return hookrv.Response{Wait: true, ResponsePath: path}
}

// handleContext records a context update, arms the session as reply target
// and shows the snippet with its Reply button. Never enqueues.
func (m *Manager) handleContext(req hookrv.Request, mode inject.Mode) {
	m.mu.Lock()
	m.rememberLocked(req.Session, req.Context, req.TTYPath, mode)
	m.replyTarget = req.Session
	snippet := req.Context
	if snippet == "" {
		snippet = req.Prompt
	}
	msg := present.RenderContext(req.Session, m.q.VisualFor(req.Session), snippet)
	m.mu.Unlock()

	m.injector.Refresh(req.Session)
	m.send(msg)
}

// rememberLocked updates the session map; caller holds m.mu.
func (m *Manager) rememberLocked(session, snippet, tty string, mode inject.Mode) {
	st, ok := m.sessions[session]
	if !ok {
		st = &sessionState{}
		m.sessions[session] = st
	}
	if snippet != "" {
		st.snippet = snippet
	}
	if tty != "" {
		st.tty = tty
	}
	st.mode = mode
}

// ── chat events ──────────────────────────────────────────────────────────

// HandleText implements [telegram.Handler] for plain messages.
func (m *Manager) HandleText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		m.handleCommand(text)
		return
	}

	if !m.Active() {
		m.send(present.Message{Body: "Not in AFK mode\\. Send /afk to activate\\."})
		return
	}

	m.mu.Lock()
	r := m.q.Active()
	if r == nil {
		target, st := m.replyTarget, m.sessions[m.replyTarget]
		m.mu.Unlock()
		m.replyToSession(target, st, text)
		return
	}

	// A multi-choice request takes free text only after "Other" was
	// pressed; an unsolicited message would otherwise resolve a picker
	// the terminal is still displaying.
	if r.Kind == queue.KindMultiChoice && !r.AwaitingText {
		m.mu.Unlock()
		m.send(present.Message{Body: "Pick an option above, or press *Other* to type a reply\\."})
		return
	}

	// Free text resolves the presented request. A permission prompt
	// cannot take free text as an answer, so it is treated as a
	// clarifying question: deny now, the assistant re-asks after
	// responding.
	value := text
	class := "answer"
	if r.Kind == queue.KindPermission {
		value = hookrv.SentinelDenyForQuestion + "\n" + text
		class = "deny_for_question"
	}
	m.resolveActiveLocked(r, value, class)
	confirm, next := m.advanceLocked(fmt.Sprintf("✓ `%s` — reply sent", present.Escape(r.Session)))
	m.mu.Unlock()

	m.finishResolved(r, confirm, next)
}

// HandleButton implements [telegram.Handler] for inline-button presses.
func (m *Manager) HandleButton(callbackID, data string, messageID int) {
	cb, ok := present.ParseCallback(data)
	if !ok {
		m.ack(callbackID, "")
		m.log.Debug("unknown callback data", "data", data)
		return
	}

	switch cb.Action {
	case present.ActionSkip:
		m.ack(callbackID, "")
		m.skipActive()

	case present.ActionShowQueue:
		m.ack(callbackID, "")
		m.showQueue()

	case present.ActionPriority, present.ActionTmuxQueue:
		m.ack(callbackID, "")
		m.priorityJump(cb.Session)

	case present.ActionReply, present.ActionTmuxPrompt:
		m.armReply(callbackID, cb.Session)

	case present.ActionAnswer:
		m.answerActive(callbackID, messageID, cb.Answer)

	case present.ActionOption:
		m.pickOption(callbackID, messageID, cb.Label)

	case present.ActionOptionOther:
		m.wantOther(callbackID, messageID)
	}
}

// answerActive resolves the presented permission request addressed by
// messageID with yes, always or no.
func (m *Manager) answerActive(callbackID string, messageID int, answer string) {
	m.mu.Lock()
	r := m.q.Active()
	if r == nil || r.MessageID != messageID {
		m.mu.Unlock()
		m.expireButtons(callbackID, messageID)
		return
	}
	if answer == "always" && m.rules != nil {
		// Persisting the fingerprint is file I/O, but it is rare and
		// bounded; moving it outside the lock would race a duplicate
		// prompt arriving between unlock and persist.
		m.rules.Allow(r.Prompt)
	}
	m.resolveActiveLocked(r, answer, answer)
	confirm, next := m.advanceLocked(fmt.Sprintf("✓ `%s` — %s", present.Escape(r.Session), answer))
	m.mu.Unlock()

	m.ack(callbackID, "")
	m.finishResolved(r, confirm, next)
}

// pickOption resolves the presented multi-choice request with one of its
// labels. The sentinel carries the Down-arrow count the hook companion
// needs, then a tab, then the label.
func (m *Manager) pickOption(callbackID string, messageID int, label string) {
	m.mu.Lock()
	r := m.q.Active()
	if r == nil || r.MessageID != messageID || r.Kind != queue.KindMultiChoice {
		m.mu.Unlock()
		m.expireButtons(callbackID, messageID)
		return
	}

	labels := make([]string, len(r.Options))
	for i, o := range r.Options {
		labels[i] = o.Label
	}
	full := resolveOption(label, labels)
	idx, err := r.PickerIndex(full)
	if err != nil {
		m.mu.Unlock()
		m.ack(callbackID, "Unknown option")
		m.log.Warn("option not resolvable", "label", label, "session", r.Session)
		return
	}
	m.resolveActiveLocked(r, fmt.Sprintf("%d\t%s", idx, full), "picker")
	confirm, next := m.advanceLocked(fmt.Sprintf("✓ `%s` — %s", present.Escape(r.Session), present.Escape(full)))
	m.mu.Unlock()

	m.ack(callbackID, "")
	m.finishResolved(r, confirm, next)
}

// wantOther keeps the presented multi-choice request alive and asks for a
// typed reply; the next free-text message resolves it.
func (m *Manager) wantOther(callbackID string, messageID int) {
	m.mu.Lock()
	r := m.q.Active()
	if r == nil || r.MessageID != messageID || r.Kind != queue.KindMultiChoice {
		m.mu.Unlock()
		m.expireButtons(callbackID, messageID)
		return
	}
	r.AwaitingText = true
	m.mu.Unlock()

	m.ack(callbackID, "")
	m.send(present.Message{Body: "Type your reply below:"})
}

// armReply designates a session to receive the next free-text message.
func (m *Manager) armReply(callbackID, session string) {
	m.mu.Lock()
	full := resolveSession(session, m.knownSessionsLocked())
	if full == "" {
		// Panel buttons can name sessions the manager has never seen a
		// hook from; accept them as tmux-only targets.
		full = session
		m.rememberLocked(full, "", "", inject.ModeTmux)
	}
	m.replyTarget = full
	m.mu.Unlock()

	m.ack(callbackID, "Replying to "+full)
	m.send(present.Message{Body: fmt.Sprintf("Type your message for `%s`:", present.Escape(full))})
}

// skipActive rotates the presented request to the FIFO tail and presents
// the next one.
func (m *Manager) skipActive() {
	m.mu.Lock()
	old := m.q.Active()
	var oldID int
	if old != nil {
		oldID = old.MessageID // cleared by the demotion inside Skip
	}
	if old == nil || !m.q.Skip() {
		m.mu.Unlock()
		m.send(present.Message{Body: "Nothing to skip\\."})
		return
	}
	next := m.q.Active()
	msg := present.Render(next, m.q.VisualFor(next.Session), m.q.PendingLen())
	m.mu.Unlock()

	if oldID != 0 {
		m.stripButtons(oldID)
	}
	m.deliverPresentation(next, msg)
}

// priorityJump promotes a session's oldest pending request.
func (m *Manager) priorityJump(session string) {
	m.mu.Lock()
	full := resolveSession(session, m.pendingSessionsLocked())
	if full == "" {
		m.mu.Unlock()
		m.send(present.Message{Body: "No pending requests for that session\\."})
		return
	}
	prior := m.q.Active()
	var priorID int
	if prior != nil {
		priorID = prior.MessageID
	}
	promoted := m.q.PriorityJump(full)
	if promoted == nil {
		m.mu.Unlock()
		m.send(present.Message{Body: "No pending requests for that session\\."})
		return
	}
	msg := present.Render(promoted, m.q.VisualFor(promoted.Session), m.q.PendingLen())
	m.mu.Unlock()

	if priorID != 0 {
		m.stripButtons(priorID)
	}
	m.deliverPresentation(promoted, msg)
}

// showQueue sends the ordered queue overview.
func (m *Manager) showQueue() {
	m.mu.Lock()
	summary := m.q.Summary()
	msg := present.RenderQueue(summary, m.q.VisualFor)
	m.mu.Unlock()

	m.send(msg)
}

// replyToSession delivers free text to the armed reply target through the
// injector. A failure warns the user, discards the stored device node and
// clears the target.
func (m *Manager) replyToSession(target string, st *sessionState, text string) {
	if target == "" {
		m.send(present.Message{Body: "Queue is empty and no reply target is set\\."})
		return
	}

	tgt := inject.Target{Session: target, Mode: inject.ModeTmux}
	if st != nil {
		tgt.TTYPath = st.tty
		tgt.Mode = st.mode
	}

	start := time.Now()
	err := m.injector.Deliver(context.Background(), tgt, text)
	m.met.RecordInjection(context.Background(), tgt.Mode.String(), time.Since(start), err)
	if err != nil {
		m.mu.Lock()
		if st != nil {
			st.tty = ""
		}
		m.replyTarget = ""
		m.mu.Unlock()
		m.log.Warn("reply injection failed", "session", target, "err", err)
		m.send(present.Message{Body: fmt.Sprintf("Could not reach `%s`: %s", present.Escape(target), present.Escape(err.Error()))})
		return
	}
	m.send(present.Message{Body: fmt.Sprintf("Sent to `%s`\\.", present.Escape(target))})
}

// ── resolution plumbing ──────────────────────────────────────────────────

// resolveActiveLocked writes the sentinel for the presented request and
// marks it answered. Caller holds m.mu; the sentinel write is a single
// small file operation and keeping it under the lock closes the race with
// a concurrent flush.
func (m *Manager) resolveActiveLocked(r *queue.Request, value, class string) {
	if err := writeSentinel(r.ResponsePath, value); err != nil {
		m.log.Error("sentinel write failed", "session", r.Session, "err", err)
	}
	_ = r.Answer()
	m.met.RecordSentinel(context.Background(), class)
	m.met.RecordResolved(context.Background(), string(r.Kind), "answered")
}

// advanceLocked promotes the next pending request and renders both the
// confirmation and the next presentation. Caller holds m.mu.
func (m *Manager) advanceLocked(confirmBody string) (confirm present.Message, next *presentation) {
	confirm = present.Message{Body: confirmBody}
	if n := m.q.Advance(); n != nil {
		next = &presentation{
			request: n,
			message: present.Render(n, m.q.VisualFor(n.Session), m.q.PendingLen()),
		}
	}
	return confirm, next
}

// presentation pairs a promoted request with its rendered message so the
// send can happen outside the lock.
type presentation struct {
	request *queue.Request
	message present.Message
}

// finishResolved performs the chat I/O that follows a resolution: strip
// the answered message's buttons, confirm, and present the successor.
func (m *Manager) finishResolved(resolved *queue.Request, confirm present.Message, next *presentation) {
	if id := resolved.MessageID; id != 0 {
		m.stripButtons(id)
	}
	m.send(confirm)
	if next != nil {
		m.deliverPresentation(next.request, next.message)
	}
}

// deliverPresentation sends a rendered request message and records the
// message id on the request, provided it is still the presented one.
func (m *Manager) deliverPresentation(r *queue.Request, msg present.Message) {
	id, err := m.transport.Send(msg.Body, msg.Markup)
	if err != nil {
		m.log.Error("presentation send failed", "session", r.Session, "err", err)
		return
	}
	m.mu.Lock()
	if r.State() == queue.StatePresented {
		r.MessageID = id
	}
	m.mu.Unlock()
}

func (m *Manager) knownSessionsLocked() []string {
	out := make([]string, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) pendingSessionsLocked() []string {
	seen := make(map[string]bool)
	var out []string
	for i, r := range m.q.Summary() {
		if i == 0 || seen[r.Session] {
			continue // the presented request cannot be jumped to
		}
		seen[r.Session] = true
		out = append(out, r.Session)
	}
	return out
}

// ── small chat helpers ───────────────────────────────────────────────────

func (m *Manager) send(msg present.Message) {
	if _, err := m.transport.Send(msg.Body, msg.Markup); err != nil {
		m.log.Warn("chat send failed", "err", err)
	}
}

func (m *Manager) ack(callbackID, toast string) {
	if err := m.transport.AckCallback(callbackID, toast); err != nil {
		m.log.Debug("callback ack failed", "err", err)
	}
}

func (m *Manager) stripButtons(messageID int) {
	if err := m.transport.EditMarkup(messageID, nil); err != nil {
		m.log.Debug("strip buttons failed", "message_id", messageID, "err", err)
	}
}

// expireButtons handles a stale button press: toast and strip.
func (m *Manager) expireButtons(callbackID string, messageID int) {
	m.ack(callbackID, "Request expired")
	m.stripButtons(messageID)
	m.log.Debug("stale callback", "message_id", messageID)
}
