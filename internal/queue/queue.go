package queue

// Placement reports where an enqueued request landed.
type Placement int

const (
	// PlacedActive means the request became the presented request.
	PlacedActive Placement = iota

	// PlacedQueued means the request joined the pending FIFO.
	PlacedQueued
)

// Queue holds at most one presented request plus a FIFO of pending ones.
//
// Invariants: the active slot is empty iff the pending FIFO is empty; no
// request is ever in both. Within one session, pending requests keep
// their relative order through skip and priority-jump operations.
//
// Queue performs no locking; the owning manager serialises access.
type Queue struct {
	active  *Request
	pending []*Request
	visuals map[string]Visual
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{visuals: make(map[string]Visual)}
}

// Enqueue adds r. If no request is active, r is promoted immediately and
// PlacedActive is returned; otherwise r joins the FIFO tail. The second
// return value is r's 1-based position in the overall queue.
func (q *Queue) Enqueue(r *Request) (Placement, int) {
	q.sight(r.Session)
	if q.active == nil {
		_ = r.promote()
		q.active = r
		return PlacedActive, 1
	}
	q.pending = append(q.pending, r)
	return PlacedQueued, 1 + len(q.pending)
}

// Active returns the presented request, or nil.
func (q *Queue) Active() *Request {
	return q.active
}

// Len returns the total number of queued requests (active + pending).
func (q *Queue) Len() int {
	if q.active == nil {
		return 0
	}
	return 1 + len(q.pending)
}

// PendingLen returns the number of pending (non-active) requests.
func (q *Queue) PendingLen() int {
	return len(q.pending)
}

// Advance drops the active request and promotes the FIFO head. Returns
// the newly presented request, or nil when the queue drained.
func (q *Queue) Advance() *Request {
	q.active = nil
	if len(q.pending) == 0 {
		return nil
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	_ = next.promote()
	q.active = next
	return next
}

// Skip moves the active request to the FIFO tail and promotes the head.
// With an empty FIFO the active request is unchanged and false is
// returned.
func (q *Queue) Skip() bool {
	if q.active == nil || len(q.pending) == 0 {
		return false
	}
	skipped := q.active
	_ = skipped.demote()
	next := q.pending[0]
	q.pending = append(q.pending[1:], skipped)
	_ = next.promote()
	q.active = next
	return true
}

// PriorityJump promotes the oldest pending request from session. The
// prior active request goes to the FIFO tail. Returns the promoted
// request, or nil when the session has nothing pending.
func (q *Queue) PriorityJump(session string) *Request {
	for i, r := range q.pending {
		if r.Session != session {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		if q.active != nil {
			prior := q.active
			_ = prior.demote()
			q.pending = append(q.pending, prior)
		}
		_ = r.promote()
		q.active = r
		return r
	}
	return nil
}

// Summary returns the ordered view [active, pending…] for display.
func (q *Queue) Summary() []*Request {
	if q.active == nil {
		return nil
	}
	out := make([]*Request, 0, 1+len(q.pending))
	out = append(out, q.active)
	out = append(out, q.pending...)
	return out
}

// Clear drains the active slot and the FIFO, marking every request
// flushed, and returns the drained list so sentinels can be written.
func (q *Queue) Clear() []*Request {
	drained := q.Summary()
	for _, r := range drained {
		_ = r.Flush()
	}
	q.active = nil
	q.pending = nil
	return drained
}

// VisualFor returns the session's stable marker, assigning one on first
// sighting.
func (q *Queue) VisualFor(session string) Visual {
	return q.sight(session)
}

func (q *Queue) sight(session string) Visual {
	if v, ok := q.visuals[session]; ok {
		return v
	}
	v := visualFor(session)
	q.visuals[session] = v
	return v
}
