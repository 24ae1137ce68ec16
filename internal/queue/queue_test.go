package queue_test

import (
	"testing"

	"github.com/jvosloo/afkbridge/internal/queue"
)

func req(session, prompt string) *queue.Request {
	return queue.NewRequest(session, queue.KindPermission, prompt)
}

func TestEnqueueFirstBecomesActive(t *testing.T) {
	t.Parallel()

	q := queue.New()
	a := req("api_a1b2c3", "run tests")

	placement, pos := q.Enqueue(a)
	if placement != queue.PlacedActive {
		t.Fatalf("placement = %v, want PlacedActive", placement)
	}
	if pos != 1 {
		t.Errorf("position = %d, want 1", pos)
	}
	if q.Active() != a {
		t.Error("Active() did not return the enqueued request")
	}
	if a.State() != queue.StatePresented {
		t.Errorf("state = %q, want %q", a.State(), queue.StatePresented)
	}
}

func TestEnqueueSecondIsQueued(t *testing.T) {
	t.Parallel()

	q := queue.New()
	q.Enqueue(req("a", "first"))
	b := req("b", "second")

	placement, pos := q.Enqueue(b)
	if placement != queue.PlacedQueued {
		t.Fatalf("placement = %v, want PlacedQueued", placement)
	}
	if pos != 2 {
		t.Errorf("position = %d, want 2", pos)
	}
	if b.State() != queue.StatePending {
		t.Errorf("state = %q, want %q", b.State(), queue.StatePending)
	}
}

func TestAdvanceDrainsFIFOOrder(t *testing.T) {
	t.Parallel()

	q := queue.New()
	reqs := []*queue.Request{req("a", "1"), req("b", "2"), req("c", "3")}
	for _, r := range reqs {
		q.Enqueue(r)
	}

	for i, want := range reqs {
		if q.Active() != want {
			t.Fatalf("step %d: active = %v, want %v", i, q.Active().Prompt, want.Prompt)
		}
		q.Advance()
	}
	if q.Active() != nil {
		t.Error("queue not empty after draining")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestSkipMovesActiveToTail(t *testing.T) {
	t.Parallel()

	q := queue.New()
	a := req("a", "A")
	b := req("b", "B")
	q.Enqueue(a)
	q.Enqueue(b)

	if !q.Skip() {
		t.Fatal("Skip() = false, want true")
	}
	if q.Active() != b {
		t.Fatal("active after skip is not B")
	}
	if a.State() != queue.StatePending {
		t.Errorf("skipped request state = %q, want pending", a.State())
	}
	if a.MessageID != 0 {
		t.Error("skipped request kept its message id")
	}

	// A second skip re-activates A.
	if !q.Skip() {
		t.Fatal("second Skip() = false, want true")
	}
	if q.Active() != a {
		t.Error("active after second skip is not A")
	}
}

func TestSkipCyclesBackToOriginal(t *testing.T) {
	t.Parallel()

	q := queue.New()
	reqs := []*queue.Request{req("a", "1"), req("b", "2"), req("c", "3"), req("d", "4")}
	for _, r := range reqs {
		q.Enqueue(r)
	}

	// N skips on a queue of size N return to the original active.
	for i := 0; i < len(reqs); i++ {
		q.Skip()
	}
	if q.Active() != reqs[0] {
		t.Errorf("active after %d skips = %q, want %q", len(reqs), q.Active().Prompt, reqs[0].Prompt)
	}
}

func TestSkipEmptyFIFOIsNoop(t *testing.T) {
	t.Parallel()

	q := queue.New()
	a := req("a", "A")
	q.Enqueue(a)

	if q.Skip() {
		t.Error("Skip() with empty FIFO = true, want false")
	}
	if q.Active() != a {
		t.Error("active changed by no-op skip")
	}
	if a.State() != queue.StatePresented {
		t.Errorf("state = %q, want presented", a.State())
	}
}

func TestPriorityJumpPicksOldestFromSession(t *testing.T) {
	t.Parallel()

	// Enqueue A, B, A', C. Active=A, FIFO=[B, A', C].
	q := queue.New()
	a := req("a", "A")
	b := req("b", "B")
	a2 := req("a", "A'")
	c := req("c", "C")
	for _, r := range []*queue.Request{a, b, a2, c} {
		q.Enqueue(r)
	}

	got := q.PriorityJump("a")
	if got != a2 {
		t.Fatalf("PriorityJump promoted %v, want A'", got)
	}
	if q.Active() != a2 {
		t.Fatal("A' is not active")
	}

	// Prior active went to the tail: FIFO should now be [B, C, A].
	wantOrder := []*queue.Request{a2, b, c, a}
	sum := q.Summary()
	if len(sum) != len(wantOrder) {
		t.Fatalf("Summary() length = %d, want %d", len(sum), len(wantOrder))
	}
	for i, want := range wantOrder {
		if sum[i] != want {
			t.Errorf("summary[%d] = %q, want %q", i, sum[i].Prompt, want.Prompt)
		}
	}
}

func TestPriorityJumpNoMatchIsNoop(t *testing.T) {
	t.Parallel()

	q := queue.New()
	a := req("a", "A")
	b := req("b", "B")
	q.Enqueue(a)
	q.Enqueue(b)

	if got := q.PriorityJump("zz"); got != nil {
		t.Fatalf("PriorityJump(zz) = %v, want nil", got)
	}
	if q.Active() != a {
		t.Error("active changed by failed priority jump")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestSameSessionOrderPreserved(t *testing.T) {
	t.Parallel()

	// Same-session pending entries never reorder relative to each other,
	// even across skips.
	q := queue.New()
	other := req("x", "X")
	first := req("s", "first")
	second := req("s", "second")
	q.Enqueue(other)
	q.Enqueue(first)
	q.Enqueue(second)

	q.Skip() // X → tail, first active.
	if q.Active() != first {
		t.Fatalf("active = %q, want first", q.Active().Prompt)
	}
	q.Advance()
	if q.Active() != second {
		t.Fatalf("active = %q, want second", q.Active().Prompt)
	}
}

func TestClearDrainsAndFlushes(t *testing.T) {
	t.Parallel()

	q := queue.New()
	q.Enqueue(req("a", "A"))
	q.Enqueue(req("b", "B"))

	drained := q.Clear()
	if len(drained) != 2 {
		t.Fatalf("Clear() returned %d requests, want 2", len(drained))
	}
	for _, r := range drained {
		if r.State() != queue.StateDone {
			t.Errorf("drained request %q state = %q, want done", r.Prompt, r.State())
		}
	}
	if q.Active() != nil || q.Len() != 0 {
		t.Error("queue not empty after Clear")
	}
}

func TestVisualStableAndDeterministic(t *testing.T) {
	t.Parallel()

	q := queue.New()
	v1 := q.VisualFor("api_a1b2c3")
	v2 := q.VisualFor("api_a1b2c3")
	if v1 != v2 {
		t.Errorf("visual changed between sightings: %q then %q", v1, v2)
	}

	// A fresh queue assigns the same visual for the same session name.
	if v3 := queue.New().VisualFor("api_a1b2c3"); v3 != v1 {
		t.Errorf("visual not deterministic across instances: %q vs %q", v3, v1)
	}
}

func TestPickerIndex(t *testing.T) {
	t.Parallel()

	r := queue.NewRequest("s", queue.KindMultiChoice, "colour?")
	r.Options = []queue.Option{{Label: "Red"}, {Label: "Blue"}}

	n, err := r.PickerIndex("Blue")
	if err != nil {
		t.Fatalf("PickerIndex(Blue) error: %v", err)
	}
	if n != 1 {
		t.Errorf("PickerIndex(Blue) = %d, want 1", n)
	}
	if r.PickerIndexOther() != 2 {
		t.Errorf("PickerIndexOther() = %d, want 2", r.PickerIndexOther())
	}
	if _, err := r.PickerIndex("Green"); err == nil {
		t.Error("PickerIndex(Green) succeeded, want error")
	}
}
