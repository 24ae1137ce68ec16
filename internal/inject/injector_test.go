package inject

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEscapeAppleScript(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{`plain`, `plain`},
		{`say "hi"`, `say \"hi\"`},
		{`back\slash`, `back\\slash`},
		{`both \"`, `both \\\"`},
	}
	for _, tt := range tests {
		if got := escapeAppleScript(tt.in); got != tt.want {
			t.Errorf("escapeAppleScript(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeystrokeScript(t *testing.T) {
	t.Parallel()

	script := keystrokeScript("/dev/ttys003", `echo "done"`)
	if !strings.Contains(script, `"/dev/ttys003"`) {
		t.Errorf("script missing tty path:\n%s", script)
	}
	if !strings.Contains(script, `keystroke "echo \"done\""`) {
		t.Errorf("script did not escape keystroke text:\n%s", script)
	}
	if !strings.Contains(script, "key code 36") {
		t.Error("script missing Return keypress")
	}
}

func TestDeliverTTYRequiresDevice(t *testing.T) {
	t.Parallel()

	in := New(nil)
	in.runner = func(context.Context, string) error { return nil }

	err := in.Deliver(context.Background(), Target{Session: "s", Mode: ModeTTY}, "hi")
	if !errors.Is(err, ErrNoTerminal) {
		t.Errorf("Deliver with empty tty path = %v, want ErrNoTerminal", err)
	}
}

func TestBreakerSuppressesAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	in := New(nil)
	boom := errors.New("boom")
	in.runner = func(context.Context, string) error { return boom }

	tty := "/dev/null" // writable everywhere, so the runner is reached
	target := Target{Session: "s", TTYPath: tty, Mode: ModeTTY}

	for i := 0; i < maxConsecutiveFailures; i++ {
		if err := in.Deliver(context.Background(), target, "x"); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v, want boom", i, err)
		}
	}

	if err := in.Deliver(context.Background(), target, "x"); !errors.Is(err, ErrSuppressed) {
		t.Fatalf("after %d failures err = %v, want ErrSuppressed", maxConsecutiveFailures, err)
	}

	// A refresh (new hook submission) reopens the path.
	in.Refresh("s")
	if err := in.Deliver(context.Background(), target, "x"); !errors.Is(err, boom) {
		t.Errorf("after refresh err = %v, want boom (delivery attempted)", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	in := New(nil)
	calls := 0
	in.runner = func(context.Context, string) error {
		calls++
		if calls == 3 {
			return nil
		}
		return errors.New("flaky")
	}

	target := Target{Session: "s", TTYPath: "/dev/null", Mode: ModeTTY}
	for i := 0; i < 5; i++ {
		_ = in.Deliver(context.Background(), target, "x")
	}
	// Two failures, one success, two failures — the success reset the
	// count, so the next attempt still goes through.
	if err := in.Deliver(context.Background(), target, "x"); errors.Is(err, ErrSuppressed) {
		t.Error("breaker tripped despite an intervening success")
	}
}
