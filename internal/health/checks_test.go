package health

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
)

func TestProbe_WrapsFunction(t *testing.T) {
	want := errors.New("boom")
	c := Probe("flaky", func(_ context.Context) error { return want })

	if c.Name != "flaky" {
		t.Errorf("name = %q, want %q", c.Name, "flaky")
	}
	if err := c.Check(context.Background()); !errors.Is(err, want) {
		t.Errorf("Check() = %v, want %v", err, want)
	}
}

func TestSocket_Listening(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := Socket("control_socket", path)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestSocket_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.sock")

	c := Socket("control_socket", path)
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error for missing socket")
	}
}
