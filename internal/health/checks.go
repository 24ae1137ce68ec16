package health

import (
	"context"
	"net"
	"time"
)

// Probe wraps a plain probe function as a named [Checker].
func Probe(name string, fn func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: fn}
}

// Socket returns a [Checker] that dials a unix stream socket. A daemon
// whose rendezvous socket stopped accepting connections is not ready even
// when the process is alive.
func Socket(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			d := net.Dialer{Timeout: time.Second}
			conn, err := d.DialContext(ctx, "unix", path)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}
