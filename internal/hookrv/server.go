package hookrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// connTimeout bounds one request/response exchange; hooks write a single
// small JSON document, so anything slower is a wedged peer.
const connTimeout = 5 * time.Second

// Handler decides how a hook submission is answered.
type Handler interface {
	HandleHookRequest(req Request) Response
}

// Server accepts hook connections on a unix stream socket with
// owner-only permissions.
type Server struct {
	ln      net.Listener
	handler Handler
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// Listen binds the socket at path, replacing any stale socket file from
// a previous run. The containing directory is created with mode 0700.
func Listen(path string, h Handler) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("hookrv: create socket dir: %w", err)
	}
	// A leftover socket from a crashed run would block the bind.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("hookrv: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("hookrv: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("hookrv: chmod socket: %w", err)
	}

	slog.Info("hook rendezvous listening", "socket", path)
	return &Server{ln: ln, handler: h}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is served on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return ctx.Err()
			}
			slog.Warn("hookrv: accept error", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Close shuts the listener down; in-flight connections finish.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()
	})
	return err
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// serveConn handles one request/response exchange and closes the
// connection.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		slog.Warn("hookrv: bad request", "err", err)
		_ = json.NewEncoder(conn).Encode(Response{Wait: false})
		return
	}

	resp := s.handler.HandleHookRequest(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Warn("hookrv: write response", "session", req.Session, "err", err)
	}
}
