// Package control implements the out-of-band command socket: a unix
// stream socket accepting newline-delimited JSON commands (status, mode
// switch, shutdown) and serving a push stream of daemon events to
// subscribed clients.
package control

import (
	"bufio"
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

// Daemon is the surface the control plane drives.
type Daemon interface {
	// Status reports current daemon state.
	Status() Status

	// SetMode switches the operating mode (notify, narrate, afk).
	SetMode(mode string) error

	// SetVoice enables or disables the voice input path.
	SetVoice(on bool) error

	// ReloadConfig forces an immediate config re-read.
	ReloadConfig() error

	// Shutdown initiates daemon shutdown. Must not block.
	Shutdown()
}

// Status is the reply to the status command.
type Status struct {
	Daemon    bool   `json:"daemon"`
	Mode      string `json:"mode"`
	Voice     bool   `json:"voice"`
	Recording bool   `json:"recording"`
	Ready     bool   `json:"ready"`
}

// Event is a daemon-originated notification pushed to subscribers.
// Name is required; the remaining fields appear only on error events.
type Event struct {
	Name    string `json:"event"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// command is one inbound control request.
type command struct {
	Cmd  string `json:"cmd"`
	Mode string `json:"mode,omitempty"`
}

// writeTimeout bounds each reply or event write; a stuck subscriber is
// dropped rather than allowed to block the fan-out.
const writeTimeout = 2 * time.Second

// Server owns the control socket and the subscriber list.
type Server struct {
	ln     net.Listener
	daemon Daemon

	mu   sync.Mutex
	subs map[net.Conn]*json.Encoder

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the control socket at path with owner-only permissions.
func Listen(path string, d Daemon) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("control: create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("control: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("control: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("control: chmod socket: %w", err)
	}

	slog.Info("control plane listening", "socket", path)
	return &Server{ln: ln, daemon: d, subs: make(map[net.Conn]*json.Encoder)}, nil
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.dropAll()
				s.wg.Wait()
				return ctx.Err()
			}
			slog.Warn("control: accept error", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Close shuts the listener and all subscriber connections down.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()
		s.dropAll()
	})
	return err
}

// Publish fans an event out to every subscriber. Writes are small and
// buffered, so they happen under the list lock; a failed write drops the
// subscriber.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, enc := range s.subs {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := enc.Encode(ev); err != nil {
			slog.Debug("control: dropping dead subscriber", "err", err)
			conn.Close()
			delete(s.subs, conn)
		}
	}
}

// serveConn reads commands line by line until the connection closes or
// is converted into an event subscription.
func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		if !s.isSubscriber(conn) {
			conn.Close()
		}
	}()

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd command
		if err := json.Unmarshal(line, &cmd); err != nil {
			s.reply(enc, map[string]any{"error": "bad command: " + err.Error()})
			continue
		}
		if done := s.handle(conn, enc, cmd); done {
			return
		}
	}
}

// handle executes one command. Returns true when the connection's
// command phase is over (subscribe converts it, stop ends it).
func (s *Server) handle(conn net.Conn, enc *json.Encoder, cmd command) bool {
	switch cmd.Cmd {
	case "status":
		s.reply(enc, s.daemon.Status())

	case "set_mode":
		if err := s.daemon.SetMode(cmd.Mode); err != nil {
			s.reply(enc, map[string]any{"ok": false, "error": err.Error()})
		} else {
			s.reply(enc, map[string]any{"ok": true})
		}

	case "voice_on", "voice_off":
		if err := s.daemon.SetVoice(cmd.Cmd == "voice_on"); err != nil {
			s.reply(enc, map[string]any{"ok": false, "error": err.Error()})
		} else {
			s.reply(enc, map[string]any{"ok": true})
		}

	case "reload_config":
		if err := s.daemon.ReloadConfig(); err != nil {
			s.reply(enc, map[string]any{"ok": false, "error": err.Error()})
		} else {
			s.reply(enc, map[string]any{"ok": true})
		}

	case "stop":
		s.reply(enc, map[string]any{"ok": true})
		s.daemon.Shutdown()
		return true

	case "subscribe":
		s.reply(enc, map[string]any{"subscribed": true})
		s.mu.Lock()
		s.subs[conn] = enc
		s.mu.Unlock()
		return true // connection now belongs to the fan-out

	default:
		s.reply(enc, map[string]any{"error": fmt.Sprintf("unknown command %q", cmd.Cmd)})
	}
	return false
}

func (s *Server) reply(enc *json.Encoder, v any) {
	if err := enc.Encode(v); err != nil {
		slog.Debug("control: reply failed", "err", err)
	}
}

func (s *Server) isSubscriber(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[conn]
	return ok
}

func (s *Server) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.subs {
		conn.Close()
		delete(s.subs, conn)
	}
}
