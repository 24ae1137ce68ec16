package app_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jvosloo/afkbridge/internal/app"
	"github.com/jvosloo/afkbridge/internal/config"
	"github.com/jvosloo/afkbridge/internal/control"
	"github.com/jvosloo/afkbridge/internal/telegram"
)

// fakeChat satisfies app.ChatTransport without touching the network.
type fakeChat struct {
	mu        sync.Mutex
	nextID    int
	sends     []string
	verifyErr error
	pollErr   error
}

func (c *fakeChat) Send(text string, _ *tgbotapi.InlineKeyboardMarkup) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.sends = append(c.sends, text)
	return c.nextID, nil
}

func (c *fakeChat) EditMarkup(int, *tgbotapi.InlineKeyboardMarkup) error { return nil }
func (c *fakeChat) AckCallback(string, string) error                     { return nil }

func (c *fakeChat) Verify(context.Context) error { return c.verifyErr }

func (c *fakeChat) Poll(ctx context.Context, _ telegram.Handler) error {
	if c.pollErr != nil {
		return c.pollErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeChat) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.ChatID = 1
	cfg.AFK.ResponseDir = filepath.Join(dir, "responses")
	cfg.AFK.HookSocket = filepath.Join(dir, "h.sock")
	cfg.AFK.ControlSocket = filepath.Join(dir, "c.sock")
	cfg.AFK.RulesCache = filepath.Join(dir, "rules.json")
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, chat *fakeChat, opts ...app.Option) *app.App {
	t.Helper()

	opts = append([]app.Option{app.WithChatTransport(chat)}, opts...)
	a, err := app.New(context.Background(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewRejectsFailingChat(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{verifyErr: errors.New("401 unauthorized")}
	_, err := app.New(context.Background(), testConfig(t), nil, app.WithChatTransport(chat))
	if err == nil {
		t.Fatal("New accepted a chat transport that fails verification")
	}
}

func TestStatusDefaults(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), &fakeChat{})

	st := a.Status()
	if !st.Daemon || !st.Ready {
		t.Errorf("status = %+v, want daemon and ready", st)
	}
	if st.Mode != string(config.ModeNotify) {
		t.Errorf("mode = %q, want notify", st.Mode)
	}
	if st.Voice || st.Recording {
		t.Errorf("status = %+v, want voice and recording off", st)
	}
}

func TestStartModeAFKActivatesManager(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.AFK.StartMode = config.ModeAFK
	chat := &fakeChat{}
	a := newApp(t, cfg, chat)

	if a.Status().Mode != string(config.ModeAFK) {
		t.Errorf("mode = %q, want afk", a.Status().Mode)
	}
	if !containsSub(chat.sent(), "AFK mode *on*") {
		t.Errorf("activation message missing, sends = %q", chat.sent())
	}
}

func TestSetModeDrivesManager(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	a := newApp(t, testConfig(t), chat)

	if err := a.SetMode("afk"); err != nil {
		t.Fatalf("SetMode(afk): %v", err)
	}
	if a.Status().Mode != "afk" {
		t.Errorf("mode = %q, want afk", a.Status().Mode)
	}
	if !containsSub(chat.sent(), "AFK mode *on*") {
		t.Errorf("activation message missing, sends = %q", chat.sent())
	}

	if err := a.SetMode("narrate"); err != nil {
		t.Fatalf("SetMode(narrate): %v", err)
	}
	if !containsSub(chat.sent(), "AFK mode *off*") {
		t.Errorf("deactivation message missing, sends = %q", chat.sent())
	}
}

func TestSetModeInvalid(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), &fakeChat{})
	if err := a.SetMode("away"); err == nil {
		t.Error("invalid mode accepted")
	}
}

func TestSetVoiceWithoutEngines(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), &fakeChat{})
	if err := a.SetVoice(true); err == nil {
		t.Error("voice enabled without a controller")
	}
	if err := a.SetVoice(false); err != nil {
		t.Errorf("SetVoice(false) = %v", err)
	}
}

func TestReloadConfigWithoutWatcher(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), &fakeChat{})
	if err := a.ReloadConfig(); err == nil {
		t.Error("ReloadConfig succeeded without a watcher")
	}
}

func TestOnConfigChangeAdjustsLogLevel(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	a := newApp(t, testConfig(t), &fakeChat{}, app.WithLogLevelVar(&lv))

	old := testConfig(t)
	updated := testConfig(t)
	updated.Server.LogLevel = config.LogError
	a.OnConfigChange(old, updated)

	if lv.Level() != slog.LevelError {
		t.Errorf("level = %v, want error", lv.Level())
	}
}

func TestShutdownStopsRun(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), &fakeChat{})

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	a.Shutdown()
	a.Shutdown() // idempotent

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestPollErrorStreakMarksUnready(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{pollErr: telegram.ErrTooManyPollErrors}
	a := newApp(t, testConfig(t), chat)

	err := a.Run(context.Background())
	if !errors.Is(err, telegram.ErrTooManyPollErrors) {
		t.Fatalf("Run() = %v, want ErrTooManyPollErrors", err)
	}
	if a.Status().Ready {
		t.Error("daemon still ready after poll failure")
	}
}

func TestControlSocketModeChangeEvent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := newApp(t, cfg, &fakeChat{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	conn := dialRetry(t, cfg.AFK.ControlSocket)
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"cmd":"subscribe"}` + "\n")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	r := bufio.NewReader(conn)
	if _, err := r.ReadString('\n'); err != nil { // subscribe ack
		t.Fatalf("read ack: %v", err)
	}

	if err := a.SetMode("afk"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev control.Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("decode event %q: %v", line, err)
	}
	if ev.Name != "mode_changed" || ev.Message != "afk" {
		t.Errorf("event = %+v, want mode_changed afk", ev)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// dialRetry waits for Run to start accepting on the control socket.
func dialRetry(t *testing.T, path string) net.Conn {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", path, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func containsSub(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}
