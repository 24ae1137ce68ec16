// Package telegram wraps the Telegram Bot API for the AFK bridge. It owns
// the long-poll update loop, validates that inbound updates belong to the
// configured chat, and exposes the narrow send/edit/ack surface the AFK
// manager needs.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jvosloo/afkbridge/internal/observe"
	"github.com/jvosloo/afkbridge/internal/present"
)

// ErrTooManyPollErrors is returned by [Transport.Poll] after the
// consecutive-error cap is hit.
var ErrTooManyPollErrors = errors.New("telegram: poll error streak exceeded cap")

// Config holds Telegram transport configuration.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// ChatID is the only chat the bridge talks to. Updates from any other
	// chat are dropped.
	ChatID int64

	// PollTimeout is the long-poll duration per request. Default 15s.
	PollTimeout time.Duration

	// ErrorCap is the consecutive poll-error count after which the poll
	// loop gives up. Default 10.
	ErrorCap int

	// Metrics receives poll-error counts. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Handler receives decoded chat events from the poll loop.
type Handler interface {
	// HandleText is called for each plain text message in the chat.
	HandleText(text string)

	// HandleButton is called for each inline-button press. messageID is
	// the id of the message carrying the button.
	HandleButton(callbackID, data string, messageID int)
}

// Transport is the chat-service client. Send, EditMarkup and AckCallback
// are safe to call from multiple goroutines; the poll cursor is touched
// only by the poll loop.
type Transport struct {
	api    *tgbotapi.BotAPI
	chatID int64

	pollTimeout time.Duration
	errorCap    int
	offset      int
	met         *observe.Metrics

	// fetch runs one long-poll request. Swapped out in tests.
	fetch func(ctx context.Context) ([]tgbotapi.Update, error)
}

// backoffCap bounds the exponential poll-error backoff.
const backoffCap = 30 * time.Second

// New authenticates the bot token and returns a transport. Token
// rejection surfaces here, before any poll loop starts.
func New(cfg Config) (*Transport, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate: %w", err)
	}

	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 15 * time.Second
	}
	if cfg.ErrorCap <= 0 {
		cfg.ErrorCap = 10
	}

	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	slog.Info("telegram bot authorised", "username", api.Self.UserName, "chat_id", cfg.ChatID)

	t := &Transport{
		api:         api,
		chatID:      cfg.ChatID,
		pollTimeout: cfg.PollTimeout,
		errorCap:    cfg.ErrorCap,
		met:         cfg.Metrics,
	}
	t.fetch = t.fetchAPI
	return t, nil
}

// Verify confirms the configured chat is reachable with the current token.
func (t *Transport) Verify(ctx context.Context) error {
	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, err := t.api.GetChat(tgbotapi.ChatInfoConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: t.chatID},
		})
		done <- result{err}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("telegram: chat %d unreachable: %w", t.chatID, r.err)
		}
		return nil
	}
}

// Send posts a MarkdownV2 message to the configured chat and returns the
// new message id. On a formatting rejection it retries once as plain
// text so the content is never lost to an escaping bug.
func (t *Transport) Send(text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"
	if markup != nil {
		msg.ReplyMarkup = *markup
	}

	sent, err := t.api.Send(msg)
	if err != nil {
		slog.Warn("telegram: formatted send failed, retrying plain", "err", err)
		msg.ParseMode = ""
		msg.Text = present.Unescape(text)
		sent, err = t.api.Send(msg)
		if err != nil {
			return 0, fmt.Errorf("telegram: send: %w", err)
		}
	}
	return sent.MessageID, nil
}

// EditMarkup replaces a message's inline keyboard. A nil markup strips
// the buttons, which is how stale prompts are retired.
func (t *Transport) EditMarkup(messageID int, markup *tgbotapi.InlineKeyboardMarkup) error {
	kb := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if markup != nil {
		kb = *markup
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(t.chatID, messageID, kb)
	if _, err := t.api.Request(edit); err != nil {
		return fmt.Errorf("telegram: edit markup of message %d: %w", messageID, err)
	}
	return nil
}

// AckCallback answers a button press so the client stops its spinner,
// optionally showing a short toast.
func (t *Transport) AckCallback(callbackID, toast string) error {
	cb := tgbotapi.NewCallback(callbackID, toast)
	if _, err := t.api.Request(cb); err != nil {
		return fmt.Errorf("telegram: ack callback: %w", err)
	}
	return nil
}

// Poll runs the long-poll loop until ctx is cancelled or the error cap is
// hit. Updates from chats other than the configured one are dropped
// silently. The offset cursor advances past the highest update id on
// every successful fetch, including empty ones.
//
// A long-poll request that returns no updates is a normal timeout, not an
// error. Consecutive errors back off exponentially (2^n seconds, capped
// at 30s); any success resets the streak.
func (t *Transport) Poll(ctx context.Context, h Handler) error {
	streak := 0
	for {
		updates, err := t.fetch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			streak++
			t.met.RecordPollError(ctx)
			if streak >= t.errorCap {
				slog.Error("telegram: giving up polling", "streak", streak, "err", err)
				return fmt.Errorf("%w: last error: %v", ErrTooManyPollErrors, err)
			}
			delay := backoff(streak)
			slog.Warn("telegram: poll error", "streak", streak, "backoff", delay, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		streak = 0

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.dispatch(u, h)
		}
	}
}

// fetchAPI runs one GetUpdates request in a goroutine so cancellation
// does not wait out the long poll; an abandoned in-flight request
// finishes in the background and its updates are re-fetched next time
// (the cursor only advances on delivery).
func (t *Transport) fetchAPI(ctx context.Context) ([]tgbotapi.Update, error) {
	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	done := make(chan result, 1)
	cfg := tgbotapi.UpdateConfig{
		Offset:  t.offset,
		Timeout: int(t.pollTimeout / time.Second),
	}
	go func() {
		updates, err := t.api.GetUpdates(cfg)
		done <- result{updates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.updates, r.err
	}
}

// dispatch decodes one update and forwards it to the handler. Only text
// messages and button presses from the configured chat pass through.
func (t *Transport) dispatch(u tgbotapi.Update, h Handler) {
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID {
			slog.Debug("telegram: dropping callback from foreign chat")
			return
		}
		h.HandleButton(cb.ID, cb.Data, cb.Message.MessageID)

	case u.Message != nil:
		msg := u.Message
		if msg.Chat == nil || msg.Chat.ID != t.chatID {
			slog.Debug("telegram: dropping message from foreign chat", "chat_id", chatIDOf(msg))
			return
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		h.HandleText(text)
	}
}

func chatIDOf(m *tgbotapi.Message) int64 {
	if m.Chat == nil {
		return 0
	}
	return m.Chat.ID
}

// backoff returns 2^streak seconds capped at backoffCap.
func backoff(streak int) time.Duration {
	d := time.Second
	for i := 0; i < streak && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
