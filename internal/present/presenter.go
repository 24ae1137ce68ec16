// Package present turns queued requests and queue metadata into Telegram
// message bodies and inline keyboards. Everything here is a pure
// formatter: no I/O, no locking, safe to call from under the manager's
// mutex.
package present

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jvosloo/afkbridge/internal/queue"
)

// Message is a rendered chat message: MarkdownV2 body plus an optional
// inline keyboard.
type Message struct {
	Body   string
	Markup *tgbotapi.InlineKeyboardMarkup
}

// Render formats a request for presentation. pending is the number of
// requests waiting behind it; when non-zero a footer with queue-control
// buttons is appended.
func Render(r *queue.Request, visual queue.Visual, pending int) Message {
	var body strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton

	fmt.Fprintf(&body, "%s `%s`\n", visual, Escape(r.Session))

	switch r.Kind {
	case queue.KindPermission:
		fmt.Fprintf(&body, "*Permission:* %s", Markdown(r.Prompt))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes", "yes"),
			tgbotapi.NewInlineKeyboardButtonData("Always", "always"),
			tgbotapi.NewInlineKeyboardButtonData("No", "no"),
		))

	case queue.KindMultiChoice:
		body.WriteString(Markdown(r.Prompt))
		for i, opt := range r.Options {
			fmt.Fprintf(&body, "\n%d\\. *%s*", i+1, Escape(opt.Label))
			if opt.Description != "" {
				fmt.Fprintf(&body, " — %s", Escape(opt.Description))
			}
		}
		for _, opt := range r.Options {
			data := Callback{Action: ActionOption, Label: opt.Label}.Encode()
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(opt.Label, data),
			))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Other (type reply)", Callback{Action: ActionOptionOther}.Encode()),
		))

	default: // KindInput — free text expected, no buttons.
		body.WriteString(Markdown(r.Prompt))
	}

	if r.Context != "" {
		fmt.Fprintf(&body, "\n\n```\n%s\n```", TrimSnippet(r.Context))
	}

	if pending > 0 {
		fmt.Fprintf(&body, "\n\n_%d more request%s waiting_", pending, plural(pending))
		rows = append(rows, queueControlRow())
	}

	return Message{Body: body.String(), Markup: markup(rows)}
}

// RenderContext formats a non-blocking context update with its single
// Reply button.
func RenderContext(session string, visual queue.Visual, snippet string) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "%s `%s`\n%s", visual, Escape(session), Escape(TrimSnippet(snippet)))

	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reply", Callback{Action: ActionReply, Session: session}.Encode()),
		),
	}
	return Message{Body: body.String(), Markup: markup(rows)}
}

// RenderQueued formats the "queued at position N/M" notice sent when a
// request lands behind the presented one.
func RenderQueued(r *queue.Request, visual queue.Visual, position, total int) Message {
	body := fmt.Sprintf("%s `%s` queued at position %d/%d",
		visual, Escape(r.Session), position, total)
	return Message{Body: body}
}

// RenderQueue formats the ordered queue overview.
func RenderQueue(summary []*queue.Request, visualOf func(string) queue.Visual) Message {
	if len(summary) == 0 {
		return Message{Body: "Queue is empty\\."}
	}

	var body strings.Builder
	fmt.Fprintf(&body, "*Queue* \\(%d\\)\n", len(summary))
	for i, r := range summary {
		marker := "  "
		if i == 0 {
			marker = "▶ "
		}
		fmt.Fprintf(&body, "%s%s `%s` %s — waiting %s\n",
			marker, visualOf(r.Session), Escape(r.Session),
			Escape(shorten(r.Prompt, 48)), Escape(r.Age().String()))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	if len(summary) > 1 {
		rows = append(rows, queueControlRow())
		// One priority button per distinct waiting session.
		seen := map[string]bool{summary[0].Session: true}
		for _, r := range summary[1:] {
			if seen[r.Session] {
				continue
			}
			seen[r.Session] = true
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("%s %s first", visualOf(r.Session), r.Session),
					Callback{Action: ActionPriority, Session: r.Session}.Encode(),
				),
			))
		}
	}
	return Message{Body: body.String(), Markup: markup(rows)}
}

// SessionEntry is one row of the sessions panel.
type SessionEntry struct {
	Name   string
	Status string // idle | working | waiting | dead | unknown
}

// RenderSessions formats the multiplexer sessions panel with per-session
// prompt/queue actions.
func RenderSessions(entries []SessionEntry, visualOf func(string) queue.Visual) Message {
	if len(entries) == 0 {
		return Message{Body: "No tmux sessions found\\."}
	}

	var body strings.Builder
	body.WriteString("*Sessions*\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, e := range entries {
		fmt.Fprintf(&body, "%s `%s` — %s\n", visualOf(e.Name), Escape(e.Name), Escape(e.Status))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				"Prompt "+e.Name,
				Callback{Action: ActionTmuxPrompt, Session: e.Name}.Encode(),
			),
			tgbotapi.NewInlineKeyboardButtonData(
				"Queue "+e.Name,
				Callback{Action: ActionTmuxQueue, Session: e.Name}.Encode(),
			),
		))
	}
	return Message{Body: body.String(), Markup: markup(rows)}
}

func queueControlRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Skip", Callback{Action: ActionSkip}.Encode()),
		tgbotapi.NewInlineKeyboardButtonData("Show All", Callback{Action: ActionShowQueue}.Encode()),
	)
}

func markup(rows [][]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

func shorten(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
