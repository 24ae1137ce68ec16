package present

import (
	"strings"
	"unicode/utf8"
)

// Context snippet bounds: the chat shows at most the last snippetLines
// lines and snippetMaxChars characters of assistant output.
const (
	snippetLines    = 5
	snippetMaxChars = 600
)

// mdEscaper escapes every character MarkdownV2 treats as markup.
var mdEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

// Escape escapes special characters for Telegram MarkdownV2.
func Escape(s string) string {
	return mdEscaper.Replace(s)
}

// Unescape removes MarkdownV2 escape sequences for the plain-text
// fallback path when a formatted send is rejected.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Markdown converts the small markdown subset the assistant emits
// (**bold**, `code`, fenced blocks) into MarkdownV2, escaping everything
// outside code spans.
func Markdown(s string) string {
	var b strings.Builder
	rest := s
	for {
		// Fenced code blocks pass through verbatim.
		start := strings.Index(rest, "```")
		if start < 0 {
			b.WriteString(markdownInline(rest))
			break
		}
		end := strings.Index(rest[start+3:], "```")
		if end < 0 {
			b.WriteString(markdownInline(rest))
			break
		}
		b.WriteString(markdownInline(rest[:start]))
		b.WriteString("```")
		b.WriteString(rest[start+3 : start+3+end])
		b.WriteString("```")
		rest = rest[start+3+end+3:]
	}
	return b.String()
}

// markdownInline handles **bold** and `code` spans outside fences.
func markdownInline(s string) string {
	var b strings.Builder
	for {
		if tick := strings.IndexByte(s, '`'); tick >= 0 {
			if close := strings.IndexByte(s[tick+1:], '`'); close >= 0 {
				b.WriteString(boldSpans(s[:tick]))
				b.WriteByte('`')
				b.WriteString(s[tick+1 : tick+1+close])
				b.WriteByte('`')
				s = s[tick+close+2:]
				continue
			}
		}
		b.WriteString(boldSpans(s))
		return b.String()
	}
}

// boldSpans rewrites **text** as *text*, escaping both halves.
func boldSpans(s string) string {
	var b strings.Builder
	for {
		open := strings.Index(s, "**")
		if open < 0 {
			b.WriteString(Escape(s))
			return b.String()
		}
		close := strings.Index(s[open+2:], "**")
		if close < 0 {
			b.WriteString(Escape(s))
			return b.String()
		}
		b.WriteString(Escape(s[:open]))
		b.WriteByte('*')
		b.WriteString(Escape(s[open+2 : open+2+close]))
		b.WriteByte('*')
		s = s[open+close+4:]
	}
}

// TrimSnippet bounds a context snippet to the last snippetLines lines and
// snippetMaxChars characters, prepending an ellipsis when truncated. The
// result is always valid UTF-8 and safe to embed in a fenced code block.
func TrimSnippet(s string) string {
	s = strings.TrimRight(s, "\n \t")
	truncated := false

	lines := strings.Split(s, "\n")
	if len(lines) > snippetLines {
		lines = lines[len(lines)-snippetLines:]
		truncated = true
	}
	s = strings.Join(lines, "\n")

	if len(s) > snippetMaxChars {
		// Telegram rejects messages that are not valid UTF-8.
		cut := len(s) - snippetMaxChars
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		s = s[cut:]
		truncated = true
	}
	// A triple backtick inside the snippet would close the surrounding
	// fence; a zero-width space between the ticks keeps it inert.
	s = strings.ReplaceAll(s, "```", "`\u200b`\u200b`")
	if truncated {
		s = "…" + s
	}
	return s
}
