// Package markdown renders Telegram MarkdownV2 text.
package markdown

import "strings"

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const specialChars = `_*[]()~` + "`" + `>#+-=|{}.!\`

var special = func() (m [256]bool) {
	for i := range len(specialChars) {
		m[specialChars[i]] = true
	}
	return m
}()

// EscapeV2 escapes every MarkdownV2 special character of plain text.
func EscapeV2(input string) string {
	n := 0
	for i := range len(input) {
		if special[input[i]] {
			n++
		}
	}
	if n == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + n)
	writeEscaped(&b, input)

	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	for i := range len(s) {
		if special[s[i]] {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
}

// Builder assembles a MarkdownV2 message line by line.
type Builder struct {
	b strings.Builder
}

// Bold appends escaped text in bold.
func (m *Builder) Bold(text string) *Builder {
	m.b.WriteByte('*')
	writeEscaped(&m.b, text)
	m.b.WriteByte('*')
	return m
}

// Text appends escaped plain text.
func (m *Builder) Text(text string) *Builder {
	writeEscaped(&m.b, text)
	return m
}

// Link appends an inline link. Inside the URL only ')' and '\' are escaped.
func (m *Builder) Link(text string, url string) *Builder {
	m.b.WriteByte('[')
	writeEscaped(&m.b, text)
	m.b.WriteString("](")
	for i := range len(url) {
		if url[i] == ')' || url[i] == '\\' {
			m.b.WriteByte('\\')
		}
		m.b.WriteByte(url[i])
	}
	m.b.WriteByte(')')
	return m
}

// Line ends the current line.
func (m *Builder) Line() *Builder {
	m.b.WriteByte('\n')
	return m
}

// String returns the message without trailing newlines.
func (m *Builder) String() string {
	return strings.TrimRight(m.b.String(), "\n")
}
