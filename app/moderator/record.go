package moderator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

const (
	richBodyLimit    = 1000
	minimalBodyLimit = 300
	captionLimit     = 1024
	descriptionLimit = 100
	fieldLimit       = 300

	timeLayout = "02.01.2006 15:04:05 MST"
	noText     = "Text unavailable"
)

type field struct {
	label string
	value string
	code  bool
}

type section struct {
	title  string
	fields []field
}

// record is a structured description of an edit, rendered as rich, plain or minimal text.
type record struct {
	header   string
	sections []section
	body     string
	action   string

	// short versions for the minimal and caption renderings
	author string
	chat   string
	edited string
	media  string
}

func newRecord(ev e.EditEvent, retired bool) record {
	r := record{
		header: "EDITED MESSAGE DETECTED",
		action: "Message left in the chat, deletion failed",
		body:   ev.Text,
	}
	if retired {
		r.header = "EDITED MESSAGE REMOVED"
		r.action = "Message removed from the chat, this post is the only remaining copy"
	}
	if r.body == "" {
		r.body = noText
	}

	r.sections = append(r.sections, authorSection(ev.Author), chatSection(ev.Chat), messageSection(ev))
	if ev.Media != nil {
		r.sections = append(r.sections, mediaSection(*ev.Media))
		r.media = strings.ToUpper(string(ev.Media.Kind))
	}

	r.author = fmt.Sprintf("%s (%s, id %d)", ev.Author.DisplayName(), handleOr(ev.Author.Username, "no username"), ev.Author.ID)
	r.chat = fmt.Sprintf("%s (id %d)", titleOr(ev.Chat.Title), ev.Chat.ID)
	if !ev.EditedAt.IsZero() {
		r.edited = formatTime(ev.EditedAt)
	}

	return r
}

func authorSection(a e.AuthorMeta) section {
	kind := "User"
	if a.IsBot {
		kind = "Bot"
	}

	s := section{title: "AUTHOR", fields: []field{
		{label: "ID", value: strconv.FormatInt(a.ID, 10), code: true},
		{label: "Name", value: a.DisplayName()},
		{label: "Username", value: handleOr(a.Username, "no username")},
		{label: "Type", value: kind},
	}}
	if a.LanguageCode != "" {
		s.fields = append(s.fields, field{label: "Language", value: a.LanguageCode, code: true})
	}
	return s
}

func chatSection(c e.ChatMeta) section {
	s := section{title: "CHAT", fields: []field{
		{label: "Title", value: titleOr(c.Title)},
		{label: "Chat ID", value: strconv.FormatInt(c.ID, 10), code: true},
	}}
	if c.Type != "" {
		s.fields = append(s.fields, field{label: "Type", value: c.Type, code: true})
	}
	if c.Username != "" {
		s.fields = append(s.fields, field{label: "Username", value: "@" + c.Username})
	}
	if c.Description != "" {
		s.fields = append(s.fields, field{label: "Description", value: truncate(c.Description, descriptionLimit)})
	}
	return s
}

func messageSection(ev e.EditEvent) section {
	s := section{title: "MESSAGE", fields: []field{
		{label: "Message ID", value: strconv.Itoa(ev.MessageID), code: true},
	}}
	if !ev.SentAt.IsZero() {
		s.fields = append(s.fields, field{label: "Sent", value: formatTime(ev.SentAt), code: true})
	}
	if !ev.EditedAt.IsZero() {
		s.fields = append(s.fields, field{label: "Edited", value: formatTime(ev.EditedAt), code: true})
	}
	if ev.Forward.IsForwarded() {
		s.fields = append(s.fields, field{label: "Forwarded", value: describeForward(ev.Forward)})
	}
	if ev.ReplyToID != 0 {
		s.fields = append(s.fields, field{label: "Reply to", value: strconv.Itoa(ev.ReplyToID), code: true})
	}
	return s
}

func mediaSection(m e.Media) section {
	s := section{title: "MEDIA", fields: []field{
		{label: "Type", value: strings.ToUpper(string(m.Kind))},
	}}
	add := func(label, value string) {
		if value != "" {
			s.fields = append(s.fields, field{label: label, value: value})
		}
	}

	switch m.Kind {
	case e.MediaPhoto:
		if m.Variants > 0 {
			add("Sizes", strconv.Itoa(m.Variants))
		}
		add("Resolution", resolution(m))
	case e.MediaVideo:
		add("Duration", seconds(m.Duration))
		add("Resolution", resolution(m))
		add("File size", megabytes(m.FileSize))
	case e.MediaDocument:
		add("File name", m.FileName)
		add("MIME type", m.MimeType)
		add("File size", megabytes(m.FileSize))
	case e.MediaAudio:
		add("Title", m.Title)
		add("Performer", m.Performer)
		add("Duration", seconds(m.Duration))
		add("File size", megabytes(m.FileSize))
	case e.MediaVoice:
		add("Duration", seconds(m.Duration))
		if m.FileSize > 0 {
			add("File size", fmt.Sprintf("%.1f KB", float64(m.FileSize)/1024))
		}
	}

	return s
}

// rich renders the record as MarkdownV2.
func (r record) rich() string {
	var sb strings.Builder

	sb.WriteString("🔄 *" + escapeMarkdown(r.header) + "*\n")
	for _, s := range r.sections {
		sb.WriteString("\n*" + escapeMarkdown(s.title) + "*\n")
		for _, f := range s.fields {
			value := escapeField(f.value)
			if f.code {
				value = "`" + value + "`"
			}
			sb.WriteString("• " + escapeMarkdown(f.label) + ": " + value + "\n")
		}
	}

	sb.WriteString("\n*CONTENT*\n")
	sb.WriteString(escapeBody(r.body, richBodyLimit))
	sb.WriteString("\n\n⚠️ *Action:* " + escapeMarkdown(r.action))

	return sb.String()
}

// plain renders the same content as rich without any markup.
func (r record) plain() string {
	var sb strings.Builder

	sb.WriteString("🔄 " + r.header + "\n")
	for _, s := range r.sections {
		sb.WriteString("\n" + s.title + "\n")
		for _, f := range s.fields {
			sb.WriteString("• " + f.label + ": " + sanitize(truncate(f.value, fieldLimit), false) + "\n")
		}
	}

	sb.WriteString("\nCONTENT\n")
	sb.WriteString(sanitize(truncate(r.body, richBodyLimit), true))
	sb.WriteString("\n\n⚠️ Action: " + r.action)

	return sb.String()
}

// minimal renders a short ASCII-only summary used as the last resort.
func (r record) minimal() string {
	var sb strings.Builder

	sb.WriteString(r.header + "\n")
	sb.WriteString("Author: " + asciiSafe(r.author) + "\n")
	sb.WriteString("Chat: " + asciiSafe(r.chat) + "\n")
	if r.edited != "" {
		sb.WriteString("Edited: " + r.edited + "\n")
	}
	if r.media != "" {
		sb.WriteString("Media: " + r.media + "\n")
	}
	sb.WriteString("Content: " + asciiSafe(truncate(r.body, minimalBodyLimit)) + "\n")
	sb.WriteString("Action: " + r.action)

	return sb.String()
}

// caption renders a plain caption for re-uploaded media within the caption limit.
func (r record) caption() string {
	text := "🔄 " + r.header + "\n" +
		"From: " + sanitize(r.author, false) + "\n" +
		"Chat: " + sanitize(r.chat, false) + "\n" +
		r.action + "\n\n" +
		sanitize(r.body, true)

	return truncateUTF16(text, captionLimit)
}

func describeForward(o e.ForwardOrigin) string {
	switch o.Kind {
	case e.ForwardFromUser:
		return fmt.Sprintf("from user %s (id %d)", o.User.DisplayName(), o.User.ID)
	case e.ForwardFromChat:
		return fmt.Sprintf("from %s %s (id %d)", o.ChatType, titleOr(o.ChatTitle), o.ChatID)
	case e.ForwardFromHiddenUser:
		return "from hidden user " + o.SenderName
	default:
		return "no"
	}
}

var backslashEscaper = strings.NewReplacer(`\`, `\\`)

// escapeMarkdown escapes text for MarkdownV2. EscapeText does not handle the backslash itself.
func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, backslashEscaper.Replace(s))
}

// escapeField escapes a single-line value. Input that can not be escaped reliably is reduced
// to letters, digits and spaces.
func escapeField(s string) string {
	if !utf8.ValidString(s) {
		return stripUnsafe(truncate(s, fieldLimit))
	}
	return escapeMarkdown(truncate(sanitize(s, false), fieldLimit))
}

// escapeBody is escapeField for multi-line content truncated to limit runes.
func escapeBody(s string, limit int) string {
	if !utf8.ValidString(s) {
		return stripUnsafe(truncate(s, limit))
	}
	return escapeMarkdown(truncate(sanitize(s, true), limit))
}

// sanitize drops non-printable runes. Line breaks survive only in multiline mode.
func sanitize(s string, multiline bool) string {
	s = strings.ToValidUTF8(s, "")

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' && multiline:
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func stripUnsafe(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToValidUTF8(s, "") {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func asciiSafe(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '\n':
			sb.WriteRune(' ')
		case r >= 0x20 && r < 0x7f:
			sb.WriteRune(r)
		default:
			sb.WriteRune('?')
		}
	}
	return sb.String()
}

// truncate cuts s to limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

// truncateUTF16 is truncate for limits counted in UTF-16 code units, as Telegram counts captions.
func truncateUTF16(s string, limit int) string {
	if utf16Len(s) <= limit {
		return s
	}

	var sb strings.Builder
	n := 0
	for _, r := range s {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if n+w > limit-3 {
			break
		}
		n += w
		sb.WriteRune(r)
	}
	return sb.String() + "..."
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if w := utf16.RuneLen(r); w > 0 {
			n += w
		} else {
			n++
		}
	}
	return n
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func handleOr(username, fallback string) string {
	if username == "" {
		return fallback
	}
	return "@" + username
}

func titleOr(title string) string {
	if title == "" {
		return "Unknown chat"
	}
	return title
}

func resolution(m e.Media) string {
	if m.Width == 0 || m.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

func seconds(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d s", n)
}

func megabytes(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
}
