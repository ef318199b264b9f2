package entities

import "time"

// EditEvent is built from an inbound edited message and consumed by the edit pipeline.
type EditEvent struct {
	ChatID      int64
	MessageID   int
	AuthorID    int64
	IsAuthorBot bool
	SentAt      time.Time // zero if unknown
	EditedAt    time.Time // zero if unknown
	Text        string    // text or caption
	Media       *Media    // nil if the message has no attachment
	Forward     ForwardOrigin
	ReplyToID   int

	Chat   ChatMeta
	Author AuthorMeta
}

func (e *EditEvent) HasText() bool {
	return e.Text != ""
}

func (e *EditEvent) HasMedia() bool {
	return e.Media != nil
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaVoice    MediaKind = "voice"
)

// Media describes an attachment. Zero values mean the attribute is unknown.
type Media struct {
	Kind      MediaKind
	FileID    string
	Width     int
	Height    int
	Duration  int // seconds
	FileSize  int // bytes
	FileName  string
	MimeType  string
	Title     string
	Performer string
	Variants  int // number of photo sizes
}

type ForwardKind int

const (
	NotForwarded ForwardKind = iota
	ForwardFromUser
	ForwardFromChat
	ForwardFromHiddenUser
)

// ForwardOrigin is the normalized origin of a forwarded message.
type ForwardOrigin struct {
	Kind ForwardKind

	// set for ForwardFromUser
	User AuthorMeta

	// set for ForwardFromChat
	ChatID    int64
	ChatTitle string
	ChatType  string

	// set for ForwardFromHiddenUser
	SenderName string
}

func (o ForwardOrigin) IsForwarded() bool {
	return o.Kind != NotForwarded
}

func (o ForwardOrigin) IsChannel() bool {
	return o.Kind == ForwardFromChat && o.ChatType == "channel"
}
