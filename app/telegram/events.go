package telegram

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

// newEditEvent converts an edited group message into a pipeline event.
func newEditEvent(msg *tgbotapi.Message) e.EditEvent {
	ev := e.EditEvent{
		MessageID: msg.MessageID,
		SentAt:    unixTime(msg.Date),
		EditedAt:  unixTime(msg.EditDate),
		Text:      msg.Text,
		Media:     extractMedia(msg),
		Forward:   normalizeForward(msg),
	}

	if ev.Text == "" {
		ev.Text = msg.Caption
	}

	if msg.Chat != nil {
		ev.ChatID = msg.Chat.ID
		ev.Chat = chatMeta(msg.Chat)
	}

	switch {
	case msg.From != nil:
		ev.Author = authorMeta(msg.From)
	case msg.SenderChat != nil:
		// messages sent on behalf of a chat carry no user
		ev.Author = e.AuthorMeta{ID: msg.SenderChat.ID, FirstName: msg.SenderChat.Title, Username: msg.SenderChat.UserName}
	}
	ev.AuthorID = ev.Author.ID
	ev.IsAuthorBot = ev.Author.IsBot

	if msg.ReplyToMessage != nil {
		ev.ReplyToID = msg.ReplyToMessage.MessageID
	}

	return ev
}

// normalizeForward collapses the forward fields of a message into a single origin.
func normalizeForward(msg *tgbotapi.Message) e.ForwardOrigin {
	switch {
	case msg.ForwardFromChat != nil:
		return e.ForwardOrigin{
			Kind:      e.ForwardFromChat,
			ChatID:    msg.ForwardFromChat.ID,
			ChatTitle: msg.ForwardFromChat.Title,
			ChatType:  msg.ForwardFromChat.Type,
		}
	case msg.ForwardFrom != nil:
		return e.ForwardOrigin{Kind: e.ForwardFromUser, User: authorMeta(msg.ForwardFrom)}
	case msg.ForwardSenderName != "":
		return e.ForwardOrigin{Kind: e.ForwardFromHiddenUser, SenderName: msg.ForwardSenderName}
	default:
		return e.ForwardOrigin{Kind: e.NotForwarded}
	}
}

func extractMedia(msg *tgbotapi.Message) *e.Media {
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return &e.Media{
			Kind:     e.MediaPhoto,
			FileID:   largest.FileID,
			Width:    largest.Width,
			Height:   largest.Height,
			FileSize: largest.FileSize,
			Variants: len(msg.Photo),
		}
	case msg.Video != nil:
		v := msg.Video
		return &e.Media{
			Kind:     e.MediaVideo,
			FileID:   v.FileID,
			Width:    v.Width,
			Height:   v.Height,
			Duration: v.Duration,
			FileSize: v.FileSize,
			FileName: v.FileName,
			MimeType: v.MimeType,
		}
	case msg.Document != nil:
		d := msg.Document
		return &e.Media{
			Kind:     e.MediaDocument,
			FileID:   d.FileID,
			FileName: d.FileName,
			MimeType: d.MimeType,
			FileSize: d.FileSize,
		}
	case msg.Audio != nil:
		a := msg.Audio
		return &e.Media{
			Kind:      e.MediaAudio,
			FileID:    a.FileID,
			Duration:  a.Duration,
			FileSize:  a.FileSize,
			MimeType:  a.MimeType,
			Title:     a.Title,
			Performer: a.Performer,
		}
	case msg.Voice != nil:
		v := msg.Voice
		return &e.Media{
			Kind:     e.MediaVoice,
			FileID:   v.FileID,
			Duration: v.Duration,
			FileSize: v.FileSize,
			MimeType: v.MimeType,
		}
	default:
		return nil
	}
}

func chatMeta(c *tgbotapi.Chat) e.ChatMeta {
	return e.ChatMeta{
		ID:          c.ID,
		Title:       c.Title,
		Type:        c.Type,
		Username:    c.UserName,
		Description: c.Description,
	}
}

func authorMeta(u *tgbotapi.User) e.AuthorMeta {
	return e.AuthorMeta{
		ID:           u.ID,
		IsBot:        u.IsBot,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.UserName,
		LanguageCode: u.LanguageCode,
	}
}

func unixTime(sec int) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
