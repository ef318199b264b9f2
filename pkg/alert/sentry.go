package alert

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

// Sentry reports events that must not go unnoticed. A nil *Sentry is a no-op.
type Sentry struct {
	hub *sentry.Hub
}

func NewSentry(dsn, release string) (*Sentry, error) {
	if dsn == "" {
		return nil, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sentry client: %w", err)
	}

	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// ReportEvidenceLost is called when every delivery tier failed for an edit.
func (s *Sentry) ReportEvidenceLost(_ context.Context, ev e.EditEvent, channelID int64) {
	if s == nil {
		return
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("kind", "evidence_lost")
		scope.SetTag("tg_chat_id", strconv.FormatInt(ev.ChatID, 10))
		scope.SetTag("tg_channel_id", strconv.FormatInt(channelID, 10))
		scope.SetExtra("tg_message_id", ev.MessageID)
		scope.SetExtra("tg_user_id", ev.AuthorID)
		s.hub.CaptureMessage("edit evidence lost: all delivery tiers failed")
	})
}

// Recover reports a recovered panic value.
func (s *Sentry) Recover(v any) {
	if s == nil {
		return
	}
	s.hub.Recover(v)
}

func (s *Sentry) Flush(timeout time.Duration) {
	if s == nil {
		return
	}
	s.hub.Flush(timeout)
}
