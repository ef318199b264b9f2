package moderator

import (
	"time"

	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

// Classify decides whether an edit must be acted upon. Rules are applied in order:
// bot authors and exempt users are skipped, chats without a bound channel are skipped,
// a zero grace window acts immediately, and otherwise an edit is skipped while it stays
// within the grace window counted from the original send time.
//
// Missing timestamps fail open: the edit is acted upon and the decision carries a warning.
func Classify(ev e.EditEvent, policy e.ChatPolicy, isExempt bool) e.Decision {
	if ev.IsAuthorBot {
		return e.Skip(e.SkipBotAuthor)
	}

	if isExempt {
		return e.Skip(e.SkipExemptUser)
	}

	if !policy.HasChannel() {
		return e.Skip(e.SkipNoChannel)
	}

	if policy.GraceMinutes <= 0 {
		return e.Act()
	}

	if ev.SentAt.IsZero() || ev.EditedAt.IsZero() {
		d := e.Act()
		d.Warning = "missing message timestamps, acting without grace check"
		return d
	}

	delta := ev.EditedAt.Sub(ev.SentAt)
	if delta <= time.Duration(policy.GraceMinutes)*time.Minute {
		return e.Skip(e.SkipWithinGrace)
	}

	return e.Act()
}
