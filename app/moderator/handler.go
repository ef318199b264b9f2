package moderator

import (
	"context"

	"nuclight.org/editwatch-tg-bot/app/metrics"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

type PolicyStore interface {
	GetPolicy(ctx context.Context, chatID int64) (e.ChatPolicy, error)
	IsExemptUser(ctx context.Context, chatID, userID int64) (bool, error)
}

type MessageRetirer interface {
	Retire(ctx context.Context, chatID int64, messageID int) bool
}

type EvidencePublisher interface {
	Publish(ctx context.Context, ev e.EditEvent, channelID int64, retired bool) e.PublishOutcome
}

type LossReporter interface {
	ReportEvidenceLost(ctx context.Context, ev e.EditEvent, channelID int64)
}

// Handler is the edit pipeline. Each edit is classified against the chat policy; skipped
// edits end there. Acted edits are deleted from the chat and then published to the bound
// channel with the deletion result, so a failed deletion still produces a record. Chats
// with deletion turned off get neither deletion nor a channel post.
type Handler struct {
	// Log is a logger
	Log logger.Logger

	// Store provides chat policies and exempt users
	Store PolicyStore

	// Retirer deletes edited messages
	Retirer MessageRetirer

	// Publisher posts evidence to the channel
	Publisher EvidencePublisher

	// Metrics is optional
	Metrics *metrics.Metrics

	// Alerts is optional, it is notified when evidence is lost
	Alerts LossReporter
}

// HandleEdit runs the pipeline once for an edit. It never fails, the returned result
// describes how far the edit went.
func (h *Handler) HandleEdit(ctx context.Context, ev e.EditEvent) e.Result {
	log := h.Log.With("tg_chat_id", ev.ChatID, "tg_message_id", ev.MessageID, "tg_user_id", ev.AuthorID)

	policy, isExempt, ok := h.loadPolicy(ctx, log, ev)
	if !ok {
		res := e.Result{Decision: e.Skip(e.SkipPolicyUnavailable)}
		h.Metrics.ObserveDecision(res.Decision)
		return res
	}

	d := Classify(ev, policy, isExempt)
	if d.Warning != "" {
		log.Warn(d.Warning, "sent_at", ev.SentAt, "edited_at", ev.EditedAt)
	}
	if d.Act && !policy.DeletionEnabled {
		d = e.Skip(e.SkipDeletionDisabled)
	}
	h.Metrics.ObserveDecision(d)

	res := e.Result{Decision: d}
	if !d.Act {
		log.Info("edit skipped", "reason", d.Reason)
		return res
	}

	log.Info("edit detected", "grace_minutes", policy.GraceMinutes, "tg_channel_id", policy.ChannelID)

	res.Retired = h.Retirer.Retire(ctx, ev.ChatID, ev.MessageID)
	h.Metrics.ObserveRetirement(res.Retired)

	out := h.Publisher.Publish(ctx, ev, policy.ChannelID, res.Retired)
	res.Published = &out
	h.Metrics.ObservePublish(out)

	if out.Lost() && h.Alerts != nil {
		h.Alerts.ReportEvidenceLost(ctx, ev, policy.ChannelID)
	}

	log.Info("edit handled", "retired", res.Retired, "published", out.String())

	return res
}

// loadPolicy reads the chat policy and exemption of the author. Bot authors need neither.
func (h *Handler) loadPolicy(ctx context.Context, log logger.Logger, ev e.EditEvent) (e.ChatPolicy, bool, bool) {
	if ev.IsAuthorBot {
		return e.ChatPolicy{ChatID: ev.ChatID}, false, true
	}

	policy, err := h.Store.GetPolicy(ctx, ev.ChatID)
	if err != nil {
		log.Error("reading chat policy", "error", err)
		return policy, false, false
	}

	isExempt, err := h.Store.IsExemptUser(ctx, ev.ChatID, ev.AuthorID)
	if err != nil {
		log.Warn("checking exempt user, treating author as regular user", "error", err)
		isExempt = false
	}

	return policy, isExempt, true
}
