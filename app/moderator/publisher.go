package moderator

import (
	"context"
	"errors"

	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

type Sender interface {
	BotPermissions(ctx context.Context, chatID int64) (e.BotPermissions, error)
	ForwardMessage(ctx context.Context, fromChatID int64, messageID int, toChatID int64) (int, error)
	SendMedia(ctx context.Context, media e.Media, toChatID int64, caption string) error
	SendText(ctx context.Context, toChatID int64, text string, formatted bool) error
}

// Publisher delivers evidence of an edit to the bound channel. Delivery goes through tiers
// and stops at the first one that succeeds:
//
//  1. forward of the original message, if it carries media
//  2. re-upload of the media with a plain caption
//  3. rich text record, the same record without markup if the markup was rejected,
//     and finally a minimal ASCII summary
//
// If the bot definitely can not post to the channel, only the minimal summary is tried.
type Publisher struct {
	// Log is a logger
	Log logger.Logger

	// Platform sends messages to the channel
	Platform Sender
}

// Publish never fails: it returns which tier delivered the evidence or a lost outcome.
func (p *Publisher) Publish(ctx context.Context, ev e.EditEvent, channelID int64, retired bool) e.PublishOutcome {
	log := p.Log.With("tg_chat_id", ev.ChatID, "tg_message_id", ev.MessageID, "tg_channel_id", channelID)

	rec := newRecord(ev, retired)

	if p.canPost(ctx, log, channelID) {
		if ev.HasMedia() {
			fwdID, err := p.Platform.ForwardMessage(ctx, ev.ChatID, ev.MessageID, channelID)
			if err == nil {
				log.Info("evidence forwarded", "tier", e.TierForward, "tg_forwarded_id", fwdID)
				return e.PublishOutcome{Tier: e.TierForward, Success: true}
			}
			log.Warn("forwarding message", "error", err)

			err = p.Platform.SendMedia(ctx, *ev.Media, channelID, rec.caption())
			if err == nil {
				log.Info("evidence re-uploaded", "tier", e.TierReupload, "media", ev.Media.Kind)
				return e.PublishOutcome{Tier: e.TierReupload, Success: true}
			}
			log.Warn("re-uploading media", "media", ev.Media.Kind, "error", err)
		}

		err := p.Platform.SendText(ctx, channelID, rec.rich(), true)
		if err == nil {
			log.Info("evidence posted", "tier", e.TierText, "mode", e.TextRich)
			return e.PublishOutcome{Tier: e.TierText, TextMode: e.TextRich, Success: true}
		}
		log.Warn("posting rich record", "error", err)

		if errors.Is(err, e.ErrMarkup) {
			err = p.Platform.SendText(ctx, channelID, rec.plain(), false)
			if err == nil {
				log.Info("evidence posted", "tier", e.TierText, "mode", e.TextPlain)
				return e.PublishOutcome{Tier: e.TierText, TextMode: e.TextPlain, Success: true}
			}
			log.Warn("posting plain record", "error", err)
		}
	}

	err := p.Platform.SendText(ctx, channelID, rec.minimal(), false)
	if err != nil {
		log.Error("evidence lost, every delivery tier failed", "error", err, "evidence_lost", true)
		return e.PublishOutcome{Tier: e.TierNone}
	}

	log.Info("evidence posted", "tier", e.TierText, "mode", e.TextMinimal)
	return e.PublishOutcome{Tier: e.TierText, TextMode: e.TextMinimal, Success: true}
}

// canPost probes channel permissions. An unknown answer is treated as a yes.
func (p *Publisher) canPost(ctx context.Context, log logger.Logger, channelID int64) bool {
	perms, err := p.Platform.BotPermissions(ctx, channelID)
	if err != nil {
		log.Warn("checking channel permissions", "error", err)
		return true
	}

	if !perms.CanPost {
		log.Warn("bot can not post to channel", "error", e.ErrPermissionDenied)
		return false
	}

	return true
}
