package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// handleMyChatMember tracks where the bot is an administrator.
//
// Promotion in a group registers the chat and records its human admins. Leaving a group or
// losing admin rights there deactivates the chat, and leaving a channel deactivates every
// binding pointing to it.
func (c *Client) handleMyChatMember(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) error {
	chat := upd.Chat
	oldMember, newMember := upd.OldChatMember, upd.NewChatMember

	log := c.Log.With(
		"tg_chat_id", chat.ID,
		"tg_chat_title", chat.Title,
		"tg_user_id", upd.From.ID,
		"old_status", oldMember.Status,
		"new_status", newMember.Status,
	)

	if chat.IsChannel() {
		if !newMember.HasLeft() && !newMember.WasKicked() {
			return nil
		}

		n, err := c.Store.DeactivateChannelBindings(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("deactivating channel bindings: %w", err)
		}
		log.Info("bot removed from channel", "bindings", n)
		return nil
	}

	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return nil
	}

	switch {
	case newMember.IsAdministrator():
		return c.onPromoted(ctx, &chat)

	case newMember.HasLeft() || newMember.WasKicked():
		err := c.Store.DeactivateChat(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("deactivating chat: %w", err)
		}
		log.Info("bot removed from chat")
		return nil

	case oldMember.IsAdministrator() && newMember.Status == "member":
		err := c.Store.DeactivateChat(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("deactivating chat: %w", err)
		}
		log.Info("bot demoted")

		c.notify(upd.From.ID, fmt.Sprintf(
			"I am no longer an administrator of %q, edits there are not watched anymore.", chat.Title))
		return nil

	default:
		log.Info("bot membership changed")
		return nil
	}
}

func (c *Client) onPromoted(ctx context.Context, chat *tgbotapi.Chat) error {
	log := c.Log.With("tg_chat_id", chat.ID, "tg_chat_title", chat.Title)

	err := c.Store.UpsertChat(ctx, chatMeta(chat))
	if err != nil {
		return fmt.Errorf("registering chat: %w", err)
	}

	admins, err := c.Platform.ChatAdministrators(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("listing chat admins: %w", err)
	}

	err = c.Store.ReplaceAdmins(ctx, chat.ID, admins)
	if err != nil {
		return fmt.Errorf("storing chat admins: %w", err)
	}

	log.Info("bot promoted", "admins", len(admins))

	text := fmt.Sprintf("I am now an administrator of %q.\n\nUse /chats to bind a notification channel and adjust the settings.", chat.Title)
	for _, a := range admins {
		c.notify(a.UserID, text)
	}

	return nil
}

// notify sends a private message. Users who never started the bot can not be reached,
// so failures are only logged.
func (c *Client) notify(userID int64, text string) {
	if err := c.send(userID, text, nil); err != nil {
		c.Log.Debug("notifying user", "tg_user_id", userID, "error", err)
	}
}
