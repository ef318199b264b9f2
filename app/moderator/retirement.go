package moderator

import (
	"context"

	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

type Deleter interface {
	BotPermissions(ctx context.Context, chatID int64) (e.BotPermissions, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Retirer removes edited messages from their source chat.
type Retirer struct {
	// Log is a logger
	Log logger.Logger

	// Platform checks permissions and deletes messages
	Platform Deleter
}

// Retire deletes a message and reports whether the platform confirmed it. The delete call
// is not attempted when the bot is not an admin or lacks the delete capability. Errors are
// logged and reported as false, so deleting an already deleted message is a benign false.
func (r *Retirer) Retire(ctx context.Context, chatID int64, messageID int) bool {
	log := r.Log.With("tg_chat_id", chatID, "tg_message_id", messageID)

	perms, err := r.Platform.BotPermissions(ctx, chatID)
	if err != nil {
		log.Warn("checking bot permissions", "error", err)
		return false
	}

	if !perms.IsAdmin {
		log.Warn("bot is not admin, skipping deletion", "error", e.ErrPermissionDenied)
		return false
	}

	if !perms.CanDeleteMessages {
		log.Warn("bot can not delete messages, skipping deletion", "error", e.ErrPermissionDenied)
		return false
	}

	err = r.Platform.DeleteMessage(ctx, chatID, messageID)
	if err != nil {
		log.Warn("deleting message", "error", err)
		return false
	}

	log.Info("message deleted")
	return true
}
