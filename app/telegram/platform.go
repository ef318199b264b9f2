package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
)

// Platform performs moderation calls against the Bot API. Posts to the same destination
// are paced by a per-chat limiter.
type Platform struct {
	// Log is a logger
	Log logger.Logger

	// Bot is the Bot API client
	Bot *tgbotapi.BotAPI

	// Rate is the number of posts per second allowed to a single destination, zero disables pacing
	Rate rate.Limit

	// Burst is the limiter burst size
	Burst int

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func (p *Platform) BotPermissions(_ context.Context, chatID int64) (e.BotPermissions, error) {
	member, err := p.Bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: p.Bot.Self.ID},
	})
	if err != nil {
		return e.BotPermissions{}, fmt.Errorf("getting bot membership: %w", err)
	}

	// a plain member posts in groups, in channels it is only a subscriber
	var chatType string
	if member.Status == "member" {
		chat, err := p.Bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		if err != nil {
			return e.BotPermissions{}, fmt.Errorf("getting chat: %w", err)
		}
		chatType = chat.Type
	}

	return permissionsOf(member, chatType), nil
}

func permissionsOf(m tgbotapi.ChatMember, chatType string) e.BotPermissions {
	return e.BotPermissions{
		IsAdmin:           m.IsAdministrator() || m.IsCreator(),
		CanDeleteMessages: m.IsCreator() || m.CanDeleteMessages,
		CanPost: m.IsCreator() ||
			(m.Status == "member" && chatType != "channel") ||
			(m.IsAdministrator() && m.CanPostMessages),
	}
}

func (p *Platform) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	_, err := p.Bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

func (p *Platform) ForwardMessage(ctx context.Context, fromChatID int64, messageID int, toChatID int64) (int, error) {
	if err := p.wait(ctx, toChatID); err != nil {
		return 0, err
	}

	msg, err := p.Bot.Send(tgbotapi.NewForward(toChatID, fromChatID, messageID))
	if err != nil {
		return 0, fmt.Errorf("forwarding message: %w", err)
	}
	return msg.MessageID, nil
}

func (p *Platform) SendMedia(ctx context.Context, media e.Media, toChatID int64, caption string) error {
	var conf tgbotapi.Chattable

	file := tgbotapi.FileID(media.FileID)
	switch media.Kind {
	case e.MediaPhoto:
		c := tgbotapi.NewPhoto(toChatID, file)
		c.Caption = caption
		conf = c
	case e.MediaVideo:
		c := tgbotapi.NewVideo(toChatID, file)
		c.Caption = caption
		conf = c
	case e.MediaDocument:
		c := tgbotapi.NewDocument(toChatID, file)
		c.Caption = caption
		conf = c
	case e.MediaAudio:
		c := tgbotapi.NewAudio(toChatID, file)
		c.Caption = caption
		conf = c
	case e.MediaVoice:
		c := tgbotapi.NewVoice(toChatID, file)
		c.Caption = caption
		conf = c
	default:
		return fmt.Errorf("unsupported media kind: %s", media.Kind)
	}

	if err := p.wait(ctx, toChatID); err != nil {
		return err
	}

	_, err := p.Bot.Send(conf)
	if err != nil {
		return fmt.Errorf("sending %s: %w", media.Kind, err)
	}
	return nil
}

func (p *Platform) SendText(ctx context.Context, toChatID int64, text string, formatted bool) error {
	msg := tgbotapi.NewMessage(toChatID, text)
	msg.DisableWebPagePreview = true
	if formatted {
		msg.ParseMode = tgbotapi.ModeMarkdownV2
	}

	if err := p.wait(ctx, toChatID); err != nil {
		return err
	}

	_, err := p.Bot.Send(msg)
	if err != nil {
		return fmt.Errorf("sending message: %w", classifyError(err))
	}
	return nil
}

// ChatAdministrators lists human administrators of a chat as exempt admins.
func (p *Platform) ChatAdministrators(_ context.Context, chatID int64) ([]e.ExemptUser, error) {
	members, err := p.Bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("getting chat administrators: %w", err)
	}

	admins := make([]e.ExemptUser, 0, len(members))
	for _, m := range members {
		if m.User == nil || m.User.IsBot {
			continue
		}
		a := authorMeta(m.User)
		admins = append(admins, e.ExemptUser{
			ChatID:      chatID,
			UserID:      a.ID,
			Role:        e.ExemptRoleAdmin,
			DisplayName: a.DisplayName(),
			Handle:      a.Username,
		})
	}
	return admins, nil
}

func (p *Platform) wait(ctx context.Context, chatID int64) error {
	l := p.limiter(chatID)
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}

func (p *Platform) limiter(chatID int64) *rate.Limiter {
	if p.Rate <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limiters == nil {
		p.limiters = make(map[int64]*rate.Limiter)
	}

	l, ok := p.limiters[chatID]
	if !ok {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(p.Rate, burst)
		p.limiters[chatID] = l
	}
	return l
}

// classifyError marks Bot API rejections of message entities with ErrMarkup.
func classifyError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities") {
		return fmt.Errorf("%w: %s", e.ErrMarkup, apiErr.Message)
	}
	return err
}
