package telegram

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/editwatch-tg-bot/app/metrics"
	"nuclight.org/editwatch-tg-bot/app/session"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
	"nuclight.org/editwatch-tg-bot/pkg/logger"
	"nuclight.org/editwatch-tg-bot/pkg/mutex"
)

type EditHandler interface {
	HandleEdit(ctx context.Context, ev e.EditEvent) e.Result
}

// SettingsStore keeps chats, channel bindings and exempt users managed through the menu.
type SettingsStore interface {
	UpsertChat(ctx context.Context, chat e.ChatMeta) error
	DeactivateChat(ctx context.Context, chatID int64) error
	DeactivateChannelBindings(ctx context.Context, channelID int64) (int64, error)
	ListAdminChats(ctx context.Context, userID int64) ([]e.ChatSummary, error)
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	GetPolicy(ctx context.Context, chatID int64) (e.ChatPolicy, error)
	BindChannel(ctx context.Context, chatID, channelID, boundBy int64) error
	SetDeletionEnabled(ctx context.Context, chatID int64, enabled bool) error
	SetGraceMinutes(ctx context.Context, chatID int64, minutes int) (int, error)
	AddExemptUser(ctx context.Context, u e.ExemptUser) error
	RemoveExemptUser(ctx context.Context, chatID, userID int64) error
	ReplaceAdmins(ctx context.Context, chatID int64, admins []e.ExemptUser) error
	ListExemptUsers(ctx context.Context, chatID int64, role e.ExemptRole) ([]e.ExemptUser, error)
}

type ChatInspector interface {
	BotPermissions(ctx context.Context, chatID int64) (e.BotPermissions, error)
	ChatAdministrators(ctx context.Context, chatID int64) ([]e.ExemptUser, error)
}

type PanicReporter interface {
	Recover(v any)
}

type Client struct {
	// Log is a logger
	Log logger.Logger

	// Bot is the Bot API client
	Bot *tgbotapi.BotAPI

	// WorkersNum is the number of goroutines handling updates
	WorkersNum int

	// PollTimeout is the long polling timeout, it must be shorter than the http client timeout
	PollTimeout time.Duration

	// WebhookURL switches the client to webhook mode when set, updates are then fed by WebhookHandler
	WebhookURL string

	// WebhookSecret is registered with the webhook and required on every webhook request,
	// a random one is generated by Start when empty
	WebhookSecret string

	// Edits runs the moderation pipeline for edited messages
	Edits EditHandler

	// Store keeps chat settings
	Store SettingsStore

	// Platform inspects chats and channels
	Platform ChatInspector

	// Sessions keeps settings conversations
	Sessions *session.Store

	// Metrics is optional
	Metrics *metrics.Metrics

	// Alerts is optional, it receives recovered panics
	Alerts PanicReporter

	locks   mutex.KeyedMutex
	webhook chan tgbotapi.Update
	wg      sync.WaitGroup
}

func (c *Client) Start(ctx context.Context) error {
	if c.WorkersNum <= 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	log := c.Log

	var updatesChan tgbotapi.UpdatesChannel
	if c.WebhookURL != "" {
		if c.WebhookSecret == "" {
			secret, err := newWebhookSecret()
			if err != nil {
				return err
			}
			c.WebhookSecret = secret
		}

		err := c.setWebhook()
		if err != nil {
			return err
		}

		c.webhook = make(chan tgbotapi.Update, c.Bot.Buffer)
		updatesChan = c.webhook

		log.Info("webhook registered", "url", c.WebhookURL)
	} else {
		_, err := c.Bot.Request(tgbotapi.DeleteWebhookConfig{})
		if err != nil {
			return fmt.Errorf("deleting webhook: %w", err)
		}

		updatesConf := tgbotapi.NewUpdate(0)
		updatesConf.Timeout = 60
		if c.PollTimeout > 0 {
			updatesConf.Timeout = int(c.PollTimeout.Seconds())
		}
		updatesConf.AllowedUpdates = allowedUpdates

		updatesChan = c.Bot.GetUpdatesChan(updatesConf)

		log.Info("polling for updates")
	}

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleUpdatesFromChan(ctx, updatesChan)
		}()
	}

	return nil
}

var allowedUpdates = []string{"message", "edited_message", "callback_query", "my_chat_member"}

// webhookSecretHeader carries the secret token Telegram was given in setWebhook.
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// setWebhook registers the webhook with its secret token. WebhookConfig has no field for it.
func (c *Client) setWebhook() error {
	params := tgbotapi.Params{
		"url":          c.WebhookURL,
		"secret_token": c.WebhookSecret,
	}
	err := params.AddInterface("allowed_updates", allowedUpdates)
	if err != nil {
		return fmt.Errorf("encoding allowed updates: %w", err)
	}

	_, err = c.Bot.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("setting webhook: %w", err)
	}
	return nil
}

func newWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (c *Client) validWebhookSecret(token string) bool {
	if c.WebhookSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.WebhookSecret)) == 1
}

// Wait blocks until every worker returned. Polling is stopped first.
func (c *Client) Wait() {
	if c.webhook == nil {
		c.Bot.StopReceivingUpdates()
	}
	c.wg.Wait()
}

// WebhookHandler accepts updates pushed by Telegram and queues them for the workers.
// Requests without the registered secret token are rejected before decoding.
func (c *Client) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.validWebhookSecret(r.Header.Get(webhookSecretHeader)) {
			c.Log.Warn("webhook request with a wrong secret token", "remote_addr", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		update, err := c.Bot.HandleUpdate(r)
		if err != nil {
			c.Log.Warn("decoding webhook update", "error", err)
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}

		if c.webhook == nil {
			http.Error(w, "webhook is not enabled", http.StatusServiceUnavailable)
			return
		}

		select {
		case c.webhook <- *update:
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
			http.Error(w, "queue is full", http.StatusServiceUnavailable)
		}
	})
}

func (c *Client) handleUpdatesFromChan(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updatesChan:
			if !ok {
				return
			}
			err := c.handleUpdate(ctx, update)
			if err != nil {
				c.Log.Error("handling update", "tg_update_id", update.UpdateID, "error", err)
			}
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
			c.Metrics.IncPanics()
			if c.Alerts != nil {
				c.Alerts.Recover(err)
			}
		}
	}()

	switch {
	case update.EditedMessage != nil:
		c.Metrics.IncUpdate("edited_message")
		return c.handleEditedMessage(ctx, update.EditedMessage)
	case update.MyChatMember != nil:
		c.Metrics.IncUpdate("my_chat_member")
		return c.handleMyChatMember(ctx, update.MyChatMember)
	case update.CallbackQuery != nil:
		c.Metrics.IncUpdate("callback_query")
		return c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		c.Metrics.IncUpdate("message")
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return nil
		}
		return c.handlePrivateMessage(ctx, update.Message)
	default:
		c.Metrics.IncUpdate("other")
		log.Debug("update ignored")
		return nil
	}
}

func (c *Client) handleEditedMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.Chat == nil {
		c.Log.Warn("edited message chat is nil", "tg_message_id", msg.MessageID)
		return nil
	}

	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		return nil
	}

	key := strconv.FormatInt(msg.Chat.ID, 10) + ":" + strconv.Itoa(msg.MessageID)
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	ev := newEditEvent(msg)

	// a started run finishes even if the bot is shutting down
	res := c.Edits.HandleEdit(context.WithoutCancel(ctx), ev)

	c.Log.Debug(
		"edited message processed",
		"tg_chat_id", ev.ChatID,
		"tg_message_id", ev.MessageID,
		"decision", res.Decision.String(),
		"retired", res.Retired,
	)

	return nil
}

func (c *Client) send(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}

	_, err := c.Bot.Send(msg)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (c *Client) edit(msg *tgbotapi.Message, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	var conf tgbotapi.EditMessageTextConfig
	if markup != nil {
		conf = tgbotapi.NewEditMessageTextAndMarkup(msg.Chat.ID, msg.MessageID, text, *markup)
	} else {
		conf = tgbotapi.NewEditMessageText(msg.Chat.ID, msg.MessageID, text)
	}
	conf.DisableWebPagePreview = true

	_, err := c.Bot.Send(conf)
	if err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}
