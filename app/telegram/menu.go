package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/editwatch-tg-bot/app/session"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

const welcomeText = "Hello, I watch edited messages in group chats.\n\n" +
	"When a message is edited after the allowed time, I remove it from the chat and post " +
	"the original content to a channel of your choice.\n\n" +
	"How to set me up:\n" +
	"1. Add me to your group as admin with the right to delete messages\n" +
	"2. Add me to your channel as admin with the right to post\n" +
	"3. Use /chats to bind the channel and adjust the settings\n\n" +
	"Use /cancel to abort any pending input."

var gracePresets = []int{0, 1, 5, 10, 15, 20}

var errBadCallback = errors.New("malformed callback data")

// callback is a parsed inline button payload, "action:chatID[:arg]".
type callback struct {
	Action string
	ChatID int64
	Arg    int64
}

func (cb callback) String() string {
	s := cb.Action
	if cb.ChatID != 0 {
		s += ":" + strconv.FormatInt(cb.ChatID, 10)
	}
	if cb.Arg != 0 || cb.Action == "settime" {
		s += ":" + strconv.FormatInt(cb.Arg, 10)
	}
	return s
}

func parseCallback(data string) (callback, error) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 3 {
		return callback{}, errBadCallback
	}

	cb := callback{Action: parts[0]}
	if len(parts) > 1 {
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return callback{}, fmt.Errorf("%w: chat id: %w", errBadCallback, err)
		}
		cb.ChatID = id
	}
	if len(parts) > 2 {
		arg, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return callback{}, fmt.Errorf("%w: argument: %w", errBadCallback, err)
		}
		cb.Arg = arg
	}
	return cb, nil
}

type callbackFunc func(ctx context.Context, q *tgbotapi.CallbackQuery, cb callback) error

// chatRoutes handle callbacks bound to a chat, the caller must be one of its recorded admins.
func (c *Client) chatRoutes() map[string]callbackFunc {
	return map[string]callbackFunc{
		"chat":    c.settingsRoute,
		"chan":    c.bindChannelRoute,
		"del":     c.toggleDeletionRoute,
		"time":    c.graceMenuRoute,
		"settime": c.setGraceRoute,
		"ctime":   c.customGraceRoute,
		"mods":    c.moderatorsRoute,
		"modfwd":  c.moderatorForwardRoute,
		"modid":   c.moderatorIDRoute,
		"modrm":   c.removeModeratorRoute,
	}
}

func (c *Client) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	defer func() { _, _ = c.Bot.Request(tgbotapi.NewCallback(q.ID, "")) }()

	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return nil
	}

	log := c.Log.With("tg_user_id", q.From.ID, "data", q.Data)

	cb, err := parseCallback(q.Data)
	if err != nil {
		log.Warn("parsing callback", "error", err)
		return nil
	}

	if cb.Action == "chats" {
		c.Sessions.Reset(q.From.ID)
		return c.showChats(ctx, q.From.ID, q.Message)
	}

	route, ok := c.chatRoutes()[cb.Action]
	if !ok {
		log.Warn("unknown callback action")
		return nil
	}

	isAdmin, err := c.Store.IsChatAdmin(ctx, cb.ChatID, q.From.ID)
	if err != nil {
		return fmt.Errorf("checking chat admin: %w", err)
	}
	if !isAdmin {
		log.Info("settings denied", "tg_chat_id", cb.ChatID)
		return c.edit(q.Message, "Only administrators of this chat can change its settings.", backToChats())
	}

	return route(ctx, q, cb)
}

func (c *Client) handlePrivateMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	userID := msg.From.ID
	log := c.Log.With("tg_user_id", userID)

	if msg.IsCommand() {
		c.Sessions.Reset(userID)

		switch msg.Command() {
		case "start":
			log.Info("start command")
			return c.send(msg.Chat.ID, welcomeText, nil)
		case "chats":
			return c.showChats(ctx, userID, nil)
		case "cancel":
			return c.send(msg.Chat.ID, "Cancelled. Use /chats to open the settings.", nil)
		default:
			return c.send(msg.Chat.ID, "Unknown command. Use /start for help.", nil)
		}
	}

	sess := c.Sessions.Get(userID)
	switch sess.State {
	case session.AwaitingChannelForward:
		return c.receiveChannel(ctx, msg, sess)
	case session.AwaitingCustomTime:
		return c.receiveGrace(ctx, msg, sess)
	case session.AwaitingModeratorInput:
		return c.receiveModeratorID(ctx, msg, sess)
	case session.AwaitingModeratorForward:
		return c.receiveModeratorForward(ctx, msg, sess)
	default:
		return c.send(msg.Chat.ID, "Use /chats to configure your chats.", nil)
	}
}

// showChats lists chats administered by the user, editing menuMsg in place if given.
func (c *Client) showChats(ctx context.Context, userID int64, menuMsg *tgbotapi.Message) error {
	chats, err := c.Store.ListAdminChats(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing admin chats: %w", err)
	}

	text := "Your chats where I am an administrator.\n\nChoose a chat to configure:"
	var markup *tgbotapi.InlineKeyboardMarkup
	if len(chats) == 0 {
		text = "You have no active chats yet.\n\nAdd me to a group as administrator and it will appear here."
	} else {
		markup = chatsKeyboard(chats)
	}

	if menuMsg != nil {
		return c.edit(menuMsg, text, markup)
	}
	return c.send(userID, text, markup)
}

func chatsKeyboard(chats []e.ChatSummary) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(chats))
	for _, ch := range chats {
		title := ch.Title
		if title == "" {
			title = "Chat " + strconv.FormatInt(ch.ChatID, 10)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(title, callback{Action: "chat", ChatID: ch.ChatID}.String()),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (c *Client) settingsRoute(ctx context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	c.Sessions.Reset(q.From.ID)

	text, markup, err := c.settingsView(ctx, cb.ChatID)
	if err != nil {
		return err
	}
	return c.edit(q.Message, text, markup)
}

func (c *Client) settingsView(ctx context.Context, chatID int64) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	policy, err := c.Store.GetPolicy(ctx, chatID)
	if err != nil {
		return "", nil, fmt.Errorf("getting policy: %w", err)
	}

	mods, err := c.Store.ListExemptUsers(ctx, chatID, e.ExemptRoleModerator)
	if err != nil {
		return "", nil, fmt.Errorf("listing moderators: %w", err)
	}

	return settingsText(policy, len(mods)), settingsKeyboard(policy), nil
}

func settingsText(p e.ChatPolicy, moderators int) string {
	var sb strings.Builder

	sb.WriteString("Chat settings\n\n")
	if p.HasChannel() {
		sb.WriteString(fmt.Sprintf("Channel: bound (%d)\n", p.ChannelID))
	} else {
		sb.WriteString("Channel: not bound\n")
	}
	if p.DeletionEnabled {
		sb.WriteString("Deletion: enabled\n")
	} else {
		sb.WriteString("Deletion: disabled\n")
	}
	sb.WriteString("Grace window: " + graceLabel(p.GraceMinutes) + "\n")
	sb.WriteString(fmt.Sprintf("Moderators: %d\n\nChoose an action:", moderators))

	return sb.String()
}

func settingsKeyboard(p e.ChatPolicy) *tgbotapi.InlineKeyboardMarkup {
	id := p.ChatID

	channelText := "Bind notification channel"
	if p.HasChannel() {
		channelText = "Change notification channel"
	}
	deletionText := "Enable deletion"
	if p.DeletionEnabled {
		deletionText = "Disable deletion"
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(channelText, callback{Action: "chan", ChatID: id}.String())),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(deletionText, callback{Action: "del", ChatID: id}.String())),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Grace window: "+graceLabel(p.GraceMinutes), callback{Action: "time", ChatID: id}.String())),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Moderators", callback{Action: "mods", ChatID: id}.String())),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Back to chats", "chats")),
	)
	return &markup
}

func graceLabel(minutes int) string {
	if minutes == 0 {
		return "none, act on any edit"
	}
	return fmt.Sprintf("%d min", minutes)
}

func backToChats() *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Back to chats", "chats")),
	)
	return &markup
}

func backToSettings(chatID int64) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Back to settings", callback{Action: "chat", ChatID: chatID}.String())),
	)
	return &markup
}

func (c *Client) bindChannelRoute(_ context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	c.Sessions.Await(q.From.ID, session.AwaitingChannelForward, cb.ChatID)

	return c.edit(q.Message,
		"Forward any post from the channel where edited messages should go.\n\n"+
			"I must be an administrator of that channel. Use /cancel to abort.",
		backToSettings(cb.ChatID))
}

func (c *Client) receiveChannel(ctx context.Context, msg *tgbotapi.Message, sess session.Session) error {
	log := c.Log.With("tg_user_id", msg.From.ID, "tg_chat_id", sess.ChatID)

	origin := normalizeForward(msg)
	if !origin.IsChannel() {
		return c.send(msg.Chat.ID, "Please forward a post from the channel itself, not from a chat or a user.", nil)
	}

	perms, err := c.Platform.BotPermissions(ctx, origin.ChatID)
	if err != nil || !perms.IsAdmin {
		log.Info("bot is not admin in channel", "tg_channel_id", origin.ChatID, "error", err)
		return c.send(msg.Chat.ID, fmt.Sprintf(
			"I am not an administrator of the channel %q.\n\nAdd me as administrator and forward the post again.",
			origin.ChatTitle), nil)
	}

	err = c.Store.BindChannel(ctx, sess.ChatID, origin.ChatID, msg.From.ID)
	if err != nil {
		return fmt.Errorf("binding channel: %w", err)
	}
	c.Sessions.Take(msg.From.ID, session.AwaitingChannelForward)

	log.Info("channel bound", "tg_channel_id", origin.ChatID)

	return c.send(msg.Chat.ID, fmt.Sprintf(
		"Channel %q is bound.\n\nEdited messages of the chat will be posted there.", origin.ChatTitle),
		backToSettings(sess.ChatID))
}

func (c *Client) toggleDeletionRoute(ctx context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	policy, err := c.Store.GetPolicy(ctx, cb.ChatID)
	if err != nil {
		return fmt.Errorf("getting policy: %w", err)
	}

	err = c.Store.SetDeletionEnabled(ctx, cb.ChatID, !policy.DeletionEnabled)
	if err != nil {
		return fmt.Errorf("setting deletion: %w", err)
	}

	c.Log.Info("deletion toggled", "tg_chat_id", cb.ChatID, "tg_user_id", q.From.ID, "enabled", !policy.DeletionEnabled)

	return c.settingsRoute(ctx, q, cb)
}

func (c *Client) graceMenuRoute(ctx context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	policy, err := c.Store.GetPolicy(ctx, cb.ChatID)
	if err != nil {
		return fmt.Errorf("getting policy: %w", err)
	}

	text := fmt.Sprintf("Grace window, currently %s.\n\n"+
		"0 means every edit is acted upon. With 1 to %d minutes, edits made within that time "+
		"after sending are allowed and the message stays.", graceLabel(policy.GraceMinutes), e.MaxGraceMinutes)

	return c.edit(q.Message, text, graceKeyboard(cb.ChatID, policy.GraceMinutes))
}

func graceKeyboard(chatID int64, current int) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(gracePresets)+2)
	for _, m := range gracePresets {
		label := fmt.Sprintf("%d min", m)
		if m == current {
			label = "✅ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callback{Action: "settime", ChatID: chatID, Arg: int64(m)}.String()),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Enter manually", callback{Action: "ctime", ChatID: chatID}.String())),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Back to settings", callback{Action: "chat", ChatID: chatID}.String())),
	)

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (c *Client) setGraceRoute(ctx context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	stored, err := c.Store.SetGraceMinutes(ctx, cb.ChatID, int(cb.Arg))
	if err != nil {
		return fmt.Errorf("setting grace minutes: %w", err)
	}

	c.Log.Info("grace window set", "tg_chat_id", cb.ChatID, "tg_user_id", q.From.ID, "minutes", stored)

	return c.settingsRoute(ctx, q, cb)
}

func (c *Client) customGraceRoute(_ context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	c.Sessions.Await(q.From.ID, session.AwaitingCustomTime, cb.ChatID)

	return c.edit(q.Message,
		fmt.Sprintf("Send the grace window in minutes, a whole number from 0 to %d.", e.MaxGraceMinutes),
		backToSettings(cb.ChatID))
}

// parseGrace accepts a whole number of minutes within the allowed range.
func parseGrace(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 0 || n > e.MaxGraceMinutes {
		return 0, false
	}
	return n, true
}

func (c *Client) receiveGrace(ctx context.Context, msg *tgbotapi.Message, sess session.Session) error {
	minutes, ok := parseGrace(msg.Text)
	if !ok {
		return c.send(msg.Chat.ID, fmt.Sprintf("Please send a whole number from 0 to %d, or /cancel.", e.MaxGraceMinutes), nil)
	}

	stored, err := c.Store.SetGraceMinutes(ctx, sess.ChatID, minutes)
	if err != nil {
		return fmt.Errorf("setting grace minutes: %w", err)
	}
	c.Sessions.Take(msg.From.ID, session.AwaitingCustomTime)

	c.Log.Info("grace window set", "tg_chat_id", sess.ChatID, "tg_user_id", msg.From.ID, "minutes", stored)

	return c.send(msg.Chat.ID, "Grace window set to "+graceLabel(stored)+".", backToSettings(sess.ChatID))
}

func (c *Client) moderatorsRoute(ctx context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	c.Sessions.Reset(q.From.ID)

	mods, err := c.Store.ListExemptUsers(ctx, cb.ChatID, e.ExemptRoleModerator)
	if err != nil {
		return fmt.Errorf("listing moderators: %w", err)
	}

	return c.edit(q.Message, moderatorsText(mods), moderatorsKeyboard(cb.ChatID, mods))
}

func moderatorsText(mods []e.ExemptUser) string {
	if len(mods) == 0 {
		return "No moderators yet.\n\nEdits of moderators and chat administrators are never moderated."
	}

	var sb strings.Builder
	sb.WriteString("Moderators, their edits are never moderated:\n\n")
	for _, m := range mods {
		sb.WriteString("• " + exemptLabel(m) + "\n")
	}
	return sb.String()
}

func exemptLabel(u e.ExemptUser) string {
	label := u.DisplayName
	if label == "" {
		label = "User"
	}
	if u.Handle != "" {
		label += " @" + u.Handle
	}
	return fmt.Sprintf("%s (%d)", label, u.UserID)
}

func moderatorsKeyboard(chatID int64, mods []e.ExemptUser) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(mods)+3)
	for _, m := range mods {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Remove "+exemptLabel(m), callback{Action: "modrm", ChatID: chatID, Arg: m.UserID}.String()),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Add by forwarded message", callback{Action: "modfwd", ChatID: chatID}.String())),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Add by user id", callback{Action: "modid", ChatID: chatID}.String())),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Back to settings", callback{Action: "chat", ChatID: chatID}.String())),
	)

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (c *Client) moderatorForwardRoute(_ context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	c.Sessions.Await(q.From.ID, session.AwaitingModeratorForward, cb.ChatID)

	return c.edit(q.Message, "Forward any message written by the new moderator.", backToSettings(cb.ChatID))
}

func (c *Client) moderatorIDRoute(_ context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	c.Sessions.Await(q.From.ID, session.AwaitingModeratorInput, cb.ChatID)

	return c.edit(q.Message, "Send the numeric user id of the new moderator.", backToSettings(cb.ChatID))
}

func (c *Client) removeModeratorRoute(ctx context.Context, q *tgbotapi.CallbackQuery, cb callback) error {
	err := c.Store.RemoveExemptUser(ctx, cb.ChatID, cb.Arg)
	if err != nil {
		return fmt.Errorf("removing moderator: %w", err)
	}

	c.Log.Info("moderator removed", "tg_chat_id", cb.ChatID, "tg_user_id", q.From.ID, "moderator_id", cb.Arg)

	return c.moderatorsRoute(ctx, q, cb)
}

func parseUserID(text string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (c *Client) receiveModeratorID(ctx context.Context, msg *tgbotapi.Message, sess session.Session) error {
	userID, ok := parseUserID(msg.Text)
	if !ok {
		return c.send(msg.Chat.ID, "Please send a positive numeric user id, or /cancel.", nil)
	}

	return c.addModerator(ctx, msg, sess, e.ExemptUser{
		ChatID: sess.ChatID,
		UserID: userID,
	})
}

func (c *Client) receiveModeratorForward(ctx context.Context, msg *tgbotapi.Message, sess session.Session) error {
	origin := normalizeForward(msg)

	switch origin.Kind {
	case e.ForwardFromUser:
		if origin.User.IsBot {
			return c.send(msg.Chat.ID, "Bots can not be moderators, their edits are never moderated anyway.", nil)
		}
		return c.addModerator(ctx, msg, sess, e.ExemptUser{
			ChatID:      sess.ChatID,
			UserID:      origin.User.ID,
			DisplayName: origin.User.DisplayName(),
			Handle:      origin.User.Username,
		})
	case e.ForwardFromHiddenUser:
		c.Sessions.Await(msg.From.ID, session.AwaitingModeratorInput, sess.ChatID)
		return c.send(msg.Chat.ID, "This user hides their account in forwards. Send their numeric user id instead.", nil)
	default:
		return c.send(msg.Chat.ID, "Please forward a message written by the user, or /cancel.", nil)
	}
}

func (c *Client) addModerator(ctx context.Context, msg *tgbotapi.Message, sess session.Session, u e.ExemptUser) error {
	u.Role = e.ExemptRoleModerator
	u.AddedBy = msg.From.ID

	err := c.Store.AddExemptUser(ctx, u)
	if err != nil {
		return fmt.Errorf("adding moderator: %w", err)
	}
	c.Sessions.Take(msg.From.ID, sess.State)

	c.Log.Info("moderator added", "tg_chat_id", sess.ChatID, "tg_user_id", msg.From.ID, "moderator_id", u.UserID)

	return c.send(msg.Chat.ID, "Moderator "+exemptLabel(u)+" added.", backToSettings(sess.ChatID))
}
