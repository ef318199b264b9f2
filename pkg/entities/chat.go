package entities

const (
	// DefaultGraceMinutes is used for chats that never changed the grace window
	DefaultGraceMinutes = 20

	// MaxGraceMinutes is the upper bound of the grace window
	MaxGraceMinutes = 20
)

// ChatPolicy is a per-chat moderation configuration.
type ChatPolicy struct {
	ChatID          int64
	ChannelID       int64 // 0 if no channel is bound
	DeletionEnabled bool
	GraceMinutes    int
	Active          bool
}

func (p ChatPolicy) HasChannel() bool {
	return p.ChannelID != 0
}

// DefaultPolicy returns a policy for a chat without stored settings.
func DefaultPolicy(chatID int64) ChatPolicy {
	return ChatPolicy{
		ChatID:          chatID,
		DeletionEnabled: true,
		GraceMinutes:    DefaultGraceMinutes,
	}
}

// ClampGrace brings minutes into [0, MaxGraceMinutes].
func ClampGrace(minutes int) int {
	if minutes < 0 {
		return 0
	}
	if minutes > MaxGraceMinutes {
		return MaxGraceMinutes
	}
	return minutes
}

type ExemptRole string

const (
	// ExemptRoleAdmin is a chat administrator recorded when the bot was promoted
	ExemptRoleAdmin ExemptRole = "admin"

	// ExemptRoleModerator is a user added through the settings menu
	ExemptRoleModerator ExemptRole = "moderator"
)

// ExemptUser is a chat owner, admin or moderator whose edits are never moderated.
type ExemptUser struct {
	ChatID      int64
	UserID      int64
	Role        ExemptRole
	DisplayName string
	Handle      string
	AddedBy     int64
}

// ChatSummary is a short description of a monitored chat used by the menu.
type ChatSummary struct {
	ChatID int64
	Title  string
	Type   string
	Active bool
}

// ChatMeta describes the chat an edit happened in.
type ChatMeta struct {
	ID          int64
	Title       string
	Type        string
	Username    string
	Description string
}

// AuthorMeta describes the author of an edited message.
type AuthorMeta struct {
	ID           int64
	IsBot        bool
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
}

// DisplayName returns "First Last" falling back to the username and the id.
func (a AuthorMeta) DisplayName() string {
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	if name == "" && a.Username != "" {
		return "@" + a.Username
	}
	if name == "" {
		return "Unknown"
	}
	return name
}

// BotPermissions is what the bot may do in a chat or channel.
type BotPermissions struct {
	IsAdmin           bool
	CanDeleteMessages bool
	CanPost           bool
}
