package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

type SQLite struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", filePath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	client := &SQLite{
		db: db,
	}

	err = client.init(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

// UpsertChat registers a chat the bot administers and marks it active.
func (c *SQLite) UpsertChat(ctx context.Context, chat e.ChatMeta) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO chats (chat_id, title, type, is_active)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(chat_id) DO UPDATE
				SET title = excluded.title, type = excluded.type, is_active = 1,
				    updated_at = CURRENT_TIMESTAMP`,
		chat.ID, chat.Title, chat.Type,
	)
	if err != nil {
		return fmt.Errorf("upserting chat: %w", err)
	}
	return nil
}

// DeactivateChat soft-deletes a chat together with its channel binding.
func (c *SQLite) DeactivateChat(ctx context.Context, chatID int64) error {
	_, err := c.db.ExecContext(
		ctx,
		`UPDATE chats SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE chat_id = ?`,
		chatID,
	)
	if err != nil {
		return fmt.Errorf("deactivating chat: %w", err)
	}

	return c.RemoveBinding(ctx, chatID)
}

// ListAdminChats returns active chats where userID is a recorded admin.
func (c *SQLite) ListAdminChats(ctx context.Context, userID int64) ([]e.ChatSummary, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT c.chat_id, c.title, c.type, c.is_active
			FROM chats c
			JOIN exempt_users u ON u.chat_id = c.chat_id
			WHERE u.user_id = ? AND u.role = ? AND u.is_active = 1 AND c.is_active = 1
			ORDER BY c.title`,
		userID, string(e.ExemptRoleAdmin),
	)
	if err != nil {
		return nil, fmt.Errorf("querying admin chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []e.ChatSummary
	for rows.Next() {
		var chat e.ChatSummary
		if err := rows.Scan(&chat.ChatID, &chat.Title, &chat.Type, &chat.Active); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// IsChatAdmin reports whether userID may change settings of chatID.
func (c *SQLite) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	var one int
	err := c.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM exempt_users u
			JOIN chats c ON c.chat_id = u.chat_id
			WHERE u.chat_id = ? AND u.user_id = ? AND u.role = ? AND u.is_active = 1 AND c.is_active = 1`,
		chatID, userID, string(e.ExemptRoleAdmin),
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("querying chat admin: %w", err)
	}
	return true, nil
}

// GetChannelBinding returns the bound channel and false if none is bound.
func (c *SQLite) GetChannelBinding(ctx context.Context, chatID int64) (int64, bool, error) {
	return getChannelBinding(ctx, c.db, chatID)
}

func getChannelBinding(ctx context.Context, q querier, chatID int64) (int64, bool, error) {
	var channelID int64
	err := q.QueryRowContext(
		ctx,
		"SELECT channel_id FROM bindings WHERE chat_id = ? AND is_active = 1",
		chatID,
	).Scan(&channelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("querying channel binding: %w", err)
	}
	return channelID, true, nil
}

// BindChannel binds a chat to a channel, replacing any previous binding.
func (c *SQLite) BindChannel(ctx context.Context, chatID, channelID, boundBy int64) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO bindings (chat_id, channel_id, bound_by, is_active, created_at)
			VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(chat_id) DO UPDATE
				SET channel_id = excluded.channel_id, bound_by = excluded.bound_by,
				    is_active = 1, created_at = CURRENT_TIMESTAMP`,
		chatID, channelID, boundBy,
	)
	if err != nil {
		return fmt.Errorf("binding channel: %w", err)
	}
	return nil
}

func (c *SQLite) RemoveBinding(ctx context.Context, chatID int64) error {
	_, err := c.db.ExecContext(ctx, "UPDATE bindings SET is_active = 0 WHERE chat_id = ?", chatID)
	if err != nil {
		return fmt.Errorf("removing binding: %w", err)
	}
	return nil
}

// DeactivateChannelBindings drops every binding that points to channelID.
func (c *SQLite) DeactivateChannelBindings(ctx context.Context, channelID int64) (int64, error) {
	res, err := c.db.ExecContext(
		ctx,
		"UPDATE bindings SET is_active = 0 WHERE channel_id = ? AND is_active = 1",
		channelID,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivating channel bindings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting affected rows: %w", err)
	}
	return n, nil
}

// IsDeletionEnabled defaults to true for unknown chats.
func (c *SQLite) IsDeletionEnabled(ctx context.Context, chatID int64) (bool, error) {
	return isDeletionEnabled(ctx, c.db, chatID)
}

func isDeletionEnabled(ctx context.Context, q querier, chatID int64) (bool, error) {
	var enabled bool
	err := q.QueryRowContext(ctx, "SELECT delete_enabled FROM chats WHERE chat_id = ?", chatID).Scan(&enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("querying delete setting: %w", err)
	}
	return enabled, nil
}

func (c *SQLite) SetDeletionEnabled(ctx context.Context, chatID int64, enabled bool) error {
	return c.updateChat(ctx, "delete_enabled", chatID, enabled)
}

// GetGraceMinutes defaults to DefaultGraceMinutes for unknown chats.
func (c *SQLite) GetGraceMinutes(ctx context.Context, chatID int64) (int, error) {
	return getGraceMinutes(ctx, c.db, chatID)
}

func getGraceMinutes(ctx context.Context, q querier, chatID int64) (int, error) {
	var minutes int
	err := q.QueryRowContext(ctx, "SELECT grace_minutes FROM chats WHERE chat_id = ?", chatID).Scan(&minutes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e.DefaultGraceMinutes, nil
		}
		return 0, fmt.Errorf("querying grace minutes: %w", err)
	}
	return e.ClampGrace(minutes), nil
}

// SetGraceMinutes stores minutes clamped to the allowed range and returns the stored value.
func (c *SQLite) SetGraceMinutes(ctx context.Context, chatID int64, minutes int) (int, error) {
	minutes = e.ClampGrace(minutes)
	return minutes, c.updateChat(ctx, "grace_minutes", chatID, minutes)
}

// GetPolicy reads every setting of a chat within one read-only transaction.
func (c *SQLite) GetPolicy(ctx context.Context, chatID int64) (policy e.ChatPolicy, err error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return policy, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	policy = e.DefaultPolicy(chatID)

	err = tx.QueryRowContext(ctx, "SELECT is_active FROM chats WHERE chat_id = ?", chatID).Scan(&policy.Active)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return policy, fmt.Errorf("querying chat: %w", err)
	}

	if policy.ChannelID, _, err = getChannelBinding(ctx, tx, chatID); err != nil {
		return policy, err
	}
	if policy.DeletionEnabled, err = isDeletionEnabled(ctx, tx, chatID); err != nil {
		return policy, err
	}
	if policy.GraceMinutes, err = getGraceMinutes(ctx, tx, chatID); err != nil {
		return policy, err
	}

	return policy, nil
}

// ListPolicies returns policies of every known chat.
func (c *SQLite) ListPolicies(ctx context.Context) ([]e.ChatPolicy, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT c.chat_id, COALESCE(b.channel_id, 0), c.delete_enabled, c.grace_minutes, c.is_active
			FROM chats c
			LEFT JOIN bindings b ON b.chat_id = c.chat_id AND b.is_active = 1
			ORDER BY c.chat_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []e.ChatPolicy
	for rows.Next() {
		var p e.ChatPolicy
		if err := rows.Scan(&p.ChatID, &p.ChannelID, &p.DeletionEnabled, &p.GraceMinutes, &p.Active); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		policies = append(policies, p)
	}

	return policies, rows.Err()
}

// IsExemptUser reports whether userID is an active admin or moderator of chatID.
func (c *SQLite) IsExemptUser(ctx context.Context, chatID, userID int64) (bool, error) {
	var one int
	err := c.db.QueryRowContext(
		ctx,
		"SELECT 1 FROM exempt_users WHERE chat_id = ? AND user_id = ? AND is_active = 1",
		chatID, userID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("querying exempt user: %w", err)
	}
	return true, nil
}

// AddExemptUser inserts or reactivates an exempt user. An admin is never downgraded to moderator.
func (c *SQLite) AddExemptUser(ctx context.Context, u e.ExemptUser) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO exempt_users (chat_id, user_id, role, display_name, handle, added_by, is_active)
			VALUES (?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(chat_id, user_id) DO UPDATE
				SET role = CASE WHEN exempt_users.is_active = 1 AND exempt_users.role = 'admin'
				                THEN exempt_users.role ELSE excluded.role END,
				    display_name = excluded.display_name, handle = excluded.handle,
				    added_by = excluded.added_by, is_active = 1`,
		u.ChatID, u.UserID, string(u.Role), u.DisplayName, u.Handle, u.AddedBy,
	)
	if err != nil {
		return fmt.Errorf("adding exempt user: %w", err)
	}
	return nil
}

// RemoveExemptUser deactivates a moderator. Recorded admins are left alone, they change only
// through ReplaceAdmins.
func (c *SQLite) RemoveExemptUser(ctx context.Context, chatID, userID int64) error {
	_, err := c.db.ExecContext(
		ctx,
		"UPDATE exempt_users SET is_active = 0 WHERE chat_id = ? AND user_id = ? AND role = ?",
		chatID, userID, string(e.ExemptRoleModerator),
	)
	if err != nil {
		return fmt.Errorf("removing exempt user: %w", err)
	}
	return nil
}

// ReplaceAdmins deactivates previously recorded admins of a chat and stores the given ones.
func (c *SQLite) ReplaceAdmins(ctx context.Context, chatID int64, admins []e.ExemptUser) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		"UPDATE exempt_users SET is_active = 0 WHERE chat_id = ? AND role = ?",
		chatID, string(e.ExemptRoleAdmin),
	)
	if err != nil {
		return fmt.Errorf("deactivating admins: %w", err)
	}

	for _, a := range admins {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO exempt_users (chat_id, user_id, role, display_name, handle, added_by, is_active)
				VALUES (?, ?, ?, ?, ?, 0, 1)
				ON CONFLICT(chat_id, user_id) DO UPDATE
					SET role = excluded.role, display_name = excluded.display_name,
					    handle = excluded.handle, is_active = 1`,
			chatID, a.UserID, string(e.ExemptRoleAdmin), a.DisplayName, a.Handle,
		)
		if err != nil {
			return fmt.Errorf("inserting admin %d: %w", a.UserID, err)
		}
	}

	return tx.Commit()
}

// ListExemptUsers returns active exempt users of a chat with the given role.
func (c *SQLite) ListExemptUsers(ctx context.Context, chatID int64, role e.ExemptRole) ([]e.ExemptUser, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT chat_id, user_id, role, display_name, handle, added_by
			FROM exempt_users
			WHERE chat_id = ? AND role = ? AND is_active = 1
			ORDER BY created_at, user_id`,
		chatID, string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("querying exempt users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []e.ExemptUser
	for rows.Next() {
		var u e.ExemptUser
		var r string
		if err := rows.Scan(&u.ChatID, &u.UserID, &r, &u.DisplayName, &u.Handle, &u.AddedBy); err != nil {
			return nil, fmt.Errorf("scanning exempt user: %w", err)
		}
		u.Role = e.ExemptRole(r)
		users = append(users, u)
	}

	return users, rows.Err()
}

// updateChat sets one column of a chat, creating the row with defaults if needed.
func (c *SQLite) updateChat(ctx context.Context, column string, chatID int64, value any) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO chats (chat_id, `+column+`) VALUES (?, ?)
			ON CONFLICT(chat_id) DO UPDATE
				SET `+column+` = excluded.`+column+`, updated_at = CURRENT_TIMESTAMP`,
		chatID, value,
	)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	return nil
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}
