package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

const botChatColumns = `id, chat_id, chat_type, title, enabled, is_accessible, nsfw_chat_id,
	total_pushed, last_pushed_ts, created_ts, updated_ts`

func scanBotChat(row rowScanner) (*store.BotChat, error) {
	var chat store.BotChat
	if err := row.Scan(
		&chat.ID,
		&chat.ChatID,
		&chat.ChatType,
		&chat.Title,
		&chat.Enabled,
		&chat.IsAccessible,
		&chat.NSFWChatID,
		&chat.TotalPushed,
		&chat.LastPushedTs,
		&chat.CreatedTs,
		&chat.UpdatedTs,
	); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (d *DB) CreateBotChat(ctx context.Context, create *store.CreateBotChat) (*store.BotChat, error) {
	stmt := `
		INSERT INTO bot_chat (chat_id, chat_type, title, enabled, is_accessible, nsfw_chat_id)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING ` + botChatColumns
	chat, err := scanBotChat(d.db.QueryRowContext(ctx, stmt,
		create.ChatID,
		create.ChatType,
		create.Title,
		create.Enabled,
		create.IsAccessible,
		create.NSFWChatID,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bot chat")
	}
	return chat, nil
}

func (d *DB) ListBotChats(ctx context.Context, find *store.FindBotChat) ([]*store.BotChat, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if len(find.IDs) > 0 {
		placeholders := make([]string, 0, len(find.IDs))
		for _, id := range find.IDs {
			placeholders = append(placeholders, "?")
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if find.ChatID != nil {
		where, args = append(where, "chat_id = ?"), append(args, *find.ChatID)
	}
	if find.Enabled != nil {
		where, args = append(where, "enabled = ?"), append(args, *find.Enabled)
	}
	if find.IsAccessible != nil {
		where, args = append(where, "is_accessible = ?"), append(args, *find.IsAccessible)
	}

	query := "SELECT " + botChatColumns + " FROM bot_chat WHERE " + strings.Join(where, " AND ") + " ORDER BY id ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bot chats")
	}
	defer rows.Close()

	list := []*store.BotChat{}
	for rows.Next() {
		chat, err := scanBotChat(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan bot chat")
		}
		list = append(list, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate bot chats")
	}
	return list, nil
}

func (d *DB) UpdateBotChat(ctx context.Context, update *store.UpdateBotChat) (*store.BotChat, error) {
	set, args := []string{"updated_ts = strftime('%s', 'now')"}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Enabled != nil {
		set, args = append(set, "enabled = ?"), append(args, *update.Enabled)
	}
	if update.IsAccessible != nil {
		set, args = append(set, "is_accessible = ?"), append(args, *update.IsAccessible)
	}
	if update.NSFWChatID != nil {
		set, args = append(set, "nsfw_chat_id = ?"), append(args, *update.NSFWChatID)
	}
	if update.LastPushedTs != nil {
		set, args = append(set, "last_pushed_ts = ?"), append(args, *update.LastPushedTs)
	}

	args = append(args, update.ID)
	stmt := "UPDATE bot_chat SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING " + botChatColumns
	chat, err := scanBotChat(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("bot chat %d not found", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update bot chat")
	}
	return chat, nil
}

func (d *DB) IncrementBotChatPushed(ctx context.Context, id int64, pushedTs int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE bot_chat
		SET total_pushed = total_pushed + 1, last_pushed_ts = ?, updated_ts = strftime('%s', 'now')
		WHERE id = ?
	`, pushedTs, id)
	if err != nil {
		return errors.Wrap(err, "failed to increment bot chat push counter")
	}
	return nil
}

// DeleteBotChat removes a chat, its target links, and its queue items.
func (d *DB) DeleteBotChat(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM content_queue_item WHERE bot_chat_id = ?",
		"DELETE FROM distribution_target WHERE bot_chat_id = ?",
		"DELETE FROM bot_chat WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return errors.Wrap(err, "failed to delete bot chat")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
