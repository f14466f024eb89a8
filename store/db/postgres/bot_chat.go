package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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

func (db *DB) CreateBotChat(ctx context.Context, create *store.CreateBotChat) (*store.BotChat, error) {
	query := `
		INSERT INTO bot_chat (chat_id, chat_type, title, enabled, is_accessible, nsfw_chat_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + botChatColumns
	chat, err := scanBotChat(db.db.QueryRowContext(ctx, query,
		create.ChatID,
		create.ChatType,
		create.Title,
		create.Enabled,
		create.IsAccessible,
		create.NSFWChatID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create bot chat: %w", err)
	}
	return chat, nil
}

func (db *DB) ListBotChats(ctx context.Context, find *store.FindBotChat) ([]*store.BotChat, error) {
	query := "SELECT " + botChatColumns + " FROM bot_chat WHERE 1=1"
	var args []interface{}

	if find.ID != nil {
		args = append(args, *find.ID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}
	if len(find.IDs) > 0 {
		placeholders := make([]string, 0, len(find.IDs))
		for _, id := range find.IDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += " AND id IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if find.ChatID != nil {
		args = append(args, *find.ChatID)
		query += fmt.Sprintf(" AND chat_id = $%d", len(args))
	}
	if find.Enabled != nil {
		args = append(args, *find.Enabled)
		query += fmt.Sprintf(" AND enabled = $%d", len(args))
	}
	if find.IsAccessible != nil {
		args = append(args, *find.IsAccessible)
		query += fmt.Sprintf(" AND is_accessible = $%d", len(args))
	}

	query += " ORDER BY id ASC"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot chats: %w", err)
	}
	defer rows.Close()

	list := []*store.BotChat{}
	for rows.Next() {
		chat, err := scanBotChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot chat: %w", err)
		}
		list = append(list, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bot chats: %w", err)
	}
	return list, nil
}

func (db *DB) UpdateBotChat(ctx context.Context, update *store.UpdateBotChat) (*store.BotChat, error) {
	set, args := []string{"updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT"}, []interface{}{}
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Title != nil {
		addSet("title", *update.Title)
	}
	if update.Enabled != nil {
		addSet("enabled", *update.Enabled)
	}
	if update.IsAccessible != nil {
		addSet("is_accessible", *update.IsAccessible)
	}
	if update.NSFWChatID != nil {
		addSet("nsfw_chat_id", *update.NSFWChatID)
	}
	if update.LastPushedTs != nil {
		addSet("last_pushed_ts", *update.LastPushedTs)
	}

	args = append(args, update.ID)
	query := "UPDATE bot_chat SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + botChatColumns
	chat, err := scanBotChat(db.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bot chat %d not found", update.ID)
		}
		return nil, fmt.Errorf("failed to update bot chat: %w", err)
	}
	return chat, nil
}

func (db *DB) IncrementBotChatPushed(ctx context.Context, id int64, pushedTs int64) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE bot_chat
		SET total_pushed = total_pushed + 1, last_pushed_ts = $1, updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT
		WHERE id = $2
	`, pushedTs, id)
	if err != nil {
		return fmt.Errorf("failed to increment bot chat push counter: %w", err)
	}
	return nil
}

func (db *DB) DeleteBotChat(ctx context.Context, id int64) error {
	if _, err := db.db.ExecContext(ctx, "DELETE FROM bot_chat WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete bot chat: %w", err)
	}
	return nil
}
