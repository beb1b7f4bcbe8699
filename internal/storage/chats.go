package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// chatTitleMaxLen bounds auto-generated chat titles.
const chatTitleMaxLen = 60

// Chat is a saved conversation.
type Chat struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Messages     []models.ChatMessage `json:"messages,omitempty"`
	MessageCount int                  `json:"message_count"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// CreateChat starts a new empty chat.
func (d *DB) CreateChat(ctx context.Context) (*Chat, error) {
	now := time.Now()
	chat := &Chat{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// GetChat returns a chat with its full message history.
func (d *DB) GetChat(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	err := d.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chats WHERE id = ?`, id).
		Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT role, content FROM chat_messages WHERE chat_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, err
		}
		chat.Messages = append(chat.Messages, msg)
	}
	chat.MessageCount = len(chat.Messages)
	return &chat, rows.Err()
}

// ListChats returns all chats without messages, most recently updated first.
func (d *DB) ListChats(ctx context.Context) ([]*Chat, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.id)
		 FROM chats c ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]*Chat, 0)
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt, &chat.MessageCount); err != nil {
			return nil, err
		}
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

// AppendMessages adds messages to a chat. An untitled chat is titled from the
// first user message, truncated to 60 characters.
func (d *DB) AppendMessages(ctx context.Context, chatID string, messages []models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var title string
	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT c.title, (SELECT COALESCE(MAX(seq)+1, 0) FROM chat_messages m WHERE m.chat_id = c.id)
		 FROM chats c WHERE c.id = ?`, chatID).Scan(&title, &next)
	if err == sql.ErrNoRows {
		return fmt.Errorf("chat not found: %s", chatID)
	}
	if err != nil {
		return err
	}

	for i, msg := range messages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (chat_id, seq, role, content) VALUES (?, ?, ?, ?)`,
			chatID, next+i, msg.Role, msg.Content)
		if err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		if title == "" && msg.Role == "user" {
			title = utils.Truncate(msg.Content, chatTitleMaxLen)
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now(), chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	return tx.Commit()
}

// RenameChat sets the chat title.
func (d *DB) RenameChat(ctx context.Context, chatID, title string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now(), chatID)
	if err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat not found: %s", chatID)
	}
	return nil
}

// DeleteChat removes a chat and its messages.
func (d *DB) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat not found: %s", chatID)
	}
	return tx.Commit()
}
