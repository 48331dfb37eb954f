package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"chatstreamd/internal/model"
)

// CreateChat inserts a new Chat row, generating its id if empty.
func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chats (id, user_id, title, sandbox_id, sandbox_provider, session_id, context_token_usage)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chat.ID, chat.UserID, chat.Title, chat.SandboxID, chat.SandboxProvider, chat.SessionID, chat.ContextTokenUsage,
		)
		return err
	})
}

// GetChat loads a Chat owned by userID; returns ErrNotFound on a missing row
// or an ownership mismatch (spec §4.2).
func (s *Store) GetChat(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, sandbox_id, sandbox_provider, session_id, context_token_usage
		FROM chats WHERE id = ? AND user_id = ?`, chatID, userID)
	return scanChat(row)
}

func scanChat(row *sql.Row) (*model.Chat, error) {
	var c model.Chat
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.SandboxID, &c.SandboxProvider, &c.SessionID, &c.ContextTokenUsage); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateChatSessionID rewrites Chat.session_id, used by the provider's
// session-update callback (spec §4.4 step 2) when the provider issues a new
// session mid-stream.
func (s *Store) UpdateChatSessionID(ctx context.Context, chatID, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE chats SET session_id = ? WHERE id = ?`, sessionID, chatID)
		return err
	})
}

// GetChatSessionID fetches the current session id without loading the whole
// Chat, used by the Queue Injector (spec §4.6 step 5).
func (s *Store) GetChatSessionID(ctx context.Context, chatID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM chats WHERE id = ?`, chatID).Scan(&sessionID)
	return sessionID, err
}

// UpdateChatContextUsage rewrites Chat.context_token_usage after a refresh
// (spec §4.4 step 2, "context-token-usage refresh").
func (s *Store) UpdateChatContextUsage(ctx context.Context, chatID string, tokens int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE chats SET context_token_usage = ? WHERE id = ?`, tokens, chatID)
		return err
	})
}

// UpdateChatSandbox records the sandbox a Chat was bound to, set once at
// scheduled-task dispatch time (spec §4.3 step 5).
func (s *Store) UpdateChatSandbox(ctx context.Context, chatID, sandboxID, sandboxProvider string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE chats SET sandbox_id = ?, sandbox_provider = ? WHERE id = ?`,
			sandboxID, sandboxProvider, chatID)
		return err
	})
}

// DeleteChat removes a Chat and its Messages/Attachments (ON DELETE CASCADE).
func (s *Store) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, chatID, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("store: delete chat: %w", ErrNotFound)
		}
		return nil
	})
}
