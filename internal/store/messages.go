package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"chatstreamd/internal/model"
)

// CreateUserMessage inserts a plain-text user Message and returns its id.
func (s *Store) CreateUserMessage(ctx context.Context, chatID, modelID, content string, attachments []model.Attachment) (string, error) {
	id := uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, role, content, model_id)
			VALUES (?, ?, 'user', ?, ?)`, id, chatID, content, modelID); err != nil {
			return err
		}
		return insertAttachmentsTx(ctx, tx, id, attachments)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateAssistantMessage inserts an assistant Message with
// stream_status=in_progress and returns its id (spec §3 lifecycle).
func (s *Store) CreateAssistantMessage(ctx context.Context, chatID, modelID, sessionID string) (string, error) {
	id := uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, role, content, model_id, stream_status, session_id)
			VALUES (?, ?, 'assistant', '', ?, ?, ?)`,
			id, chatID, modelID, model.StreamStatusInProgress, sessionID)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func insertAttachmentsTx(ctx context.Context, tx *sql.Tx, messageID string, attachments []model.Attachment) error {
	for _, a := range attachments {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, file_url, file_type, filename)
			VALUES (?, ?, ?, ?, ?)`, id, messageID, a.FileURL, a.FileType, a.Filename); err != nil {
			return fmt.Errorf("store: insert attachment: %w", err)
		}
	}
	return nil
}

// FinalizeAssistantMessage persists the terminal state of an assistant
// Message exactly once (spec §4.4 step 6). A terminal stream_status is never
// downgraded to in_progress (spec §3 invariant) — callers are trusted to
// call this only once per Message, matching the orchestrator's "exactly
// once" guarantee; this method itself additionally refuses to write over an
// already-terminal row, as a last-line backstop.
func (s *Store) FinalizeAssistantMessage(ctx context.Context, messageID string, content string, status model.StreamStatus, totalCostUSD *float64, checkpointID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT stream_status FROM messages WHERE id = ?`, messageID).Scan(&current); err != nil {
			return err
		}
		if model.StreamStatus(current).IsTerminal() {
			return fmt.Errorf("store: message %s already terminal (%s)", messageID, current)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE messages SET content = ?, stream_status = ?, total_cost_usd = ?, checkpoint_id = ?
			WHERE id = ?`, content, status, totalCostUSD, checkpointID, messageID)
		return err
	})
}

// UpdateAssistantMessageSessionID rewrites the assistant Message's
// session_id when the provider rotates sessions mid-stream (spec §4.4 step 2).
func (s *Store) UpdateAssistantMessageSessionID(ctx context.Context, messageID, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE messages SET session_id = ? WHERE id = ?`, sessionID, messageID)
		return err
	})
}

// GetMessage loads a Message by id, including its attachments.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	var m model.Message
	var totalCost sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, role, content, model_id, stream_status, total_cost_usd, session_id, checkpoint_id
		FROM messages WHERE id = ?`, messageID).Scan(
		&m.ID, &m.ChatID, &m.Role, &m.Content, &m.ModelID, &m.StreamStatus, &totalCost, &m.SessionID, &m.CheckpointID)
	if err != nil {
		return nil, err
	}
	if totalCost.Valid {
		m.TotalCostUSD = &totalCost.Float64
	}
	m.Attachments, err = s.listAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) listAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, file_url, file_type, filename, created_at
		FROM attachments WHERE message_id = ? ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileURL, &a.FileType, &a.Filename, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasInProgressAssistantMessage reports whether chatID already has an
// in-progress assistant Message, enforcing spec §3's "at most one" invariant
// at the call site (the orchestrator checks this before opening a stream).
func (s *Store) HasInProgressAssistantMessage(ctx context.Context, chatID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = ? AND role = 'assistant' AND stream_status = ?`,
		chatID, model.StreamStatusInProgress).Scan(&count)
	return count > 0, err
}

// ListMessages returns a Chat's Messages in creation order.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, model_id, stream_status, total_cost_usd, session_id, checkpoint_id
		FROM messages WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var totalCost sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.ModelID, &m.StreamStatus, &totalCost, &m.SessionID, &m.CheckpointID); err != nil {
			return nil, err
		}
		if totalCost.Valid {
			m.TotalCostUSD = &totalCost.Float64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
