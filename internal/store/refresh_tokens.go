package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreateRefreshToken inserts a RefreshToken row, supplementing spec §4.3's
// cleanup_expired_tokens sweep (spec §3's RefreshToken entity).
func (s *Store) CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error) {
	id := uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at) VALUES (?, ?, ?, ?)`,
			id, userID, tokenHash, expiresAt.UTC())
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RevokeRefreshToken marks a token revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, tokenID)
		return err
	})
}

// CleanupExpiredTokens deletes revoked or expired refresh tokens and returns
// the number removed (spec §4.3's periodic maintenance sweep, ported from
// original_source's user_manager.py).
func (s *Store) CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE revoked = 1 OR expires_at <= ?`, now.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
