package store

import (
	"context"
	"database/sql"

	"chatstreamd/internal/model"
)

// CreateUser inserts a new User row.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (id, email, username) VALUES (?, ?, ?)`, u.ID, u.Email, u.Username)
		return err
	})
}

// GetUser loads a User by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, username FROM users WHERE id = ?`, userID).Scan(&u.ID, &u.Email, &u.Username)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
