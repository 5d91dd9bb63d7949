package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// CreateUser inserts a new account. It returns ErrUsernameTaken when the
// username is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string, email *string, passwordHash string) (*User, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password, created_at) VALUES (?, ?, ?, ?)",
		username, email, passwordHash, formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, errors.Wrap(err, "inserting user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "reading user id")
	}
	return &User{ID: id, Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: now.UTC()}, nil
}

// GetUserByUsername returns nil, nil when no such user exists.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password, created_at FROM users WHERE username = ?", username)
	return scanUser(row)
}

// GetUserByID returns nil, nil when no such user exists.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password, created_at FROM users WHERE id = ?", id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		user      User
		email     sql.NullString
		createdAt string
	)
	err := row.Scan(&user.ID, &user.Username, &email, &user.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning user")
	}
	user.Email = nullableString(email)
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &user, nil
}
