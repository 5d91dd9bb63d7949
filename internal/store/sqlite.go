package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo)
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// ErrUsernameTaken is returned by CreateUser when the username already exists.
var ErrUsernameTaken = errors.New("username already exists")

// Timestamps are stored as fixed-width UTC text so both drivers read back the
// same value and lexical order matches chronological order.
const timeLayout = "2006-01-02 15:04:05.000000"

var legacyTimeLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the database with driverName ("sqlite3" or "sqlite")
// and runs the schema migration.
func NewSQLiteStore(driverName, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging database")
	}
	if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling foreign keys")
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err = store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT,
		password TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		chat_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users (id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		sender TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
		message TEXT,
		response TEXT,
		generation_type TEXT NOT NULL DEFAULT 'text',
		timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats (chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS text_generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER,
		user_id INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		model_used TEXT NOT NULL,
		temperature REAL,
		max_tokens INTEGER,
		error TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats (chat_id),
		FOREIGN KEY (user_id) REFERENCES users (id)
	)`,
	`CREATE TABLE IF NOT EXISTS image_generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER,
		user_id INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		image_data TEXT NOT NULL,
		model_used TEXT NOT NULL,
		width INTEGER,
		height INTEGER,
		generation_config TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats (chat_id),
		FOREIGN KEY (user_id) REFERENCES users (id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_preferences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		preferences TEXT NOT NULL,
		expertise_domains TEXT NOT NULL,
		timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users (id)
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_image_generations_user ON image_generations (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_preferences_user ON user_preferences (user_id)`,
}

// addedColumns are columns missing from databases created by earlier
// versions. SQLite cannot add a column with a non-constant default, so
// backfill fills existing rows instead.
var addedColumns = []struct {
	table, column string
	ddl, backfill string
}{
	{
		table:  "messages",
		column: "generation_type",
		ddl:    `ALTER TABLE messages ADD COLUMN generation_type TEXT NOT NULL DEFAULT 'text'`,
	},
	{
		table:    "users",
		column:   "created_at",
		ddl:      `ALTER TABLE users ADD COLUMN created_at TEXT`,
		backfill: `UPDATE users SET created_at = CURRENT_TIMESTAMP WHERE created_at IS NULL`,
	},
}

// Migrate brings the schema up to date. It is safe to run on every start,
// including against databases created by earlier versions.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating schema")
		}
	}

	for _, col := range addedColumns {
		exists, err := s.columnExists(ctx, col.table, col.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := s.db.ExecContext(ctx, col.ddl); err != nil {
				return errors.Wrapf(err, "adding %s.%s", col.table, col.column)
			}
		}
		if col.backfill != "" {
			if _, err := s.db.ExecContext(ctx, col.backfill); err != nil {
				return errors.Wrapf(err, "backfilling %s.%s", col.table, col.column)
			}
		}
	}

	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating index")
		}
	}
	return nil
}

func (s *SQLiteStore) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, errors.Wrapf(err, "inspecting table %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, errors.Wrap(err, "scanning table info")
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, errors.Wrap(rows.Err(), "iterating table info")
}

// Tx exposes the writes that must commit together.
type Tx struct {
	tx  *sql.Tx
	now func() time.Time
}

// InTx runs fn inside a transaction. Any error returned by fn, or a panic,
// rolls back every statement fn executed.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
