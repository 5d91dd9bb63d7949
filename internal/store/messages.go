package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

func appendMessage(ctx context.Context, q querier, msg NewMessage, now time.Time) (*Message, error) {
	if msg.Sender != SenderUser && msg.Sender != SenderAI {
		return nil, errors.Errorf("invalid sender %q", msg.Sender)
	}
	if msg.GenerationType == "" {
		msg.GenerationType = GenerationText
	}

	res, err := q.ExecContext(ctx,
		"INSERT INTO messages (chat_id, sender, message, response, generation_type, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ChatID, msg.Sender, msg.Message, msg.Response, msg.GenerationType, formatTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "inserting message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "reading message id")
	}
	return &Message{
		ID:             id,
		ChatID:         msg.ChatID,
		Sender:         msg.Sender,
		Message:        msg.Message,
		Response:       msg.Response,
		GenerationType: msg.GenerationType,
		Timestamp:      now.UTC().Truncate(time.Microsecond),
	}, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	return appendMessage(ctx, s.db, msg, s.now())
}

func (tx *Tx) AppendMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	return appendMessage(ctx, tx.tx, msg, tx.now())
}

// ListMessages returns the messages of a chat in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender, message, response, generation_type, timestamp
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC, id ASC`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecentMessages returns at most limit of the newest messages of a chat, in
// chronological order.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender, message, response, generation_type, timestamp FROM (
			SELECT id, chat_id, sender, message, response, generation_type, timestamp
			FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, chatID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying recent messages")
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var (
			msg       Message
			text      sql.NullString
			response  sql.NullString
			timestamp string
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Sender, &text, &response, &msg.GenerationType, &timestamp); err != nil {
			return nil, errors.Wrap(err, "scanning message")
		}
		msg.Message = nullableString(text)
		msg.Response = nullableString(response)
		ts, err := parseTime(timestamp)
		if err != nil {
			return nil, err
		}
		msg.Timestamp = ts
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating messages")
	}
	return messages, nil
}
