package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

func createChat(ctx context.Context, q querier, userID int64, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, "INSERT INTO chats (user_id, created_at) VALUES (?, ?)", userID, formatTime(now))
	if err != nil {
		return 0, errors.Wrap(err, "inserting chat")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "reading chat id")
	}
	return id, nil
}

func getChat(ctx context.Context, q querier, chatID int64) (*Chat, error) {
	var (
		chat      Chat
		createdAt string
	)
	err := q.QueryRowContext(ctx, "SELECT chat_id, user_id, created_at FROM chats WHERE chat_id = ?", chatID).
		Scan(&chat.ID, &chat.UserID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning chat")
	}
	if chat.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, userID int64) (int64, error) {
	return createChat(ctx, s.db, userID, s.now())
}

// GetChat returns nil, nil when the chat does not exist.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	return getChat(ctx, s.db, chatID)
}

func (tx *Tx) CreateChat(ctx context.Context, userID int64) (int64, error) {
	return createChat(ctx, tx.tx, userID, tx.now())
}

func (tx *Tx) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	return getChat(ctx, tx.tx, chatID)
}

func chatBelongsTo(ctx context.Context, q querier, chatID, userID int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats WHERE chat_id = ? AND user_id = ?", chatID, userID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "checking chat owner")
	}
	return n > 0, nil
}

// ChatBelongsTo reports whether chatID exists and is owned by userID.
func (s *SQLiteStore) ChatBelongsTo(ctx context.Context, chatID, userID int64) (bool, error) {
	return chatBelongsTo(ctx, s.db, chatID, userID)
}

func (tx *Tx) ChatBelongsTo(ctx context.Context, chatID, userID int64) (bool, error) {
	return chatBelongsTo(ctx, tx.tx, chatID, userID)
}

// ListChatSummaries returns every chat of the user with the time of its most
// recent message, newest activity first. Chats without messages sort last.
func (s *SQLiteStore) ListChatSummaries(ctx context.Context, userID int64) ([]ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chat_id, MAX(m.timestamp) AS last_message_time
		FROM chats c
		LEFT JOIN messages m ON m.chat_id = c.chat_id
		WHERE c.user_id = ?
		GROUP BY c.chat_id
		ORDER BY last_message_time IS NULL, last_message_time DESC, c.chat_id DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying chat summaries")
	}
	defer rows.Close()

	summaries := []ChatSummary{}
	for rows.Next() {
		var (
			summary ChatSummary
			last    sql.NullString
		)
		if err := rows.Scan(&summary.ChatID, &last); err != nil {
			return nil, errors.Wrap(err, "scanning chat summary")
		}
		if last.Valid {
			ts, err := parseTime(last.String)
			if err != nil {
				return nil, err
			}
			summary.LastMessageTime = &ts
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating chat summaries")
	}
	return summaries, nil
}

// LatestChatID returns the id of the user's most recently created chat, or
// nil when the user has none.
func (s *SQLiteStore) LatestChatID(ctx context.Context, userID int64) (*int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT chat_id FROM chats WHERE user_id = ? ORDER BY created_at DESC, chat_id DESC LIMIT 1", userID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "querying latest chat")
	}
	return &id, nil
}

// DeleteAllChats removes every chat of the user together with its messages
// and generation records, atomically.
func (s *SQLiteStore) DeleteAllChats(ctx context.Context, userID int64) (DeleteResult, error) {
	var result DeleteResult
	err := s.InTx(ctx, func(tx *Tx) error {
		const owned = "SELECT chat_id FROM chats WHERE user_id = ?"

		res, err := tx.tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id IN ("+owned+")", userID)
		if err != nil {
			return errors.Wrap(err, "deleting messages")
		}
		if result.Messages, err = res.RowsAffected(); err != nil {
			return errors.Wrap(err, "counting deleted messages")
		}

		if _, err := tx.tx.ExecContext(ctx,
			"DELETE FROM text_generations WHERE user_id = ? OR chat_id IN ("+owned+")", userID, userID); err != nil {
			return errors.Wrap(err, "deleting text generations")
		}
		if _, err := tx.tx.ExecContext(ctx,
			"DELETE FROM image_generations WHERE user_id = ? OR chat_id IN ("+owned+")", userID, userID); err != nil {
			return errors.Wrap(err, "deleting image generations")
		}

		res, err = tx.tx.ExecContext(ctx, "DELETE FROM chats WHERE user_id = ?", userID)
		if err != nil {
			return errors.Wrap(err, "deleting chats")
		}
		if result.Chats, err = res.RowsAffected(); err != nil {
			return errors.Wrap(err, "counting deleted chats")
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}
