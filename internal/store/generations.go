package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// RecordTextGeneration writes the audit row for one completion call.
func (tx *Tx) RecordTextGeneration(ctx context.Context, gen TextGeneration) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO text_generations (chat_id, user_id, prompt, response, model_used, temperature, max_tokens, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gen.ChatID, gen.UserID, gen.Prompt, gen.Response, gen.ModelUsed, gen.Temperature, gen.MaxTokens, gen.Error,
		formatTime(tx.now()))
	if err != nil {
		return 0, errors.Wrap(err, "inserting text generation")
	}
	id, err := res.LastInsertId()
	return id, errors.Wrap(err, "reading text generation id")
}

// RecordImageGeneration writes the audit row for one image call, including
// the base64 payload.
func (tx *Tx) RecordImageGeneration(ctx context.Context, gen ImageGeneration) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO image_generations (chat_id, user_id, prompt, image_data, model_used, width, height, generation_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gen.ChatID, gen.UserID, gen.Prompt, gen.ImageData, gen.ModelUsed, gen.Width, gen.Height, gen.GenerationConfig,
		formatTime(tx.now()))
	if err != nil {
		return 0, errors.Wrap(err, "inserting image generation")
	}
	id, err := res.LastInsertId()
	return id, errors.Wrap(err, "reading image generation id")
}

// ListImageGenerations returns the user's images, newest first, without payloads.
func (s *SQLiteStore) ListImageGenerations(ctx context.Context, userID int64) ([]ImageGeneration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, user_id, prompt, model_used, width, height, created_at
		FROM image_generations
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying image generations")
	}
	defer rows.Close()

	images := []ImageGeneration{}
	for rows.Next() {
		var (
			img       ImageGeneration
			chatID    sql.NullInt64
			width     sql.NullInt64
			height    sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&img.ID, &chatID, &img.UserID, &img.Prompt, &img.ModelUsed, &width, &height, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning image generation")
		}
		if chatID.Valid {
			id := chatID.Int64
			img.ChatID = &id
		}
		img.Width, img.Height = int(width.Int64), int(height.Int64)
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		img.CreatedAt = ts
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating image generations")
	}
	return images, nil
}

// GetImageGeneration returns nil, nil when the image does not exist or is not
// owned by userID.
func (s *SQLiteStore) GetImageGeneration(ctx context.Context, userID, imageID int64) (*ImageGeneration, error) {
	var (
		img       ImageGeneration
		chatID    sql.NullInt64
		width     sql.NullInt64
		height    sql.NullInt64
		config    sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, user_id, prompt, image_data, model_used, width, height, generation_config, created_at
		FROM image_generations
		WHERE id = ? AND user_id = ?`, imageID, userID).
		Scan(&img.ID, &chatID, &img.UserID, &img.Prompt, &img.ImageData, &img.ModelUsed, &width, &height, &config, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning image generation")
	}
	if chatID.Valid {
		id := chatID.Int64
		img.ChatID = &id
	}
	img.Width, img.Height = int(width.Int64), int(height.Int64)
	img.GenerationConfig = config.String
	if img.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &img, nil
}
