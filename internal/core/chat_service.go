package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"aetheron.ai/aetheron-chat/internal/auth"
	"aetheron.ai/aetheron-chat/internal/store"
)

type ChatService struct {
	dbStore       *store.SQLiteStore
	sessions      *SessionManager
	relay         *Relay
	tokens        *auth.TokenService
	historyWindow int
	logger        *zap.Logger
}

type Deps struct {
	Store    *store.SQLiteStore
	Sessions *SessionManager
	Relay    *Relay
	Tokens   *auth.TokenService
	// HistoryWindow is how many earlier messages are sent as context.
	HistoryWindow int
	Logger        *zap.Logger
}

func NewChatService(deps Deps) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionManager(PolicyCreateNewChat)
	}
	return &ChatService{
		dbStore:       deps.Store,
		sessions:      sessions,
		relay:         deps.Relay,
		tokens:        deps.Tokens,
		historyWindow: deps.HistoryWindow,
		logger:        logger,
	}
}

type TurnResult struct {
	ChatID   int64
	Response string
	// Failed is set when Response is the fallback text.
	Failed bool
}

type ImageResult struct {
	ChatID   int64
	ImageID  int64
	ImageURL string
}

// SendMessage runs one chat turn. Both message rows and the generation record
// commit together or not at all; a chat created for the turn is rolled back
// with them.
func (s *ChatService) SendMessage(ctx context.Context, userID int64, prompt string, requestedChatID *int64) (*TurnResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, newError(ErrValidation, "Prompt is required")
	}

	existing, err := s.sessions.Lookup(ctx, s.dbStore, userID, requestedChatID)
	if err != nil {
		return nil, err
	}

	turn := Turn{Prompt: prompt}
	if existing != nil && s.historyWindow > 0 {
		if turn.History, err = s.dbStore.ListRecentMessages(ctx, *existing, s.historyWindow); err != nil {
			return nil, storageError("Failed to load chat history", err)
		}
	}
	if turn.Preferences, err = s.dbStore.GetPreferences(ctx, userID); err != nil {
		return nil, storageError("Failed to load preferences", err)
	}

	completion := s.relay.Complete(ctx, turn)

	result := &TurnResult{Response: completion.Text, Failed: completion.Failed()}
	err = s.dbStore.InTx(ctx, func(tx *store.Tx) error {
		chatID, err := s.sessions.ResolveChat(ctx, tx, userID, requestedChatID)
		if err != nil {
			return err
		}
		result.ChatID = chatID

		if _, err := tx.AppendMessage(ctx, store.NewMessage{
			ChatID: chatID, Sender: store.SenderUser, Message: &prompt, GenerationType: store.GenerationText,
		}); err != nil {
			return fmt.Errorf("failed to store user message: %w", err)
		}
		if _, err := tx.AppendMessage(ctx, store.NewMessage{
			ChatID: chatID, Sender: store.SenderAI, Response: &completion.Text, GenerationType: store.GenerationText,
		}); err != nil {
			return fmt.Errorf("failed to store ai message: %w", err)
		}

		gen := store.TextGeneration{
			ChatID:      chatID,
			UserID:      userID,
			Prompt:      prompt,
			Response:    completion.Text,
			ModelUsed:   completion.Model,
			Temperature: float64(s.relay.Temperature()),
			MaxTokens:   s.relay.MaxTokens(),
		}
		if completion.Err != nil {
			msg := completion.Err.Error()
			gen.Error = &msg
		}
		if _, err := tx.RecordTextGeneration(ctx, gen); err != nil {
			return fmt.Errorf("failed to record generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, turnError(err)
	}

	s.logger.Info("chat turn persisted",
		zap.Int64("user_id", userID),
		zap.Int64("chat_id", result.ChatID),
		zap.Bool("fallback", result.Failed))
	return result, nil
}

// GenerateImage runs one image turn. When the provider fails inside an
// existing chat, a fallback turn is persisted there and ErrProvider is
// returned. A failure without an existing chat writes nothing.
func (s *ChatService) GenerateImage(ctx context.Context, userID int64, prompt string, requestedChatID *int64) (*ImageResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, newError(ErrValidation, "Prompt is required")
	}
	if !s.relay.ImagesEnabled() {
		return nil, errImagesDisabled()
	}
	existing, err := s.sessions.Lookup(ctx, s.dbStore, userID, requestedChatID)
	if err != nil {
		return nil, err
	}

	image, genErr := s.relay.GenerateImage(ctx, prompt)
	if genErr != nil {
		s.logger.Warn("image generation failed", zap.Int64("user_id", userID), zap.Error(genErr))
		if existing == nil {
			return nil, imageError(genErr)
		}
	}

	result := &ImageResult{}
	err = s.dbStore.InTx(ctx, func(tx *store.Tx) error {
		chatID, err := s.sessions.ResolveChat(ctx, tx, userID, requestedChatID)
		if err != nil {
			return err
		}
		result.ChatID = chatID

		if _, err := tx.AppendMessage(ctx, store.NewMessage{
			ChatID: chatID, Sender: store.SenderUser, Message: &prompt, GenerationType: store.GenerationImage,
		}); err != nil {
			return fmt.Errorf("failed to store user message: %w", err)
		}

		reply := FallbackImageResponse
		if image != nil {
			reply = image.DataURL()
		}
		if _, err := tx.AppendMessage(ctx, store.NewMessage{
			ChatID: chatID, Sender: store.SenderAI, Response: &reply, GenerationType: store.GenerationImage,
		}); err != nil {
			return fmt.Errorf("failed to store ai message: %w", err)
		}
		if image == nil {
			return nil
		}

		result.ImageURL = reply
		result.ImageID, err = tx.RecordImageGeneration(ctx, store.ImageGeneration{
			ChatID:           &chatID,
			UserID:           userID,
			Prompt:           prompt,
			ImageData:        image.B64,
			ModelUsed:        image.Model,
			Width:            image.Width,
			Height:           image.Height,
			GenerationConfig: image.ConfigRaw,
		})
		if err != nil {
			return fmt.Errorf("failed to record image generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, turnError(err)
	}

	if genErr != nil {
		return nil, imageError(genErr)
	}
	s.logger.Info("image turn persisted",
		zap.Int64("user_id", userID),
		zap.Int64("chat_id", result.ChatID),
		zap.Int64("image_id", result.ImageID))
	return result, nil
}

func imageError(err error) error {
	return &Error{Kind: ErrProvider, Message: "Failed to generate image", Cause: err}
}

func turnError(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return storageError("Failed to save chat", err)
}

func (s *ChatService) ChatHistory(ctx context.Context, userID int64) ([]store.ChatSummary, error) {
	summaries, err := s.dbStore.ListChatSummaries(ctx, userID)
	if err != nil {
		return nil, storageError("Failed to fetch chat history", err)
	}
	return summaries, nil
}

// ChatMessages returns a chat's messages in order. Chats the caller does not
// own, including missing ones, are forbidden.
func (s *ChatService) ChatMessages(ctx context.Context, userID, chatID int64) ([]store.Message, error) {
	owned, err := s.dbStore.ChatBelongsTo(ctx, chatID, userID)
	if err != nil {
		return nil, storageError("Failed to verify chat", err)
	}
	if !owned {
		return nil, newError(ErrForbidden, "Access denied to this chat")
	}
	messages, err := s.dbStore.ListMessages(ctx, chatID)
	if err != nil {
		return nil, storageError("Failed to fetch messages", err)
	}
	return messages, nil
}

func (s *ChatService) LatestChat(ctx context.Context, userID int64) (*int64, error) {
	id, err := s.dbStore.LatestChatID(ctx, userID)
	if err != nil {
		return nil, storageError("Failed to fetch latest chat", err)
	}
	return id, nil
}

func (s *ChatService) ClearHistory(ctx context.Context, userID int64) (store.DeleteResult, error) {
	result, err := s.dbStore.DeleteAllChats(ctx, userID)
	if err != nil {
		return store.DeleteResult{}, storageError("Failed to delete chat history", err)
	}
	s.logger.Info("chat history cleared",
		zap.Int64("user_id", userID),
		zap.Int64("deleted_chats", result.Chats),
		zap.Int64("deleted_messages", result.Messages))
	return result, nil
}

func (s *ChatService) ImageHistory(ctx context.Context, userID int64) ([]store.ImageGeneration, error) {
	images, err := s.dbStore.ListImageGenerations(ctx, userID)
	if err != nil {
		return nil, storageError("Failed to fetch image history", err)
	}
	return images, nil
}

func (s *ChatService) Image(ctx context.Context, userID, imageID int64) (*store.ImageGeneration, error) {
	img, err := s.dbStore.GetImageGeneration(ctx, userID, imageID)
	if err != nil {
		return nil, storageError("Failed to fetch image", err)
	}
	if img == nil {
		return nil, newError(ErrNotFound, "Image not found")
	}
	return img, nil
}

// Preferences returns the caller's latest preferences, empty when none were saved.
func (s *ChatService) Preferences(ctx context.Context, userID int64) (*store.Preferences, error) {
	prefs, err := s.dbStore.GetPreferences(ctx, userID)
	if err != nil {
		return nil, storageError("Failed to fetch preferences", err)
	}
	if prefs == nil {
		return &store.Preferences{UserID: userID}, nil
	}
	return prefs, nil
}

func (s *ChatService) UpdatePreferences(ctx context.Context, userID int64, preferences, expertiseDomains string) (*store.Preferences, error) {
	if preferences == "" || expertiseDomains == "" {
		return nil, newError(ErrValidation, "Preferences and expertise domains are required")
	}
	prefs, err := s.dbStore.SavePreferences(ctx, store.Preferences{
		UserID:           userID,
		Preferences:      preferences,
		ExpertiseDomains: expertiseDomains,
	})
	if err != nil {
		return nil, storageError("Failed to update preferences", err)
	}
	return prefs, nil
}
