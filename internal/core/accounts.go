package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"aetheron.ai/aetheron-chat/internal/auth"
	"aetheron.ai/aetheron-chat/internal/store"
)

// Register creates an account with a bcrypt-hashed password.
func (s *ChatService) Register(ctx context.Context, username, password string, email *string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, newError(ErrValidation, "Username and password are required")
	}
	if email != nil && strings.TrimSpace(*email) == "" {
		email = nil
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, &Error{Kind: ErrStorage, Message: "Failed to process password", Cause: err}
	}

	user, err := s.dbStore.CreateUser(ctx, username, email, hashed)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, newError(ErrConflict, "Username already exists")
		}
		return nil, storageError("Failed to register user", err)
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Login checks credentials and issues a session token.
func (s *ChatService) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", nil, newError(ErrValidation, "Username and password are required")
	}

	user, err := s.dbStore.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", nil, storageError("Failed to look up user", err)
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, newError(ErrUnauthenticated, "Invalid credentials")
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return "", nil, &Error{Kind: ErrStorage, Message: "Failed to generate token", Cause: err}
	}
	return token, user, nil
}

// Authenticate verifies a bearer token and returns its claims.
func (s *ChatService) Authenticate(token string) (*auth.Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return nil, newError(ErrUnauthenticated, "Authentication token required")
		}
		return nil, &Error{Kind: ErrInvalidToken, Message: "Invalid or expired token", Cause: err}
	}
	return claims, nil
}

// VerifyUser confirms the token's user still exists.
func (s *ChatService) VerifyUser(ctx context.Context, userID int64) (*store.User, error) {
	user, err := s.dbStore.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storageError("Failed to look up user", err)
	}
	if user == nil {
		return nil, newError(ErrUnauthenticated, "User not found")
	}
	return user, nil
}
