package core

import (
	"context"
	"fmt"
)

// OwnershipPolicy decides what happens when a turn names a chat the caller
// does not own.
type OwnershipPolicy string

const (
	// PolicyCreateNewChat silently starts a fresh chat for the caller.
	PolicyCreateNewChat OwnershipPolicy = "create_new_chat"
	// PolicyReject fails the turn with ErrForbidden.
	PolicyReject OwnershipPolicy = "reject"
)

// ChatOwnership is satisfied by both the store and an open transaction.
type ChatOwnership interface {
	ChatBelongsTo(ctx context.Context, chatID, userID int64) (bool, error)
}

type ChatCreator interface {
	ChatOwnership
	CreateChat(ctx context.Context, userID int64) (int64, error)
}

// SessionManager is the only component that creates chats.
type SessionManager struct {
	policy OwnershipPolicy
}

func NewSessionManager(policy OwnershipPolicy) *SessionManager {
	if policy == "" {
		policy = PolicyCreateNewChat
	}
	return &SessionManager{policy: policy}
}

func (m *SessionManager) Policy() OwnershipPolicy {
	return m.policy
}

// Lookup returns the requested chat when the caller owns it, nil when the turn
// will start a new chat, or ErrForbidden under PolicyReject.
func (m *SessionManager) Lookup(ctx context.Context, chats ChatOwnership, userID int64, requested *int64) (*int64, error) {
	if requested == nil {
		return nil, nil
	}
	owned, err := chats.ChatBelongsTo(ctx, *requested, userID)
	if err != nil {
		return nil, storageError("Failed to verify chat", err)
	}
	if owned {
		id := *requested
		return &id, nil
	}
	if m.policy == PolicyReject {
		return nil, newError(ErrForbidden, "Access denied to this chat")
	}
	return nil, nil
}

// ResolveChat returns the chat a turn is written to, creating one when none
// was requested or the requested chat is not the caller's.
func (m *SessionManager) ResolveChat(ctx context.Context, chats ChatCreator, userID int64, requested *int64) (int64, error) {
	existing, err := m.Lookup(ctx, chats, userID, requested)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return *existing, nil
	}

	chatID, err := chats.CreateChat(ctx, userID)
	if err != nil {
		return 0, storageError("Failed to create chat", fmt.Errorf("failed to create chat for user %d: %w", userID, err))
	}
	return chatID, nil
}
