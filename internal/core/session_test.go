package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memChats struct {
	owners map[int64]int64
	nextID int64
}

func (m *memChats) ChatBelongsTo(ctx context.Context, chatID, userID int64) (bool, error) {
	owner, ok := m.owners[chatID]
	return ok && owner == userID, nil
}

func (m *memChats) CreateChat(ctx context.Context, userID int64) (int64, error) {
	m.nextID++
	m.owners[m.nextID] = userID
	return m.nextID, nil
}

func TestResolveChat(t *testing.T) {
	tests := []struct {
		name      string
		policy    OwnershipPolicy
		requested *int64
		want      int64
		wantErr   error
	}{
		{name: "absent creates", policy: PolicyCreateNewChat, want: 2},
		{name: "owned is reused", policy: PolicyCreateNewChat, requested: int64Ptr(1), want: 1},
		{name: "foreign creates", policy: PolicyCreateNewChat, requested: int64Ptr(10), want: 2},
		{name: "missing creates", policy: PolicyCreateNewChat, requested: int64Ptr(77), want: 2},
		{name: "foreign rejected", policy: PolicyReject, requested: int64Ptr(10), wantErr: ErrForbidden},
		{name: "owned under reject", policy: PolicyReject, requested: int64Ptr(1), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chats := &memChats{owners: map[int64]int64{1: 100, 10: 200}, nextID: 1}
			got, err := NewSessionManager(tt.policy).ResolveChat(context.Background(), chats, 100, tt.requested)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int64(100), chats.owners[got])
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	assert.Equal(t, PolicyCreateNewChat, NewSessionManager("").Policy())
}
