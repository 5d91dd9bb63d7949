package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aetheron.ai/aetheron-chat/internal/store"
)

func TestMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", path)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	// Running it twice is harmless.
	cmd = newRootCmd()
	cmd.SetArgs([]string{"migrate"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	db, err := store.NewSQLiteStore("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	summaries, err := db.ListChatSummaries(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "serve.db"))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}
