package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger, err := New("debug", path, true)
	require.NoError(t, err)

	logger.Info("chat turn persisted")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"chat turn persisted"`)
	assert.Contains(t, string(data), `"level":"INFO"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", "", false)
	assert.Error(t, err)
}
