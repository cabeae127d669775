package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))
	return dir
}

func TestInitializeWithoutFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, DefaultConnectionConfig(), cfg.Connection)
	assert.Equal(t, DefaultReconnectConfig(), cfg.Reconnect)
	assert.Equal(t, conversation.DefaultSeparator, cfg.Conversation.ChunkSeparator)
	assert.False(t, cfg.Inspector.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestInitializeMergesUserValuesOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
connection:
  url: wss://chat.example.com/ws/chat
  heartbeat_interval: 15s
reconnect:
  max_attempts: 8
inspector:
  enabled: true
logging:
  format: json
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com/ws/chat", cfg.Connection.URL)
	assert.Equal(t, 15*time.Second, cfg.Connection.HeartbeatInterval)
	// Unset fields keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Connection.DialTimeout)
	assert.Equal(t, int64(1<<20), cfg.Connection.ReadLimitBytes)

	assert.Equal(t, 8, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)

	assert.True(t, cfg.Inspector.Enabled)
	assert.Equal(t, "127.0.0.1:8089", cfg.Inspector.Addr)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestInitializeExpandsEnvironment(t *testing.T) {
	t.Setenv("CHATSTREAM_HOST", "orchestrator.internal:9000")
	dir := writeConfig(t, "connection:\n  url: ws://{{.CHATSTREAM_HOST}}/ws/chat\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "ws://orchestrator.internal:9000/ws/chat", cfg.Connection.URL)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "connection: [unterminated")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidYAML))

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ConfigFileName, loadErr.File)
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := writeConfig(t, "connection:\n  url: ftp://example.com/chat\n")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "connection", valErr.Section)
	assert.Equal(t, "url", valErr.Field)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestInitializeEmptySeparatorKeepsDefault(t *testing.T) {
	dir := writeConfig(t, `
conversation:
  chunk_separator: ""
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultSeparator, cfg.Conversation.ChunkSeparator)
}
