package config

import (
	"time"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
)

// DefaultConnectionConfig returns the built-in connection defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		URL:               "ws://localhost:8000/ws/chat",
		DialTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadLimitBytes:    1 << 20,
		HeartbeatInterval: 30 * time.Second,
	}
}

// DefaultReconnectConfig returns the built-in reconnect defaults:
// 2s, 4s, 6s, ... capped at 30s, giving up after 5 consecutive failures.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// DefaultConversationConfig returns the built-in conversation defaults.
func DefaultConversationConfig() *ConversationConfig {
	return &ConversationConfig{
		ChunkSeparator: conversation.DefaultSeparator,
	}
}

// DefaultInspectorConfig returns the built-in inspector defaults (disabled).
func DefaultInspectorConfig() *InspectorConfig {
	return &InspectorConfig{
		Enabled: false,
		Addr:    "127.0.0.1:8089",
	}
}

// DefaultLoggingConfig returns the built-in logging defaults.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:  "info",
		Format: "text",
	}
}

// Default returns a fully populated configuration with built-in values only.
func Default() *Config {
	return &Config{
		Connection:   DefaultConnectionConfig(),
		Reconnect:    DefaultReconnectConfig(),
		Conversation: DefaultConversationConfig(),
		Inspector:    DefaultInspectorConfig(),
		Logging:      DefaultLoggingConfig(),
	}
}
