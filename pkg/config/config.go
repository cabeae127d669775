package config

import "time"

// ConfigFileName is the configuration file looked up inside the config directory.
const ConfigFileName = "chatstream.yaml"

// Config is the umbrella configuration object returned by Initialize.
// Every section is non-nil once Initialize succeeds.
type Config struct {
	configDir string

	Connection   *ConnectionConfig
	Reconnect    *ReconnectConfig
	Conversation *ConversationConfig
	Inspector    *InspectorConfig
	Logging      *LoggingConfig
}

// ConnectionConfig controls the duplex channel to the orchestrator.
type ConnectionConfig struct {
	// URL of the chat endpoint. http(s) URLs are rewritten to ws(s).
	URL string `yaml:"url"`

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ReadLimitBytes is the largest inbound frame accepted.
	ReadLimitBytes int64 `yaml:"read_limit_bytes"`

	// HeartbeatInterval is how often a keepalive ping frame is sent while connected.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ReconnectConfig controls the reconnect supervisor.
// Delay for attempt n is min(BaseDelay*n, MaxDelay).
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ConversationConfig controls read-model assembly.
type ConversationConfig struct {
	// ChunkSeparator is inserted between consecutive agent content chunks.
	// An empty value in the file keeps the default single space.
	ChunkSeparator string `yaml:"chunk_separator"`
}

// InspectorConfig controls the read-only HTTP inspector.
type InspectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls the default slog handler installed by the CLI.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
