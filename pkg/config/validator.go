package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigValidator validates configuration with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs validation of every section (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateConnection(); err != nil {
		return fmt.Errorf("connection validation failed: %w", err)
	}
	if err := v.validateReconnect(); err != nil {
		return fmt.Errorf("reconnect validation failed: %w", err)
	}
	if err := v.validateInspector(); err != nil {
		return fmt.Errorf("inspector validation failed: %w", err)
	}
	if err := v.validateLogging(); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateConnection() error {
	c := v.cfg.Connection
	if c == nil {
		return NewValidationError("connection", "", fmt.Errorf("%w: section is nil", ErrMissingRequiredField))
	}
	if c.URL == "" {
		return NewValidationError("connection", "url", ErrMissingRequiredField)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return NewValidationError("connection", "url", fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return NewValidationError("connection", "url", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidValue, u.Scheme))
	}
	if u.Host == "" {
		return NewValidationError("connection", "url", fmt.Errorf("%w: host is empty", ErrInvalidValue))
	}
	if c.DialTimeout <= 0 {
		return NewValidationError("connection", "dial_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.WriteTimeout <= 0 {
		return NewValidationError("connection", "write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.ReadLimitBytes <= 0 {
		return NewValidationError("connection", "read_limit_bytes", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.HeartbeatInterval <= 0 {
		return NewValidationError("connection", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateReconnect() error {
	r := v.cfg.Reconnect
	if r == nil {
		return NewValidationError("reconnect", "", fmt.Errorf("%w: section is nil", ErrMissingRequiredField))
	}
	if r.BaseDelay <= 0 {
		return NewValidationError("reconnect", "base_delay", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.MaxDelay < r.BaseDelay {
		return NewValidationError("reconnect", "max_delay", fmt.Errorf("%w: must be >= base_delay (%s)", ErrInvalidValue, r.BaseDelay))
	}
	if r.MaxAttempts < 1 || r.MaxAttempts > 100 {
		return NewValidationError("reconnect", "max_attempts", fmt.Errorf("%w: must be between 1 and 100", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateInspector() error {
	i := v.cfg.Inspector
	if i == nil || !i.Enabled {
		return nil
	}
	if i.Addr == "" {
		return NewValidationError("inspector", "addr", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateLogging() error {
	l := v.cfg.Logging
	if l == nil {
		return NewValidationError("logging", "", fmt.Errorf("%w: section is nil", ErrMissingRequiredField))
	}
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("logging", "level", fmt.Errorf("%w: %q", ErrInvalidValue, l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return NewValidationError("logging", "format", fmt.Errorf("%w: %q", ErrInvalidValue, l.Format))
	}
	return nil
}
