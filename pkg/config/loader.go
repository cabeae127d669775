package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ChatstreamYAMLConfig represents the complete chatstream.yaml file structure
type ChatstreamYAMLConfig struct {
	Connection   *ConnectionConfig   `yaml:"connection"`
	Reconnect    *ReconnectConfig    `yaml:"reconnect"`
	Conversation *ConversationConfig `yaml:"conversation"`
	Inspector    *InspectorConfig    `yaml:"inspector"`
	Logging      *LoggingConfig      `yaml:"logging"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load chatstream.yaml from configDir (absent file means built-in defaults)
//  2. Expand {{.VAR}} environment references
//  3. Merge user values over built-in defaults
//  4. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"url", cfg.Connection.URL,
		"max_attempts", cfg.Reconnect.MaxAttempts,
		"inspector_enabled", cfg.Inspector.Enabled)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	userConfig, err := loader.loadChatstreamYAML()
	if err != nil {
		if !errors.Is(err, ErrConfigNotFound) {
			return nil, NewLoadError(ConfigFileName, err)
		}
		slog.Warn("No configuration file found, using built-in defaults",
			"path", filepath.Join(configDir, ConfigFileName))
		userConfig = &ChatstreamYAMLConfig{}
	}

	cfg, err := mergeWithDefaults(userConfig)
	if err != nil {
		return nil, err
	}
	cfg.configDir = configDir
	return cfg, nil
}

// mergeWithDefaults overlays user-provided sections on the built-in defaults.
// Non-zero user values override; unset fields keep the default.
func mergeWithDefaults(user *ChatstreamYAMLConfig) (*Config, error) {
	cfg := Default()

	if user.Connection != nil {
		if err := mergo.Merge(cfg.Connection, user.Connection, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge connection config: %w", err)
		}
	}
	if user.Reconnect != nil {
		if err := mergo.Merge(cfg.Reconnect, user.Reconnect, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge reconnect config: %w", err)
		}
	}
	if user.Conversation != nil {
		if err := mergo.Merge(cfg.Conversation, user.Conversation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge conversation config: %w", err)
		}
	}
	if user.Inspector != nil {
		if err := mergo.Merge(cfg.Inspector, user.Inspector, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge inspector config: %w", err)
		}
	}
	if user.Logging != nil {
		if err := mergo.Merge(cfg.Logging, user.Logging, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge logging config: %w", err)
		}
	}

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadChatstreamYAML() (*ChatstreamYAMLConfig, error) {
	var config ChatstreamYAMLConfig
	if err := l.loadYAML(ConfigFileName, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
