package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	defaultPermissionTimeoutMS = 30_000
	defaultCommandTimeoutMS    = 60_000
)

// Config holds engine tuning parameters.
type Config struct {
	// PermissionTimeoutMS bounds the permission-response round trip. When
	// it elapses the pending pointer is cleared so the consumer is never
	// left blocked on a stuck request; the entry stays unanswered.
	PermissionTimeoutMS int `json:"permission_timeout_ms,omitempty"`

	// CommandTimeoutMS bounds short command round trips (initialize,
	// session/new, session/load, session/set_mode). Prompt turns are not
	// bounded; they end with the agent's stop reason or a cancel.
	CommandTimeoutMS int `json:"command_timeout_ms,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PermissionTimeoutMS: defaultPermissionTimeoutMS,
		CommandTimeoutMS:    defaultCommandTimeoutMS,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.PermissionTimeoutMS > 0 {
		c.PermissionTimeoutMS = source.PermissionTimeoutMS
	}
	if source.CommandTimeoutMS > 0 {
		c.CommandTimeoutMS = source.CommandTimeoutMS
	}
}

// Validate rejects nonsensical values.
func (c *Config) Validate() error {
	if c.PermissionTimeoutMS < 0 {
		return fmt.Errorf("permission_timeout_ms must not be negative, got %d", c.PermissionTimeoutMS)
	}
	if c.CommandTimeoutMS < 0 {
		return fmt.Errorf("command_timeout_ms must not be negative, got %d", c.CommandTimeoutMS)
	}
	return nil
}

// PermissionTimeout returns the permission round-trip bound as a duration.
func (c *Config) PermissionTimeout() time.Duration {
	return time.Duration(c.PermissionTimeoutMS) * time.Millisecond
}

// CommandTimeout returns the command round-trip bound as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// LoadConfig reads a JSON config file and merges it over the defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
