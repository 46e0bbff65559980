package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateHistory(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.History.MaxCompleted < 0 || c.History.MaxCompleted > maxHistoryEntriesAllowed {
		return fmt.Errorf("history.max_completed must be between 0 and %d", maxHistoryEntriesAllowed)
	}
	if c.History.MaxFailed < 0 || c.History.MaxFailed > maxHistoryEntriesAllowed {
		return fmt.Errorf("history.max_failed must be between 0 and %d", maxHistoryEntriesAllowed)
	}
	return nil
}

func (c *Config) validateNetwork() error {
	if c.Network.Port < 0 || c.Network.Port > maxNetworkPort {
		return fmt.Errorf("network.port must be between 0 and %d", maxNetworkPort)
	}
	version := c.Network.ProtocolVersion
	if len(version) > maxProtocolVersionLength {
		return fmt.Errorf("network.protocol_version must be at most %d characters", maxProtocolVersionLength)
	}
	// The version travels quoted inside the handshake header.
	if strings.ContainsAny(version, "\"\\ \t\r\n") {
		return errors.New("network.protocol_version must not contain quotes, backslashes, or whitespace")
	}
	if c.Network.PollIntervalMS < minPollIntervalMS {
		return fmt.Errorf("network.poll_interval_ms must be at least %d", minPollIntervalMS)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
