package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBlender(); err != nil {
		return err
	}
	c.normalizeNetwork()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.InboxDir) == "" {
		c.Paths.InboxDir = defaultInboxDir
	}
	if c.Paths.InboxDir, err = expandPath(c.Paths.InboxDir); err != nil {
		return fmt.Errorf("paths.inbox_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBlender() error {
	c.Blender.Binary = strings.TrimSpace(c.Blender.Binary)
	if c.Blender.Binary == "" {
		c.Blender.Binary = defaultBlenderBinary
	}
	script := strings.TrimSpace(c.Blender.ScriptPath)
	if script == "" {
		c.Blender.ScriptPath = ""
		return nil
	}
	expanded, err := expandPath(script)
	if err != nil {
		return fmt.Errorf("blender.script_path: %w", err)
	}
	c.Blender.ScriptPath = expanded
	return nil
}

func (c *Config) normalizeNetwork() {
	c.Network.BindHost = strings.TrimSpace(c.Network.BindHost)
	if c.Network.BindHost == "" {
		c.Network.BindHost = defaultBindHost
	}
	c.Network.ProtocolVersion = strings.TrimSpace(c.Network.ProtocolVersion)
	if c.Network.ProtocolVersion == "" {
		c.Network.ProtocolVersion = defaultProtocolVersion
	}
	if c.Network.PollIntervalMS <= 0 {
		c.Network.PollIntervalMS = defaultPollIntervalMS
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
