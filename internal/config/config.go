package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	InboxDir string `toml:"inbox_dir"`
}

// Blender contains configuration for the external renderer.
type Blender struct {
	Binary string `toml:"binary"`
	// ScriptPath overrides the embedded render script when set.
	ScriptPath string `toml:"script_path"`
}

// History bounds the completed and failed task lists. Zero keeps everything.
type History struct {
	MaxCompleted int `toml:"max_completed"`
	MaxFailed    int `toml:"max_failed"`
}

// Network contains configuration for the LAN transfer protocol.
type Network struct {
	BindHost        string `toml:"bind_host"`
	Port            int    `toml:"port"`
	ProtocolVersion string `toml:"protocol_version"`
	PollIntervalMS  int    `toml:"poll_interval_ms"`
}

// API contains configuration for the read-only HTTP status API.
type API struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications configures ntfy push notifications. An empty topic
// disables them.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for renderq.
//
// Configuration sections by subsystem:
//   - Paths: task record, log, and received-file directories
//   - Blender: renderer binary and script override
//   - History: completed/failed list caps
//   - Network: LAN server bind address, protocol version, accept poll interval
//   - API: HTTP status/metrics bind address
//   - Logging: log format, level, and retention
//   - Notifications: ntfy topic for task and transfer events
type Config struct {
	Paths   Paths   `toml:"paths"`
	Blender Blender `toml:"blender"`
	History History `toml:"history"`
	Network Network `toml:"network"`
	API     API     `toml:"api"`
	Logging Logging `toml:"logging"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("renderq.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.InboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// BlenderBinary returns the Blender executable name or path.
func (c *Config) BlenderBinary() string {
	if binary := strings.TrimSpace(c.Blender.Binary); binary != "" {
		return binary
	}
	return defaultBlenderBinary
}

// PollInterval returns the LAN server accept poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Network.PollIntervalMS) * time.Millisecond
}

// ListenAddress returns the host:port the LAN server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Network.BindHost, c.Network.Port)
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "renderq.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "renderqd.lock")
}

// BlenderLogDir returns the directory holding per-task Blender output.
func (c *Config) BlenderLogDir() string {
	return filepath.Join(c.Paths.LogDir, "blender")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "renderq.pid")
}

// TransferDBPath returns the location of the transfer ledger database.
func (c *Config) TransferDBPath() string {
	return filepath.Join(c.Paths.DataDir, "transfers.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleOverrides replaces selected values in the sample configuration.
// Empty fields keep the sample's value.
type SampleOverrides struct {
	BlenderBinary string
	NtfyTopic     string
}

// ErrConfigExists is returned by WriteSample when the target exists and
// overwrite was not requested.
var ErrConfigExists = errors.New("config file already exists")

// CreateSample writes the unmodified sample configuration to path.
func CreateSample(path string) error {
	return writeSampleFile(path, sampleConfig)
}

// WriteSample writes the sample configuration with overrides applied and
// returns the absolute path written. An empty path selects the default
// location.
func WriteSample(path string, overrides SampleOverrides, overwrite bool) (string, error) {
	target := strings.TrimSpace(path)
	if target == "" {
		target = defaultConfigPath
	}
	target, err := expandPath(target)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return target, ErrConfigExists
		} else if !os.IsNotExist(err) {
			return target, fmt.Errorf("check config path: %w", err)
		}
	}

	text := sampleConfig
	if v := strings.TrimSpace(overrides.BlenderBinary); v != "" {
		if text, err = setSampleValue(text, "binary", v); err != nil {
			return target, err
		}
	}
	if v := strings.TrimSpace(overrides.NtfyTopic); v != "" {
		if text, err = setSampleValue(text, "ntfy_topic", v); err != nil {
			return target, err
		}
	}
	return target, writeSampleFile(target, text)
}

// setSampleValue rewrites the first `key = ...` line of the sample.
func setSampleValue(text, key, value string) (string, error) {
	pattern := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + ` = .*$`)
	loc := pattern.FindStringIndex(text)
	if loc == nil {
		return "", fmt.Errorf("sample config has no %s setting", key)
	}
	return text[:loc[0]] + key + " = " + strconv.Quote(value) + text[loc[1]:], nil
}

func writeSampleFile(path, text string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
