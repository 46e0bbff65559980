package blender

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"renderqueue/internal/config"
	"renderqueue/internal/executor"
	"renderqueue/internal/logging"
	"renderqueue/internal/taskfile"
)

// BlendExtension is the file suffix every task file must carry.
const BlendExtension = ".blend"

// Option configures the Spawner.
type Option func(*Spawner)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(s *Spawner) {
		if binary != "" {
			s.binary = binary
		}
	}
}

// WithOutputDir writes each process's stdout and stderr to a log file under
// dir instead of discarding it.
func WithOutputDir(dir string) Option {
	return func(s *Spawner) { s.outputDir = dir }
}

// WithLogger sets the logger used for launch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spawner) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "blender")
		}
	}
}

// Spawner starts Blender processes.
type Spawner struct {
	binary    string
	script    string
	outputDir string
	logger    *slog.Logger
}

// New constructs a Spawner running script through the given options.
func New(script string, opts ...Option) *Spawner {
	s := &Spawner{binary: "blender", script: script, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig resolves the script and binary from cfg. Blender output is
// kept under <log_dir>/blender.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Spawner, error) {
	script, err := EnsureScript(cfg.Paths.DataDir, cfg.Blender.ScriptPath)
	if err != nil {
		return nil, err
	}
	return New(script,
		WithBinary(cfg.BlenderBinary()),
		WithOutputDir(cfg.BlenderLogDir()),
		WithLogger(logger),
	), nil
}

// Command returns the argument vector for task, excluding the binary.
func (s *Spawner) Command(task taskfile.Task) ([]string, error) {
	mode, err := modeFor(task.Type)
	if err != nil {
		return nil, err
	}
	if len(task.Args) == 0 {
		return nil, errors.New("task has no .blend file")
	}
	args := []string{"-b", task.Args[0], "-P", s.script, "--", mode}
	return append(args, task.Args[1:]...), nil
}

// Launch validates the task's .blend file and starts Blender without
// waiting for it. Every error wraps executor.ErrLaunch.
func (s *Spawner) Launch(task taskfile.Task) (executor.Process, error) {
	if err := ValidateBlend(task.File()); err != nil {
		return nil, executor.LaunchError(task, err)
	}
	args, err := s.Command(task)
	if err != nil {
		return nil, executor.LaunchError(task, err)
	}

	cmd := exec.Command(s.binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	output, err := s.openOutput(task)
	if err != nil {
		return nil, executor.LaunchError(task, err)
	}
	if output != nil {
		cmd.Stdout = output
		cmd.Stderr = output
	}

	if err := cmd.Start(); err != nil {
		if output != nil {
			_ = output.Close()
		}
		return nil, executor.LaunchError(task, err)
	}
	s.logger.Debug("blender started",
		logging.Int("pid", cmd.Process.Pid),
		logging.String("command", s.binary+" "+strings.Join(args, " ")),
	)
	return newProcess(cmd, output), nil
}

func (s *Spawner) openOutput(task taskfile.Task) (*os.File, error) {
	if s.outputDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blender log directory: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(task.File()), BlendExtension)
	name := fmt.Sprintf("%s-%s-%s.log", time.Now().UTC().Format("20060102T150405"), task.Type, stem)
	return os.OpenFile(filepath.Join(s.outputDir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// ValidateBlend reports an error unless path is an existing regular file
// with the .blend extension.
func ValidateBlend(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("no .blend file given")
	}
	if !strings.EqualFold(filepath.Ext(path), BlendExtension) {
		return fmt.Errorf("%q is not a .blend file", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid blend file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("invalid blend file %q: not a regular file", path)
	}
	return nil
}

func modeFor(taskType taskfile.Type) (string, error) {
	switch taskType {
	case taskfile.RenderAnimation:
		return "1", nil
	case taskfile.RenderStill:
		return "0", nil
	case taskfile.Bake:
		return "bake", nil
	default:
		return "", fmt.Errorf("unknown task type %q", taskType)
	}
}
