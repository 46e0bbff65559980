package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"renderqueue/internal/blender"
	"renderqueue/internal/config"
	"renderqueue/internal/daemon"
	"renderqueue/internal/ipc"
	"renderqueue/internal/logging"
	"renderqueue/internal/metrics"
	"renderqueue/internal/preflight"
	"renderqueue/internal/taskfile"
	"renderqueue/internal/transferlog"
)

// keepBlenderLogs is the number of per-task Blender logs kept past the
// retention window.
const keepBlenderLogs = 20

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Serve enters the LAN server role on startup.
	Serve bool
}

// Run starts the renderq daemon and blocks until a signal or a quit
// request stops it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("renderq-%s.log", runID))
	sessionID := uuid.NewString()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		SessionID:        sessionID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update renderq.log link: %v\n", err)
	}
	pruned := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "renderq-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.BlenderLogDir(), Pattern: "*.log", KeepNewest: keepBlenderLogs},
	)
	if pruned.Removed > 0 {
		logger.Info("old logs pruned",
			logging.Int("files", pruned.Removed),
			logging.String("freed", humanize.IBytes(uint64(pruned.Bytes))),
			logging.String(logging.FieldEventType, "log_retention"),
		)
	}
	logPreflight(signalCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := taskfile.Open(cfg, logger)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}
	ledger, err := transferlog.Open(cfg)
	if err != nil {
		logger.Error("open transfer ledger", logging.Error(err))
		return err
	}
	spawner, err := blender.NewFromConfig(cfg, logger)
	if err != nil {
		_ = ledger.Close()
		return fmt.Errorf("prepare blender: %w", err)
	}

	d, err := daemon.New(cfg, store, ledger, spawner, logger,
		daemon.WithMetrics(metrics.New()),
		daemon.WithLogPath(logPath),
		daemon.WithQuitHandler(cancel),
	)
	if err != nil {
		_ = ledger.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()
	d.SetDependencies(preflight.CheckSystemDeps(signalCtx, cfg))

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if opts.Serve {
		if _, err := d.Serve(-1); err != nil {
			logging.WarnWithContext(logger, "lan server start failed", "lan_server_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check network.bind_host and network.port"),
				logging.String(logging.FieldImpact, "files cannot be received until 'renderq server' succeeds"),
			)
		}
	}

	<-signalCtx.Done()
	logger.Info("renderq daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run 'renderq doctor' for details"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "renderq.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
