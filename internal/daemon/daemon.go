package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"renderqueue/internal/api"
	"renderqueue/internal/config"
	"renderqueue/internal/control"
	"renderqueue/internal/deps"
	"renderqueue/internal/executor"
	"renderqueue/internal/lan"
	"renderqueue/internal/logging"
	"renderqueue/internal/metrics"
	"renderqueue/internal/notifications"
	"renderqueue/internal/taskfile"
	"renderqueue/internal/transferlog"
)

const notifyTimeout = 15 * time.Second

// Daemon coordinates the executor and LAN node and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *taskfile.Store
	ledger  *transferlog.Store
	channel *control.Channel
	exec    *executor.Executor
	node    *lan.Node
	metrics *metrics.Metrics
	api     *apiServer
	logPath string

	notifier notifications.Service
	notifyWG sync.WaitGroup

	lockPath string
	lock     *flock.Flock

	onQuit func()

	mu       sync.Mutex
	deps     []deps.Status
	running  atomic.Bool
	cancel   context.CancelFunc
	execDone chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DataDir      string
	LockFilePath string
	LogPath      string
	QueueLength  int
	Executor     executor.Snapshot
	LAN          lan.Status
	Dependencies []deps.Status
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithMetrics records task and transfer metrics on m and serves them on
// /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithLogPath reports path as the daemon log file.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// WithNotifier overrides the notification service built from the config.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) { d.notifier = svc }
}

// WithQuitHandler registers fn to run when a quit request stops the
// executor. The owning process uses it to shut down.
func WithQuitHandler(fn func()) Option {
	return func(d *Daemon) { d.onQuit = fn }
}

// New constructs a daemon with initialized dependencies. ledger may be nil,
// in which case transfers are not recorded.
func New(cfg *config.Config, store *taskfile.Store, ledger *transferlog.Store, spawner executor.Spawner, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || spawner == nil {
		return nil, errors.New("daemon requires config, task store, and spawner")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		ledger:   ledger,
		channel:  control.New(),
		logPath:  filepath.Join(cfg.Paths.LogDir, "renderq.log"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	d.exec = executor.New(store, spawner, d.channel, logger,
		executor.WithMetrics(d.metrics),
		executor.WithObserver(d.taskFinished),
	)

	lanOpts := lan.OptionsFromConfig(cfg)
	lanOpts.Logger = logger
	lanOpts.Metrics = d.metrics
	lanOpts.OnReceive = d.received
	if ledger != nil {
		lanOpts.Ledger = ledger
	}
	d.node = lan.NewNode(cfg.Network.BindHost, lanOpts)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, starts the executor and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another renderq daemon instance is already running")
	}

	if d.ledger != nil {
		if n, err := d.ledger.MarkInterrupted(ctx); err != nil {
			d.logger.Warn("failed to close out interrupted transfers", logging.Error(err))
		} else if n > 0 {
			d.logger.Info("marked interrupted transfers as failed", logging.Int64("count", n))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}

	done := make(chan struct{})
	go func() {
		_ = d.exec.Run(runCtx)
		close(done)
		if runCtx.Err() == nil && d.onQuit != nil {
			d.onQuit()
		}
	}()

	d.cancel = cancel
	d.execDone = done
	d.running.Store(true)
	d.logger.Info("renderq daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("data_dir", d.store.Dir()),
	)
	return nil
}

// Stop interrupts the executor, leaves any LAN role, and releases the lock.
// A running task stays in the current slot with its elapsed time saved.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.cancel()
	<-d.execDone
	d.cancel = nil
	d.execDone = nil

	if err := d.node.Disconnect(); err != nil {
		d.logger.Warn("failed to leave lan role", logging.Error(err))
	}
	d.api.stop()
	d.notifyWG.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("renderq daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.ledger != nil {
		return d.ledger.Close()
	}
	return nil
}

// SetDependencies stores the dependency snapshot reported by Status.
func (d *Daemon) SetDependencies(statuses []deps.Status) {
	d.mu.Lock()
	d.deps = append([]deps.Status(nil), statuses...)
	d.mu.Unlock()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// BlenderLogDir returns the directory holding per-task Blender output.
func (d *Daemon) BlenderLogDir() string {
	return d.cfg.BlenderLogDir()
}

// Metrics returns the metrics collector, which may be nil.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	d.mu.Lock()
	statuses := append([]deps.Status(nil), d.deps...)
	d.mu.Unlock()

	count, err := d.store.Count()
	if err != nil {
		d.logger.Warn("failed to count queued tasks", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DataDir:      d.store.Dir(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		QueueLength:  count,
		Executor:     d.exec.Snapshot(),
		LAN:          d.node.Status(),
		Dependencies: statuses,
	}
}

// Enqueue inserts a task at index (out of range appends) and wakes the
// executor. It returns the position the task landed at.
func (d *Daemon) Enqueue(taskType taskfile.Type, args []string, index int) (int, error) {
	if !taskType.Valid() {
		return 0, fmt.Errorf("unknown task type %q", taskType)
	}
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return 0, errors.New("a .blend file is required")
	}
	pos, err := d.store.Enqueue(taskType, args, index)
	if err != nil {
		return 0, fmt.Errorf("enqueue task: %w", err)
	}
	d.metrics.TaskEnqueued(string(taskType))
	if count, err := d.store.Count(); err == nil {
		d.metrics.QueueDepth(count)
	}
	d.channel.Notify()
	return pos, nil
}

// Skip stops the running task without recording it in history. With
// requeue set, a fresh copy of the task is inserted at index before the
// current slot is cleared. The skip targets the launch seen here, so a task
// that finishes before the executor handles it is left alone. It returns the
// task that was running, or nil.
func (d *Daemon) Skip(requeue bool, index int) (*taskfile.Task, error) {
	snap := d.exec.Snapshot()
	if snap.Current == nil {
		if requeue {
			return nil, taskfile.ErrNoCurrentTask
		}
		return nil, nil
	}
	current := *snap.Current
	d.channel.Post(control.Message{
		Kind:       control.Skip,
		Generation: snap.Launched,
		Requeue:    requeue,
		Index:      index,
	})
	d.logger.Info("skip requested",
		logging.String(logging.FieldEventType, "task_skip_requested"),
		logging.String(logging.FieldTaskFile, current.File()),
		logging.Bool("requeue", requeue),
	)
	return &current, nil
}

// Quit stops the executor. The running task is killed and kept as current
// so it restarts on the next launch.
func (d *Daemon) Quit() {
	d.logger.Info("quit requested", logging.String(logging.FieldEventType, "quit_requested"))
	d.channel.Post(control.Message{Kind: control.Quit})
}

// Queue returns the current task, with live elapsed time when it is
// running, followed by the pending tasks.
func (d *Daemon) Queue() (*taskfile.Task, []taskfile.Task, error) {
	tasks, err := d.store.Tasks()
	if err != nil {
		return nil, nil, err
	}
	if snap := d.exec.Snapshot(); snap.Current != nil {
		return snap.Current, tasks, nil
	}
	current, err := d.store.Current()
	if err != nil {
		return nil, nil, err
	}
	return current, tasks, nil
}

// Remove deletes the pending task at index.
func (d *Daemon) Remove(index int) (taskfile.Task, error) {
	task, err := d.store.Remove(index)
	if err != nil {
		return taskfile.Task{}, err
	}
	d.logger.Info("task removed",
		logging.String(logging.FieldEventType, "task_removed"),
		logging.String(logging.FieldTaskFile, task.File()),
		logging.Int("index", index),
	)
	return task, nil
}

// ClearQueue removes every pending task. The current task is untouched.
func (d *Daemon) ClearQueue() error {
	if err := d.store.ClearQueue(); err != nil {
		return err
	}
	d.metrics.QueueDepth(0)
	d.logger.Info("queue cleared", logging.String(logging.FieldEventType, "queue_clear"))
	return nil
}

// Completed returns up to n completed tasks, most recent first. n <= 0
// returns all of them.
func (d *Daemon) Completed(n int) ([]taskfile.Task, error) {
	return d.store.Completed(n)
}

// Failed returns up to n failed tasks, most recent first.
func (d *Daemon) Failed(n int) ([]taskfile.FailedTask, error) {
	return d.store.Failed(n)
}

// ClearHistory trims a history file down to its keep most recent entries.
func (d *Daemon) ClearHistory(kind taskfile.HistoryKind, keep int) error {
	if err := d.store.ClearHistory(kind, keep); err != nil {
		return err
	}
	d.logger.Info("history cleared",
		logging.String(logging.FieldEventType, "history_clear"),
		logging.String("kind", string(kind)),
		logging.Int("keep", keep),
	)
	return nil
}

// Serve puts the LAN node in the server role. A negative port uses the
// configured one; zero picks a free port.
func (d *Daemon) Serve(port int) (string, error) {
	if port < 0 {
		port = d.cfg.Network.Port
	}
	addr, err := d.node.Serve(port)
	if err != nil {
		return "", err
	}
	d.logger.Info("lan server listening",
		logging.String(logging.FieldEventType, "lan_server_started"),
		logging.String("address", addr),
	)
	return addr, nil
}

// Connect puts the LAN node in the client role against addr.
func (d *Daemon) Connect(ctx context.Context, addr string) error {
	if err := d.node.Connect(ctx, addr); err != nil {
		return err
	}
	d.logger.Info("connected to lan server",
		logging.String(logging.FieldEventType, "lan_connected"),
		logging.String(logging.FieldPeer, addr),
		logging.String(logging.FieldRole, string(lan.RoleClient)),
	)
	return nil
}

// ConnectWorker puts the LAN node in the worker role against addr.
func (d *Daemon) ConnectWorker(ctx context.Context, addr string) error {
	if err := d.node.ConnectWorker(ctx, addr); err != nil {
		return err
	}
	d.logger.Info("connected to lan server",
		logging.String(logging.FieldEventType, "lan_connected"),
		logging.String(logging.FieldPeer, addr),
		logging.String(logging.FieldRole, string(lan.RoleWorker)),
	)
	return nil
}

// SendFile transfers path over the current LAN session.
func (d *Daemon) SendFile(ctx context.Context, path string) (lan.SendResult, error) {
	return d.node.SendFile(ctx, path)
}

// Disconnect leaves the current LAN role.
func (d *Daemon) Disconnect() error {
	if err := d.node.Disconnect(); err != nil {
		return err
	}
	d.logger.Info("left lan role", logging.String(logging.FieldEventType, "lan_disconnected"))
	return nil
}

// LANStatus reports the LAN node role.
func (d *Daemon) LANStatus() lan.Status {
	return d.node.Status()
}

// Transfers returns up to limit ledger entries, newest first.
func (d *Daemon) Transfers(ctx context.Context, limit int) ([]transferlog.Record, error) {
	if d.ledger == nil {
		return nil, nil
	}
	return d.ledger.Recent(ctx, limit)
}

func (d *Daemon) received(file lan.ReceivedFile) {
	d.logger.Info("file received",
		logging.String(logging.FieldEventType, "file_received"),
		logging.String(logging.FieldTransferID, file.ID),
		logging.String(logging.FieldPeer, file.Peer),
		logging.String("name", file.Name),
		logging.String("path", file.Path),
		logging.Int64("size", file.Size),
	)
	d.publish("file_received", func(ctx context.Context) error {
		return d.notifier.NotifyFileReceived(ctx, file.Name, file.Peer, file.Size)
	})
}

func (d *Daemon) taskFinished(outcome executor.Outcome) {
	switch outcome.Result {
	case executor.ResultCompleted:
		d.publish("task_completed", func(ctx context.Context) error {
			return d.notifier.NotifyTaskCompleted(ctx, outcome.Task, outcome.Elapsed)
		})
	case executor.ResultFailed, executor.ResultLaunchFailed:
		d.publish("task_failed", func(ctx context.Context) error {
			return d.notifier.NotifyTaskFailed(ctx, outcome.Task, outcome.ExitCode, api.ExitDetail(outcome.ExitCode))
		})
	}
}

// publish sends a notification off the calling goroutine.
func (d *Daemon) publish(event string, send func(context.Context) error) {
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
				logging.String("event", event),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
				logging.String(logging.FieldImpact, "the event was logged but not pushed"),
			)
		}
	}()
}

// NotifyTest sends a test notification through the configured service.
func (d *Daemon) NotifyTest(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}
