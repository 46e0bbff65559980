package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"renderqueue/internal/control"
	"renderqueue/internal/logging"
	"renderqueue/internal/metrics"
	"renderqueue/internal/taskfile"
)

// LaunchFailedExitCode is recorded in the failed history when a task could
// not be started at all.
const LaunchFailedExitCode int32 = math.MinInt32

// ErrLaunch marks errors returned by a Spawner.
var ErrLaunch = errors.New("launch failed")

// Process is a running external job.
type Process interface {
	// Kill terminates the process forcefully.
	Kill() error
	// Wait blocks until the process exits and returns its exit status.
	// Termination by signal N is reported as -N.
	Wait() int32
}

// Spawner starts the external program for a task without waiting for it.
type Spawner interface {
	Launch(task taskfile.Task) (Process, error)
}

// Store is the subset of the task store the executor drives.
type Store interface {
	Enqueue(taskType taskfile.Type, args []string, index int) (int, error)
	NextTask() (*taskfile.Task, error)
	Promote(task taskfile.Task) error
	UpdateCurrent(task taskfile.Task) error
	ClearCurrent() error
	RecordCompleted(task taskfile.Task) error
	RecordFailed(task taskfile.Task, exitCode int32) error
	Count() (int, error)
}

// State is the executor lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	State     State          `json:"state"`
	Current   *taskfile.Task `json:"current,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	Launched  uint64         `json:"launched"`
}

// Executor drives tasks from a Store through a Spawner.
type Executor struct {
	store    Store
	spawner  Spawner
	channel  *control.Channel
	logger   *slog.Logger
	metrics  *metrics.Metrics
	observer func(Outcome)
	now      func() time.Time

	mu         sync.Mutex
	state      State
	current    *taskfile.Task
	startedAt  time.Time
	generation uint64
	process    Process
	waiterDone chan struct{}
}

// Result names the way a task ended when it is recorded in history.
type Result string

const (
	ResultCompleted    Result = "completed"
	ResultFailed       Result = "failed"
	ResultLaunchFailed Result = "launch_failed"
)

// Outcome is reported to observers once a task has been recorded in
// history.
type Outcome struct {
	Task     taskfile.Task
	Result   Result
	ExitCode int32
	Elapsed  time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithMetrics records task metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithObserver calls fn for every task recorded in history. fn runs on the
// executor loop and must not block.
func WithObserver(fn func(Outcome)) Option {
	return func(e *Executor) { e.observer = fn }
}

// WithClock overrides the time source used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an executor. Run must be called to start processing.
func New(store Store, spawner Spawner, channel *control.Channel, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Executor{
		store:   store,
		spawner: spawner,
		channel: channel,
		logger:  logging.NewComponentLogger(logger, "executor"),
		now:     time.Now,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes tasks until a Quit message arrives or ctx is cancelled.
// A running process is killed on exit and its task stays in the current
// slot with its elapsed time persisted.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")
	for {
		dispatched := false
		if e.idle() {
			dispatched = e.dispatchNext()
		}

		handled := false
		if msg, ok := e.channel.Poll(); ok {
			handled = true
			if stop := e.handle(msg); stop {
				return nil
			}
		}

		if ctx.Err() != nil {
			e.interrupt("context cancelled")
			return nil
		}
		if handled || dispatched {
			continue
		}
		if err := e.channel.Wait(ctx); err != nil {
			e.interrupt("context cancelled")
			return nil
		}
	}
}

// Snapshot reports the current state with live elapsed time folded into
// the current task.
func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{State: e.state, Launched: e.generation}
	if e.current != nil {
		task := e.current.WithElapsed(e.now().Sub(e.startedAt))
		snap.Current = &task
		snap.StartedAt = e.startedAt
	}
	return snap
}

func (e *Executor) idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateIdle
}

// dispatchNext starts the next task if there is one. It reports whether a
// task was taken from the store, including tasks that failed to launch.
func (e *Executor) dispatchNext() bool {
	task, err := e.store.NextTask()
	if err != nil {
		logging.ErrorWithContext(e.logger, "failed to read next task", "task_store_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the task data directory"),
			logging.String(logging.FieldImpact, "queue processing paused until the next wakeup"),
		)
		return false
	}
	if task == nil {
		e.metrics.QueueDepth(0)
		return false
	}
	if depth, err := e.store.Count(); err == nil {
		e.metrics.QueueDepth(depth)
	}

	attrs := taskAttrs(*task)
	if err := e.store.Promote(*task); err != nil {
		logging.ErrorWithContext(e.logger, "failed to promote task", "task_store_error",
			append(attrs,
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check free space and permissions on the task data directory"),
				logging.String(logging.FieldImpact, "task moved to failed history without running"),
			)...)
		return e.abandon(*task, attrs)
	}

	process, err := e.spawner.Launch(*task)
	if err != nil {
		logging.WarnWithContext(e.logger, "task launch failed", "task_launch_failed",
			append(attrs,
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the blender binary and the .blend path"),
				logging.String(logging.FieldImpact, "task moved to failed history"),
			)...)
		return e.abandon(*task, attrs)
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.generation++
	generation := e.generation
	e.state = StateRunning
	e.current = task
	e.startedAt = e.now()
	e.process = process
	e.waiterDone = done
	e.mu.Unlock()

	go e.wait(process, generation, done)

	e.metrics.TaskStarted(string(task.Type))
	e.logger.Info("task launched", logging.Args(append(attrs,
		logging.String(logging.FieldEventType, "task_started"),
		logging.Int64("generation", int64(generation)),
	)...)...)
	return true
}

// abandon records a task that never ran as failed with the launch sentinel.
// If even that cannot be stored the task goes back to the front of the queue
// and abandon reports false so the loop waits instead of retrying at once.
func (e *Executor) abandon(task taskfile.Task, attrs []logging.Attr) bool {
	if err := e.store.RecordFailed(task, LaunchFailedExitCode); err != nil {
		logging.ErrorWithContext(e.logger, "failed to record launch failure", "task_store_error",
			append(attrs, logging.Error(err))...)
		if _, qErr := e.store.Enqueue(task.Type, task.Args, 0); qErr != nil {
			logging.ErrorWithContext(e.logger, "failed to return task to the queue", "task_store_error",
				append(attrs,
					logging.Error(qErr),
					logging.String(logging.FieldImpact, "task dropped"),
				)...)
		}
		return false
	}
	e.metrics.TaskFinished(string(task.Type), string(ResultLaunchFailed), 0)
	e.notify(Outcome{Task: task, Result: ResultLaunchFailed, ExitCode: LaunchFailedExitCode})
	return true
}

func (e *Executor) wait(process Process, generation uint64, done chan struct{}) {
	defer close(done)
	code := process.Wait()
	kind := control.Complete
	if code != 0 {
		kind = control.Failed
	}
	e.channel.Post(control.Message{Kind: kind, ExitCode: code, Generation: generation})
}

// handle applies one control message and reports whether the loop must stop.
func (e *Executor) handle(msg control.Message) bool {
	switch msg.Kind {
	case control.Complete, control.Failed:
		e.finish(msg)
	case control.Skip:
		e.skip(msg)
	case control.Quit:
		e.interrupt("quit requested")
		return true
	default:
		e.logger.Warn("ignoring unknown control message", logging.String("kind", msg.Kind.String()))
	}
	return false
}

func (e *Executor) finish(msg control.Message) {
	e.mu.Lock()
	if e.state != StateRunning || msg.Generation != e.generation {
		e.mu.Unlock()
		e.logger.Debug("discarding stale process report",
			logging.String("kind", msg.Kind.String()),
			logging.Int64("generation", int64(msg.Generation)),
		)
		return
	}
	done := e.waiterDone
	e.mu.Unlock()
	<-done

	task, elapsed := e.release()
	attrs := append(taskAttrs(task),
		logging.Int(logging.FieldExitCode, int(msg.ExitCode)),
		logging.Duration("elapsed", elapsed),
	)

	if msg.Kind == control.Complete {
		if err := e.store.RecordCompleted(task); err != nil {
			logging.ErrorWithContext(e.logger, "failed to record completed task", "task_store_error",
				append(attrs, logging.Error(err))...)
		}
		e.metrics.TaskFinished(string(task.Type), string(ResultCompleted), elapsed)
		e.logger.Info("task completed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "task_completed"))...)...)
		e.notify(Outcome{Task: task, Result: ResultCompleted, Elapsed: elapsed})
		return
	}

	if err := e.store.RecordFailed(task, msg.ExitCode); err != nil {
		logging.ErrorWithContext(e.logger, "failed to record failed task", "task_store_error",
			append(attrs, logging.Error(err))...)
	}
	e.metrics.TaskFinished(string(task.Type), string(ResultFailed), elapsed)
	logging.WarnWithContext(e.logger, "task failed", "task_failed",
		append(attrs,
			logging.String(logging.FieldErrorHint, "inspect the blender output in the daemon log"),
			logging.String(logging.FieldImpact, "task moved to failed history"),
		)...)
	e.notify(Outcome{Task: task, Result: ResultFailed, ExitCode: msg.ExitCode, Elapsed: elapsed})
}

func (e *Executor) notify(outcome Outcome) {
	if e.observer != nil {
		e.observer(outcome)
	}
}

func (e *Executor) skip(msg control.Message) {
	e.mu.Lock()
	stale := e.state == StateRunning && msg.Generation != 0 && msg.Generation != e.generation
	e.mu.Unlock()
	if stale {
		e.logger.Info("skip ignored, targeted task already finished",
			logging.Int64("generation", int64(msg.Generation)))
		return
	}
	if !e.killRunning() {
		e.logger.Info("skip requested with no running task")
		return
	}
	task, elapsed := e.release()
	attrs := taskAttrs(task)
	if msg.Requeue {
		if _, err := e.store.Enqueue(task.Type, task.Args, msg.Index); err != nil {
			logging.ErrorWithContext(e.logger, "failed to requeue skipped task", "task_store_error",
				append(attrs, logging.Error(err))...)
		}
	}
	if err := e.store.ClearCurrent(); err != nil {
		logging.ErrorWithContext(e.logger, "failed to clear skipped task", "task_store_error",
			append(attrs, logging.Error(err))...)
	}
	e.metrics.TaskFinished(string(task.Type), "skipped", elapsed)
	e.logger.Info("task skipped", logging.Args(append(attrs,
		logging.String(logging.FieldEventType, "task_skipped"),
		logging.Duration("elapsed", elapsed),
		logging.Bool("requeue", msg.Requeue),
	)...)...)
}

// interrupt stops the loop, leaving any running task in the current slot.
func (e *Executor) interrupt(reason string) {
	if e.killRunning() {
		task, elapsed := e.release()
		if err := e.store.UpdateCurrent(task); err != nil {
			logging.ErrorWithContext(e.logger, "failed to persist interrupted task", "task_store_error",
				append(taskAttrs(task), logging.Error(err))...)
		}
		e.metrics.TaskFinished(string(task.Type), "interrupted", elapsed)
		e.logger.Info("task interrupted", logging.Args(append(taskAttrs(task),
			logging.String("reason", reason),
			logging.Duration("elapsed", elapsed),
		)...)...)
	}
	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
}

// killRunning kills the running process and joins its waiter. It reports
// false when nothing was running.
func (e *Executor) killRunning() bool {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return false
	}
	process := e.process
	done := e.waiterDone
	e.mu.Unlock()

	if err := process.Kill(); err != nil {
		e.logger.Warn("failed to kill task process", logging.Error(err))
	}
	<-done
	return true
}

// release returns the running task with its elapsed time added and resets
// the executor to idle.
func (e *Executor) release() (taskfile.Task, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	elapsed := e.now().Sub(e.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	var task taskfile.Task
	if e.current != nil {
		task = e.current.WithElapsed(elapsed)
	}
	e.state = StateIdle
	e.current = nil
	e.process = nil
	e.waiterDone = nil
	e.startedAt = time.Time{}
	return task, elapsed
}

func taskAttrs(task taskfile.Task) []logging.Attr {
	return []logging.Attr{
		logging.String(logging.FieldTaskType, string(task.Type)),
		logging.String(logging.FieldTaskFile, task.File()),
	}
}

// LaunchError wraps err with ErrLaunch.
func LaunchError(task taskfile.Task, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrLaunch, task.Type.DisplayName(), task.File(), err)
}
