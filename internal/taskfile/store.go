package taskfile

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"renderqueue/internal/config"
	"renderqueue/internal/fileutil"
	"renderqueue/internal/logging"
)

const (
	queueFileName     = "tasklist.txt"
	currentFileName   = "currenttask.txt"
	completedFileName = "completed.txt"
	failedFileName    = "failed.txt"
	lockFileName      = ".taskfile.lock"

	recordFileMode = 0o644
	maxRecordBytes = 1 << 20
)

// Limits bounds the history files. Zero means unbounded.
type Limits struct {
	MaxCompleted int
	MaxFailed    int
}

// Store is the durable task queue.
type Store struct {
	dir    string
	limits Limits
	logger *slog.Logger

	mu       sync.Mutex
	fileLock *flock.Flock
}

// Open creates the data directory if needed and returns a store rooted there.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	return OpenDir(cfg.Paths.DataDir, Limits{
		MaxCompleted: cfg.History.MaxCompleted,
		MaxFailed:    cfg.History.MaxFailed,
	}, logger)
}

// OpenDir returns a store rooted at dir.
func OpenDir(dir string, limits Limits, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("task data directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task data directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		dir:      dir,
		limits:   limits,
		logger:   logging.NewComponentLogger(logger, "taskfile"),
		fileLock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Dir returns the data directory backing the store.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// withLock runs fn holding both the process mutex and the directory lock.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("lock task directory: %w", err)
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn("task directory unlock failed", logging.Error(err))
		}
	}()
	return fn()
}

// Enqueue inserts a task at index and returns the position it landed at.
// A negative or out-of-range index appends.
func (s *Store) Enqueue(taskType Type, args []string, index int) (int, error) {
	if !taskType.Valid() {
		return 0, fmt.Errorf("unknown task type %q", taskType)
	}
	task := New(taskType, args...)
	var pos int
	err := s.withLock(func() error {
		tasks, err := s.readQueueLocked()
		if err != nil {
			return err
		}
		tasks, pos = insertAt(tasks, task, index)
		return s.writeQueueLocked(tasks)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("task queued",
		logging.String(logging.FieldTaskType, string(taskType)),
		logging.String(logging.FieldTaskFile, task.File()),
		logging.Int("position", pos),
	)
	return pos, nil
}

// NextTask returns the current task when one is recorded, leaving the queue
// untouched. Otherwise it pops the queue head. It returns nil when both are
// empty.
func (s *Store) NextTask() (*Task, error) {
	var next *Task
	err := s.withLock(func() error {
		current, err := s.currentLocked()
		if err != nil {
			return err
		}
		if current != nil {
			next = current
			return nil
		}
		tasks, err := s.readQueueLocked()
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		head := tasks[0]
		if err := s.writeQueueLocked(tasks[1:]); err != nil {
			return err
		}
		next = &head
		return nil
	})
	return next, err
}

// Promote makes task the current task, replacing any previous record.
func (s *Store) Promote(task Task) error {
	return s.withLock(func() error {
		return s.writeCurrentLocked(task)
	})
}

// UpdateCurrent rewrites the current record, typically to persist elapsed
// time. It fails with ErrNoCurrentTask when the slot is empty.
func (s *Store) UpdateCurrent(task Task) error {
	return s.withLock(func() error {
		current, err := s.currentLocked()
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNoCurrentTask
		}
		return s.writeCurrentLocked(task)
	})
}

// ClearCurrent empties the current slot.
func (s *Store) ClearCurrent() error {
	return s.withLock(s.clearCurrentLocked)
}

// Current returns the current task or nil.
func (s *Store) Current() (*Task, error) {
	var current *Task
	err := s.withLock(func() error {
		var err error
		current, err = s.currentLocked()
		return err
	})
	return current, err
}

// Tasks returns the pending queue in execution order.
func (s *Store) Tasks() ([]Task, error) {
	var tasks []Task
	err := s.withLock(func() error {
		var err error
		tasks, err = s.readQueueLocked()
		return err
	})
	return tasks, err
}

// Count returns the number of pending tasks.
func (s *Store) Count() (int, error) {
	tasks, err := s.Tasks()
	return len(tasks), err
}

// Remove deletes the pending task at index and returns it.
func (s *Store) Remove(index int) (Task, error) {
	var removed Task
	err := s.withLock(func() error {
		tasks, err := s.readQueueLocked()
		if err != nil {
			return err
		}
		if index < 0 || index >= len(tasks) {
			return fmt.Errorf("%w: %d (queue has %d)", ErrIndexOutOfRange, index, len(tasks))
		}
		removed = tasks[index]
		tasks = append(tasks[:index], tasks[index+1:]...)
		return s.writeQueueLocked(tasks)
	})
	return removed, err
}

// ClearQueue removes every pending task. The current task is unaffected.
func (s *Store) ClearQueue() error {
	return s.withLock(func() error {
		return fileutil.RemoveIfExists(s.path(queueFileName))
	})
}

// Completed returns up to n completed tasks, newest first. n <= 0 returns all.
func (s *Store) Completed(n int) ([]Task, error) {
	var tasks []Task
	err := s.withLock(func() error {
		var err error
		tasks, err = s.readCompletedLocked()
		return err
	})
	return limit(tasks, n), err
}

// Failed returns up to n failed tasks, newest first. n <= 0 returns all.
func (s *Store) Failed(n int) ([]FailedTask, error) {
	var tasks []FailedTask
	err := s.withLock(func() error {
		var err error
		tasks, err = s.readFailedLocked()
		return err
	})
	return limit(tasks, n), err
}

// RecordCompleted prepends task to the completed history and clears the
// current slot.
func (s *Store) RecordCompleted(task Task) error {
	return s.withLock(func() error {
		tasks, err := s.readCompletedLocked()
		if err != nil {
			return err
		}
		tasks = limit(append([]Task{task}, tasks...), s.limits.MaxCompleted)
		if err := writeRecords(s.path(completedFileName), tasks, formatTask); err != nil {
			return err
		}
		return s.clearCurrentLocked()
	})
}

// RecordFailed prepends task with its exit code to the failed history and
// clears the current slot.
func (s *Store) RecordFailed(task Task, exitCode int32) error {
	return s.withLock(func() error {
		tasks, err := s.readFailedLocked()
		if err != nil {
			return err
		}
		entry := FailedTask{Task: task, ExitCode: exitCode}
		tasks = limit(append([]FailedTask{entry}, tasks...), s.limits.MaxFailed)
		if err := writeRecords(s.path(failedFileName), tasks, formatFailed); err != nil {
			return err
		}
		return s.clearCurrentLocked()
	})
}

// ClearHistory keeps only the keep most recent entries of the selected
// history. keep <= 0 deletes the file.
func (s *Store) ClearHistory(kind HistoryKind, keep int) error {
	return s.withLock(func() error {
		switch kind {
		case HistoryCompleted:
			if keep <= 0 {
				return fileutil.RemoveIfExists(s.path(completedFileName))
			}
			tasks, err := s.readCompletedLocked()
			if err != nil {
				return err
			}
			return writeRecords(s.path(completedFileName), limit(tasks, keep), formatTask)
		case HistoryFailed:
			if keep <= 0 {
				return fileutil.RemoveIfExists(s.path(failedFileName))
			}
			tasks, err := s.readFailedLocked()
			if err != nil {
				return err
			}
			return writeRecords(s.path(failedFileName), limit(tasks, keep), formatFailed)
		default:
			return fmt.Errorf("unknown history kind %q", kind)
		}
	})
}

func (s *Store) readQueueLocked() ([]Task, error) {
	return readRecords(s.logger, s.path(queueFileName), parseTask)
}

func (s *Store) writeQueueLocked(tasks []Task) error {
	if len(tasks) == 0 {
		return fileutil.RemoveIfExists(s.path(queueFileName))
	}
	return writeRecords(s.path(queueFileName), tasks, formatTask)
}

func (s *Store) readCompletedLocked() ([]Task, error) {
	return readRecords(s.logger, s.path(completedFileName), parseTask)
}

func (s *Store) readFailedLocked() ([]FailedTask, error) {
	return readRecords(s.logger, s.path(failedFileName), parseFailed)
}

func (s *Store) currentLocked() (*Task, error) {
	tasks, err := readRecords(s.logger, s.path(currentFileName), parseTask)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	current := tasks[0]
	return &current, nil
}

func (s *Store) writeCurrentLocked(task Task) error {
	return writeRecords(s.path(currentFileName), []Task{task}, formatTask)
}

func (s *Store) clearCurrentLocked() error {
	return fileutil.RemoveIfExists(s.path(currentFileName))
}

func readRecords[T any](logger *slog.Logger, path string, parse func(string) (T, error)) ([]T, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	var records []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 4096), maxRecordBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, err := parse(line)
		if err != nil {
			logging.WarnWithContext(logger, "skipping malformed task record", "task_record_malformed",
				logging.String("file", filepath.Base(path)),
				logging.Int("line", lineNo),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove or fix the line by hand"),
				logging.String(logging.FieldImpact, "record ignored"),
			)
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

func writeRecords[T any](path string, records []T, format func(T) (string, error)) error {
	var b strings.Builder
	for _, record := range records {
		line, err := format(record)
		if err != nil {
			return err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := fileutil.WriteFileAtomic(path, []byte(b.String()), recordFileMode); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func insertAt(tasks []Task, task Task, index int) ([]Task, int) {
	if index < 0 || index >= len(tasks) {
		return append(tasks, task), len(tasks)
	}
	tasks = append(tasks, Task{})
	copy(tasks[index+1:], tasks[index:])
	tasks[index] = task
	return tasks, index
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
