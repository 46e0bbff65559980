package taskfile

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies the Blender operation a task performs.
type Type string

const (
	RenderAnimation Type = "ra"
	RenderStill     Type = "rs"
	Bake            Type = "b"
)

// ParseType accepts either a record token ("ra") or a CLI-friendly name
// ("animation", "still", "bake").
func ParseType(value string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RenderAnimation), "animation", "render":
		return RenderAnimation, nil
	case string(RenderStill), "still":
		return RenderStill, nil
	case string(Bake), "bake":
		return Bake, nil
	default:
		return "", fmt.Errorf("unknown task type %q", value)
	}
}

// Valid reports whether t is one of the known task types.
func (t Type) Valid() bool {
	switch t {
	case RenderAnimation, RenderStill, Bake:
		return true
	}
	return false
}

// DisplayName returns the human readable label for the task type.
func (t Type) DisplayName() string {
	switch t {
	case RenderAnimation:
		return "Render Animation"
	case RenderStill:
		return "Render Still"
	case Bake:
		return "Bake Dynamics"
	default:
		return string(t)
	}
}

// Task is a unit of work in the queue.
type Task struct {
	Type    Type          `json:"type"`
	Args    []string      `json:"args"`
	Elapsed time.Duration `json:"elapsed"`
}

// New returns a task with no accumulated run time.
func New(taskType Type, args ...string) Task {
	return Task{Type: taskType, Args: append([]string(nil), args...)}
}

// File returns the first argument, which for every Blender task is the
// .blend file path.
func (t Task) File() string {
	if len(t.Args) == 0 {
		return ""
	}
	return t.Args[0]
}

// WithElapsed returns a copy of t with d added to its run time.
func (t Task) WithElapsed(d time.Duration) Task {
	if d > 0 {
		t.Elapsed += d
	}
	t.Args = append([]string(nil), t.Args...)
	return t
}

// Equal compares type and arguments; elapsed time is ignored.
func (t Task) Equal(other Task) bool {
	if t.Type != other.Type || len(t.Args) != len(other.Args) {
		return false
	}
	for i := range t.Args {
		if t.Args[i] != other.Args[i] {
			return false
		}
	}
	return true
}

// FailedTask is a task that ended with a non-zero exit code or failed to
// launch.
type FailedTask struct {
	Task
	ExitCode int32 `json:"exit_code"`
}

// HistoryKind selects one of the two history files.
type HistoryKind string

const (
	HistoryCompleted HistoryKind = "completed"
	HistoryFailed    HistoryKind = "failed"
)

// ParseHistoryKind accepts the full name or its first letter.
func ParseHistoryKind(value string) (HistoryKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "c", "completed":
		return HistoryCompleted, nil
	case "f", "failed":
		return HistoryFailed, nil
	default:
		return "", fmt.Errorf("unknown history kind %q", value)
	}
}
