package api

import (
	"fmt"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"renderqueue/internal/executor"
	"renderqueue/internal/lan"
	"renderqueue/internal/taskfile"
	"renderqueue/internal/transferlog"
)

// FromTask converts a task at the given queue or history position.
func FromTask(index int, task taskfile.Task) TaskView {
	args := task.Args
	if args == nil {
		args = []string{}
	}
	return TaskView{
		Index:          index,
		Type:           string(task.Type),
		TypeName:       task.Type.DisplayName(),
		File:           task.File(),
		Args:           append([]string(nil), args...),
		ElapsedSeconds: task.Elapsed.Seconds(),
		Elapsed:        FormatElapsed(task.Elapsed),
	}
}

// FromTasks converts a list, numbering entries from zero.
func FromTasks(tasks []taskfile.Task) []TaskView {
	views := make([]TaskView, 0, len(tasks))
	for i, task := range tasks {
		views = append(views, FromTask(i, task))
	}
	return views
}

// FromFailedTask converts a failed-history entry.
func FromFailedTask(index int, failed taskfile.FailedTask) TaskView {
	view := FromTask(index, failed.Task)
	code := failed.ExitCode
	view.ExitCode = &code
	view.ExitDetail = ExitDetail(code)
	return view
}

// FromFailedTasks converts the failed history.
func FromFailedTasks(failed []taskfile.FailedTask) []TaskView {
	views := make([]TaskView, 0, len(failed))
	for i, item := range failed {
		views = append(views, FromFailedTask(i, item))
	}
	return views
}

// FromSnapshot converts an executor snapshot.
func FromSnapshot(snap executor.Snapshot) ExecutorStatus {
	status := ExecutorStatus{
		State:     string(snap.State),
		StartedAt: FormatTime(snap.StartedAt),
		Launched:  snap.Launched,
	}
	if snap.Current != nil {
		view := FromTask(0, *snap.Current)
		status.Current = &view
	}
	return status
}

// FromLANStatus converts a node status.
func FromLANStatus(status lan.Status) LANStatus {
	return LANStatus{
		Role:    string(status.Role),
		Address: status.Address,
		Peer:    status.Peer,
		Since:   FormatTime(status.Since),
	}
}

// FromTransfer converts a ledger record.
func FromTransfer(rec transferlog.Record) TransferView {
	return TransferView{
		ID:          rec.ID,
		Direction:   string(rec.Direction),
		Peer:        rec.Peer,
		Name:        rec.Name,
		Path:        rec.Path,
		Size:        rec.Size,
		SizeDisplay: humanize.IBytes(uint64(max(rec.Size, 0))),
		Status:      string(rec.Status),
		Error:       rec.Error,
		StartedAt:   FormatTime(rec.StartedAt),
		FinishedAt:  FormatTime(rec.FinishedAt),
	}
}

// FromTransfers converts a list of ledger records.
func FromTransfers(records []transferlog.Record) []TransferView {
	views := make([]TransferView, 0, len(records))
	for _, rec := range records {
		views = append(views, FromTransfer(rec))
	}
	return views
}

// ExitDetail explains exit codes that are not plain program exits.
func ExitDetail(code int32) string {
	switch {
	case code == executor.LaunchFailedExitCode:
		return "launch failed"
	case code < 0:
		return fmt.Sprintf("terminated by signal %d (%s)", -code, syscall.Signal(-code))
	default:
		return ""
	}
}

// FormatElapsed rounds d to whole seconds for display.
func FormatElapsed(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// FormatTime renders t in the API timestamp format, or "" when zero.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses an API timestamp; invalid or empty values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateTimeFormat, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
