package taskfile_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"renderqueue/internal/taskfile"
)

func newStore(t *testing.T, limits taskfile.Limits) *taskfile.Store {
	t.Helper()
	store, err := taskfile.OpenDir(filepath.Join(t.TempDir(), "tasks"), limits, nil)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	return store
}

func mustEnqueue(t *testing.T, store *taskfile.Store, file string, index int) {
	t.Helper()
	if _, err := store.Enqueue(taskfile.RenderAnimation, []string{file}, index); err != nil {
		t.Fatalf("Enqueue %s: %v", file, err)
	}
}

func files(tasks []taskfile.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.File())
	}
	return out
}

func TestEnqueueInsertsAtIndex(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	mustEnqueue(t, store, "a.blend", -1)
	mustEnqueue(t, store, "b.blend", -1)
	mustEnqueue(t, store, "front.blend", 0)
	mustEnqueue(t, store, "middle.blend", 2)
	mustEnqueue(t, store, "tail.blend", 99)

	tasks, err := store.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	got := strings.Join(files(tasks), ",")
	want := "front.blend,a.blend,middle.blend,b.blend,tail.blend"
	if got != want {
		t.Fatalf("unexpected order: got %s want %s", got, want)
	}
	if count, _ := store.Count(); count != 5 {
		t.Fatalf("expected count 5, got %d", count)
	}
}

func TestNextTaskIsFIFOAndPrefersCurrent(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	mustEnqueue(t, store, "a.blend", -1)
	mustEnqueue(t, store, "b.blend", -1)

	first, err := store.NextTask()
	if err != nil || first == nil {
		t.Fatalf("NextTask: %v %v", first, err)
	}
	if first.File() != "a.blend" {
		t.Fatalf("expected a.blend first, got %s", first.File())
	}
	if err := store.Promote(*first); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	again, err := store.NextTask()
	if err != nil || again == nil {
		t.Fatalf("NextTask with current: %v %v", again, err)
	}
	if again.File() != "a.blend" {
		t.Fatalf("expected current task returned again, got %s", again.File())
	}
	if count, _ := store.Count(); count != 1 {
		t.Fatalf("queue should be untouched while current exists, count=%d", count)
	}

	if err := store.ClearCurrent(); err != nil {
		t.Fatalf("ClearCurrent: %v", err)
	}
	second, err := store.NextTask()
	if err != nil || second == nil || second.File() != "b.blend" {
		t.Fatalf("expected b.blend, got %v %v", second, err)
	}
	none, err := store.NextTask()
	if err != nil || none != nil {
		t.Fatalf("expected empty store, got %v %v", none, err)
	}
}

func TestCurrentSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tasks")
	store, err := taskfile.OpenDir(dir, taskfile.Limits{}, nil)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	mustEnqueue(t, store, "a.blend", -1)
	mustEnqueue(t, store, "b.blend", -1)
	next, err := store.NextTask()
	if err != nil || next == nil {
		t.Fatalf("NextTask: %v", err)
	}
	if err := store.Promote(next.WithElapsed(90 * time.Second)); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	reopened, err := taskfile.OpenDir(dir, taskfile.Limits{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	recovered, err := reopened.NextTask()
	if err != nil || recovered == nil {
		t.Fatalf("NextTask after reopen: %v %v", recovered, err)
	}
	if recovered.File() != "a.blend" || recovered.Elapsed != 90*time.Second {
		t.Fatalf("unexpected recovered task: %+v", recovered)
	}
	tasks, _ := reopened.Tasks()
	if got := strings.Join(files(tasks), ","); got != "b.blend" {
		t.Fatalf("unexpected queue after recovery: %s", got)
	}
}

func TestRecordCompletedAndFailedClearCurrentOnce(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	a := taskfile.New(taskfile.RenderStill, "a.blend")
	b := taskfile.New(taskfile.Bake, "b.blend")

	if err := store.Promote(a); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if err := store.RecordCompleted(a.WithElapsed(2 * time.Second)); err != nil {
		t.Fatalf("RecordCompleted: %v", err)
	}
	if current, _ := store.Current(); current != nil {
		t.Fatalf("expected current cleared, got %+v", current)
	}

	if err := store.Promote(b); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if err := store.RecordFailed(b, 3); err != nil {
		t.Fatalf("RecordFailed: %v", err)
	}
	if current, _ := store.Current(); current != nil {
		t.Fatalf("expected current cleared, got %+v", current)
	}

	completed, err := store.Completed(0)
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if len(completed) != 1 || !completed[0].Equal(a) || completed[0].Elapsed != 2*time.Second {
		t.Fatalf("unexpected completed history: %+v", completed)
	}
	failed, err := store.Failed(0)
	if err != nil {
		t.Fatalf("Failed: %v", err)
	}
	if len(failed) != 1 || !failed[0].Equal(b) || failed[0].ExitCode != 3 {
		t.Fatalf("unexpected failed history: %+v", failed)
	}
}

func TestHistoryIsNewestFirstAndCapped(t *testing.T) {
	store := newStore(t, taskfile.Limits{MaxCompleted: 3})
	for _, name := range []string{"1", "2", "3", "4"} {
		if err := store.RecordCompleted(taskfile.New(taskfile.RenderStill, name+".blend")); err != nil {
			t.Fatalf("RecordCompleted: %v", err)
		}
	}
	completed, err := store.Completed(0)
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if got := strings.Join(files(completed), ","); got != "4.blend,3.blend,2.blend" {
		t.Fatalf("unexpected history: %s", got)
	}
	recent, _ := store.Completed(1)
	if len(recent) != 1 || recent[0].File() != "4.blend" {
		t.Fatalf("unexpected limited history: %+v", recent)
	}
}

func TestClearHistoryKeepsMostRecent(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	for i, name := range []string{"1", "2", "3", "4", "5"} {
		if err := store.RecordFailed(taskfile.New(taskfile.Bake, name+".blend"), int32(i+1)); err != nil {
			t.Fatalf("RecordFailed: %v", err)
		}
	}
	if err := store.ClearHistory(taskfile.HistoryFailed, 2); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	failed, err := store.Failed(0)
	if err != nil {
		t.Fatalf("Failed: %v", err)
	}
	if len(failed) != 2 || failed[0].File() != "5.blend" || failed[1].File() != "4.blend" {
		t.Fatalf("expected two most recent entries, got %+v", failed)
	}

	if err := store.ClearHistory(taskfile.HistoryFailed, 0); err != nil {
		t.Fatalf("ClearHistory keep=0: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "failed.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected failed.txt removed, stat err=%v", err)
	}
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	content := strings.Join([]string{
		`ra 0 ["a.blend"]`,
		`garbage`,
		`zz 0 ["x.blend"]`,
		`rs notanumber ["y.blend"]`,
		`rs 1.5 ["b.blend","--flag"]`,
		`b 0 [broken`,
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(store.Dir(), "tasklist.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tasks, err := store.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 valid tasks, got %+v", tasks)
	}
	if tasks[1].Type != taskfile.RenderStill || tasks[1].Elapsed != 1500*time.Millisecond || len(tasks[1].Args) != 2 {
		t.Fatalf("unexpected parsed task: %+v", tasks[1])
	}
}

func TestRecordFormatOnDisk(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	task := taskfile.New(taskfile.RenderAnimation, "shot 01.blend")
	if err := store.RecordFailed(task.WithElapsed(1500*time.Millisecond), -9); err != nil {
		t.Fatalf("RecordFailed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.Dir(), "failed.txt"))
	if err != nil {
		t.Fatalf("read failed.txt: %v", err)
	}
	if got := string(data); got != "-9 ra 1.5 [\"shot 01.blend\"]\n" {
		t.Fatalf("unexpected record: %q", got)
	}
}

func TestRemoveAndClearQueue(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	mustEnqueue(t, store, "a.blend", -1)
	mustEnqueue(t, store, "b.blend", -1)
	mustEnqueue(t, store, "c.blend", -1)

	removed, err := store.Remove(1)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.File() != "b.blend" {
		t.Fatalf("removed wrong task: %s", removed.File())
	}
	if _, err := store.Remove(5); !errors.Is(err, taskfile.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}

	if err := store.Promote(taskfile.New(taskfile.Bake, "current.blend")); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if err := store.ClearQueue(); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if count, _ := store.Count(); count != 0 {
		t.Fatalf("expected empty queue, got %d", count)
	}
	if current, _ := store.Current(); current == nil || current.File() != "current.blend" {
		t.Fatalf("ClearQueue must not touch the current task, got %+v", current)
	}
}

func TestUpdateCurrentRequiresSlot(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	task := taskfile.New(taskfile.RenderStill, "a.blend")
	if err := store.UpdateCurrent(task); !errors.Is(err, taskfile.ErrNoCurrentTask) {
		t.Fatalf("expected ErrNoCurrentTask, got %v", err)
	}
	if err := store.Promote(task); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if err := store.UpdateCurrent(task.WithElapsed(time.Minute)); err != nil {
		t.Fatalf("UpdateCurrent: %v", err)
	}
	current, _ := store.Current()
	if current == nil || current.Elapsed != time.Minute {
		t.Fatalf("expected elapsed persisted, got %+v", current)
	}
}

func TestParseHelpers(t *testing.T) {
	cases := map[string]taskfile.Type{"ra": taskfile.RenderAnimation, "still": taskfile.RenderStill, "BAKE": taskfile.Bake}
	for input, want := range cases {
		got, err := taskfile.ParseType(input)
		if err != nil || got != want {
			t.Fatalf("ParseType(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := taskfile.ParseType("encode"); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if taskfile.Bake.DisplayName() != "Bake Dynamics" {
		t.Fatalf("unexpected display name %q", taskfile.Bake.DisplayName())
	}
	if kind, err := taskfile.ParseHistoryKind("c"); err != nil || kind != taskfile.HistoryCompleted {
		t.Fatalf("ParseHistoryKind: %q %v", kind, err)
	}
}

func TestFailedTaskThenNextTask(t *testing.T) {
	store := newStore(t, taskfile.Limits{})
	if _, err := store.Enqueue(taskfile.RenderAnimation, []string{"a.blend"}, -1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(taskfile.RenderStill, []string{"b.blend"}, -1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first, err := store.NextTask()
	if err != nil || first == nil || first.Type != taskfile.RenderAnimation {
		t.Fatalf("expected animation task first, got %+v %v", first, err)
	}
	if err := store.Promote(*first); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if err := store.RecordFailed(*first, 1); err != nil {
		t.Fatalf("RecordFailed: %v", err)
	}

	second, err := store.NextTask()
	if err != nil || second == nil || second.Type != taskfile.RenderStill || second.File() != "b.blend" {
		t.Fatalf("expected still task second, got %+v %v", second, err)
	}
	failed, _ := store.Failed(0)
	if len(failed) != 1 || failed[0].ExitCode != 1 || failed[0].File() != "a.blend" {
		t.Fatalf("unexpected failed history: %+v", failed)
	}
}
