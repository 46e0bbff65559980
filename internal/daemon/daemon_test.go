package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"renderqueue/internal/config"
	"renderqueue/internal/daemon"
	"renderqueue/internal/executor"
	"renderqueue/internal/lan"
	"renderqueue/internal/logging"
	"renderqueue/internal/metrics"
	"renderqueue/internal/taskfile"
	"renderqueue/internal/testsupport"
	"renderqueue/internal/transferlog"
)

// stubProcess exits immediately with a preset code, or blocks until killed.
type stubProcess struct {
	exit chan int32
	once sync.Once
}

func (p *stubProcess) finish(code int32) { p.once.Do(func() { p.exit <- code }) }
func (p *stubProcess) Kill() error { p.finish(-9); return nil }
func (p *stubProcess) Wait() int32 { return <-p.exit }

type stubSpawner struct {
	mu       sync.Mutex
	exitCode map[string]int32
	launched []string
}

func newStubSpawner() *stubSpawner {
	return &stubSpawner{exitCode: map[string]int32{}}
}

func (s *stubSpawner) Launch(task taskfile.Task) (executor.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launched = append(s.launched, task.File())
	p := &stubProcess{exit: make(chan int32, 1)}
	if code, ok := s.exitCode[task.File()]; ok {
		p.finish(code)
	}
	return p, nil
}

func (s *stubSpawner) launches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.launched...)
}

func newDaemon(t *testing.T, cfg *config.Config, spawner executor.Spawner, opts ...daemon.Option) *daemon.Daemon {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	ledger, err := transferlog.Open(cfg)
	if err != nil {
		t.Fatalf("transferlog.Open: %v", err)
	}
	d, err := daemon.New(cfg, store, ledger, spawner, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, newStubSpawner())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other := newDaemon(t, cfg, newStubSpawner())
	if err := other.Start(ctx); err == nil {
		t.Fatal("expected a second daemon to be refused while the lock is held")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("expected lock to be free after Stop: %v", err)
	}
}

func TestDaemonRunsQueuedTasksIntoHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	spawner := newStubSpawner()
	spawner.exitCode["a.blend"] = 0
	spawner.exitCode["b.blend"] = 1
	d := newDaemon(t, cfg, spawner)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.Enqueue(taskfile.RenderAnimation, []string{"a.blend"}, -1); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	if _, err := d.Enqueue(taskfile.Bake, []string{"b.blend"}, -1); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}

	waitFor(t, "failed history", func() bool {
		failed, err := d.Failed(0)
		return err == nil && len(failed) == 1
	})
	completed, err := d.Completed(0)
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if len(completed) != 1 || completed[0].File() != "a.blend" {
		t.Fatalf("unexpected completed history %+v", completed)
	}
	failed, _ := d.Failed(0)
	if failed[0].File() != "b.blend" || failed[0].ExitCode != 1 {
		t.Fatalf("unexpected failed history %+v", failed)
	}
}

func TestDaemonEnqueueValidates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, newStubSpawner())

	if _, err := d.Enqueue(taskfile.Type("x"), []string{"a.blend"}, -1); err == nil {
		t.Fatal("expected unknown type to be rejected")
	}
	if _, err := d.Enqueue(taskfile.RenderStill, nil, -1); err == nil {
		t.Fatal("expected missing file to be rejected")
	}
	if _, err := d.Enqueue(taskfile.RenderStill, []string{"a.blend", "3"}, -1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pos, err := d.Enqueue(taskfile.RenderStill, []string{"first.blend"}, 0)
	if err != nil || pos != 0 {
		t.Fatalf("expected insert at head, got pos=%d err=%v", pos, err)
	}
	current, tasks, err := d.Queue()
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if current != nil || len(tasks) != 2 || tasks[0].File() != "first.blend" {
		t.Fatalf("unexpected queue current=%v tasks=%+v", current, tasks)
	}

	removed, err := d.Remove(1)
	if err != nil || removed.File() != "a.blend" {
		t.Fatalf("Remove: %+v %v", removed, err)
	}
	if err := d.ClearQueue(); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if _, tasks, _ := d.Queue(); len(tasks) != 0 {
		t.Fatalf("expected empty queue, got %+v", tasks)
	}
}

func TestDaemonSkipRequeuesRunningTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	spawner := newStubSpawner()
	d := newDaemon(t, cfg, spawner)

	if _, err := d.Skip(true, 0); !errors.Is(err, taskfile.ErrNoCurrentTask) {
		t.Fatalf("expected ErrNoCurrentTask when idle, got %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.Enqueue(taskfile.RenderAnimation, []string{"hold.blend"}, -1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "first launch", func() bool {
		return d.Status(context.Background()).Executor.State == executor.StateRunning
	})

	skipped, err := d.Skip(true, 0)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if skipped == nil || skipped.File() != "hold.blend" {
		t.Fatalf("unexpected skipped task %+v", skipped)
	}

	waitFor(t, "relaunch", func() bool { return len(spawner.launches()) == 2 })
	completed, _ := d.Completed(0)
	failed, _ := d.Failed(0)
	if len(completed) != 0 || len(failed) != 0 {
		t.Fatalf("skip must not record history, got completed=%v failed=%v", completed, failed)
	}
}

func TestDaemonQuitKeepsCurrentAndNotifies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	quit := make(chan struct{})
	d := newDaemon(t, cfg, newStubSpawner(), daemon.WithQuitHandler(func() { close(quit) }))

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.Enqueue(taskfile.RenderStill, []string{"hold.blend"}, -1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "launch", func() bool {
		return d.Status(context.Background()).Executor.State == executor.StateRunning
	})

	d.Quit()
	select {
	case <-quit:
	case <-time.After(5 * time.Second):
		t.Fatal("quit handler not called")
	}
	d.Stop()

	current, _, err := d.Queue()
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if current == nil || current.File() != "hold.blend" {
		t.Fatalf("expected interrupted task kept as current, got %+v", current)
	}
}

func TestDaemonLANRoleLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, newStubSpawner(), daemon.WithMetrics(metrics.New()))

	addr, err := d.Serve(0)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	status := d.LANStatus()
	if status.Role != lan.RoleServer || status.Address != addr {
		t.Fatalf("unexpected lan status %+v", status)
	}
	if err := d.Connect(context.Background(), addr); !errors.Is(err, lan.ErrRoleActive) {
		t.Fatalf("expected ErrRoleActive, got %v", err)
	}
	if err := d.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if d.LANStatus().Role != lan.RoleNone {
		t.Fatal("expected none role after disconnect")
	}

	transfers, err := d.Transfers(context.Background(), 10)
	if err != nil || len(transfers) != 0 {
		t.Fatalf("expected empty ledger, got %v %v", transfers, err)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recordingNotifier) NotifyTaskCompleted(_ context.Context, task taskfile.Task, _ time.Duration) error {
	return n.add("completed:" + task.File())
}

func (n *recordingNotifier) NotifyTaskFailed(_ context.Context, task taskfile.Task, code int32, _ string) error {
	return n.add(fmt.Sprintf("failed:%s:%d", task.File(), code))
}

func (n *recordingNotifier) NotifyFileReceived(_ context.Context, name, _ string, _ int64) error {
	return n.add("received:" + name)
}

func (n *recordingNotifier) TestNotification(context.Context) error {
	return n.add("test")
}

func TestDaemonNotifiesFinishedTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	spawner := newStubSpawner()
	spawner.exitCode["ok.blend"] = 0
	spawner.exitCode["bad.blend"] = 4
	notifier := &recordingNotifier{}
	d := newDaemon(t, cfg, spawner, daemon.WithNotifier(notifier))

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, file := range []string{"ok.blend", "bad.blend"} {
		if _, err := d.Enqueue(taskfile.RenderAnimation, []string{file}, -1); err != nil {
			t.Fatalf("Enqueue %s: %v", file, err)
		}
	}
	waitFor(t, "two notifications", func() bool {
		return len(notifier.snapshot()) == 2
	})
	if err := d.NotifyTest(context.Background()); err != nil {
		t.Fatalf("NotifyTest: %v", err)
	}

	got := notifier.snapshot()
	sort.Strings(got)
	want := []string{"completed:ok.blend", "failed:bad.blend:4", "test"}
	if len(got) != len(want) {
		t.Fatalf("unexpected notifications %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notification %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
