package daemonctl_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"renderqueue/internal/daemonctl"
	"renderqueue/internal/taskfile"
	"renderqueue/internal/testsupport"
)

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.Enqueue(taskfile.RenderAnimation, []string{"a.blend"}, -1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(taskfile.Bake, []string{"b.blend"}, -1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	next, err := store.NextTask()
	if err != nil || next == nil {
		t.Fatalf("NextTask: %v %v", next, err)
	}
	if err := store.Promote(*next); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	status, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("expected offline status")
	}
	if status.Executor.State != "stopped" || status.LAN.Role != "none" {
		t.Fatalf("unexpected offline state %+v", status)
	}
	if status.Executor.Current == nil || status.Executor.Current.File != "a.blend" {
		t.Fatalf("expected current task from store, got %+v", status.Executor.Current)
	}
	if status.QueueLength != 1 {
		t.Fatalf("expected one pending task, got %d", status.QueueLength)
	}
	if len(status.Dependencies) != 1 || !status.Dependencies[0].Available {
		t.Fatalf("expected stubbed blender available, got %+v", status.Dependencies)
	}
}

func TestProcessInfoWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	alive, pid, err := daemonctl.ProcessInfo(cfg.SocketPath())
	if err != nil || alive || pid != 0 {
		t.Fatalf("expected no daemon, got alive=%v pid=%d err=%v", alive, pid, err)
	}
	if err := daemonctl.WaitForShutdown(cfg.SocketPath(), time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	if _, err := daemonctl.StopAndTerminate(cfg, time.Second); err != daemonctl.ErrDaemonNotRunning {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.WriteFile(cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(cfg.PIDPath(), 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := daemonctl.ForceKillProcess(cfg.PIDPath()+".missing", 0); err == nil {
		t.Fatal("expected error without a pid")
	}
}
