package blender_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"renderqueue/internal/blender"
	"renderqueue/internal/executor"
	"renderqueue/internal/taskfile"
	"renderqueue/internal/testsupport"
)

func TestCommandLineByTaskType(t *testing.T) {
	spawner := blender.New("/opt/render.py")
	cases := []struct {
		task taskfile.Task
		want string
	}{
		{taskfile.New(taskfile.RenderAnimation, "shot.blend"), "-b shot.blend -P /opt/render.py -- 1"},
		{taskfile.New(taskfile.RenderStill, "shot.blend"), "-b shot.blend -P /opt/render.py -- 0"},
		{taskfile.New(taskfile.Bake, "sim.blend", "--cache"), "-b sim.blend -P /opt/render.py -- bake --cache"},
	}
	for _, tc := range cases {
		args, err := spawner.Command(tc.task)
		if err != nil {
			t.Fatalf("Command(%s): %v", tc.task.Type, err)
		}
		if got := strings.Join(args, " "); got != tc.want {
			t.Fatalf("Command(%s) = %q, want %q", tc.task.Type, got, tc.want)
		}
	}
}

func TestLaunchRejectsInvalidBlendFiles(t *testing.T) {
	dir := t.TempDir()
	notBlend := testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), 10)
	folder := filepath.Join(dir, "folder.blend")
	if err := os.Mkdir(folder, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	spawner := blender.New("render.py", blender.WithBinary("/nonexistent/blender"))

	for _, path := range []string{"", filepath.Join(dir, "missing.blend"), notBlend, folder} {
		_, err := spawner.Launch(taskfile.New(taskfile.RenderStill, path))
		if !errors.Is(err, executor.ErrLaunch) {
			t.Fatalf("Launch(%q): expected ErrLaunch, got %v", path, err)
		}
	}
}

func TestLaunchMissingBinaryIsLaunchError(t *testing.T) {
	blend := testsupport.WriteBlend(t, t.TempDir(), "scene.blend")
	spawner := blender.New("render.py", blender.WithBinary(filepath.Join(t.TempDir(), "no-blender")))
	if _, err := spawner.Launch(taskfile.New(taskfile.RenderStill, blend)); !errors.Is(err, executor.ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
}

func TestLaunchReportsExitCodeAndOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	binary := testsupport.WriteScript(t, cfg, "blender", `echo "$@"; exit 3`)
	blend := testsupport.WriteBlend(t, cfg.Paths.DataDir, "scene.blend")
	outDir := filepath.Join(cfg.Paths.LogDir, "blender")

	spawner := blender.New("/tmp/render.py", blender.WithBinary(binary), blender.WithOutputDir(outDir))
	proc, err := spawner.Launch(taskfile.New(taskfile.RenderAnimation, blend))
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if code := proc.Wait(); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one output log, got %v (%v)", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "-b " + blend + " -P /tmp/render.py -- 1"
	if !strings.Contains(string(data), want) {
		t.Fatalf("expected %q in output, got %q", want, data)
	}
}

func TestKillReportsNegativeSignal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	binary := testsupport.WriteScript(t, cfg, "blender", "exec sleep 30")
	blend := testsupport.WriteBlend(t, cfg.Paths.DataDir, "long.blend")

	proc, err := blender.New("render.py", blender.WithBinary(binary)).Launch(taskfile.New(taskfile.Bake, blend))
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	result := make(chan int32, 1)
	go func() { result <- proc.Wait() }()

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case code := <-result:
		if code != -9 {
			t.Fatalf("expected -9 after SIGKILL, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
}

func TestEnsureScript(t *testing.T) {
	dir := t.TempDir()
	path, err := blender.EnsureScript(dir, "")
	if err != nil {
		t.Fatalf("EnsureScript: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if !strings.Contains(string(data), "bake_all") {
		t.Fatalf("unexpected script contents: %q", data)
	}

	custom := testsupport.WriteFile(t, filepath.Join(dir, "custom.py"), 8)
	got, err := blender.EnsureScript(dir, custom)
	if err != nil || got != custom {
		t.Fatalf("expected override %q, got %q (%v)", custom, got, err)
	}
	if _, err := blender.EnsureScript(dir, filepath.Join(dir, "missing.py")); err == nil {
		t.Fatal("expected error for missing override")
	}
}
