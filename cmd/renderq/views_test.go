package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"renderqueue/internal/api"
	"renderqueue/internal/deps"
	"renderqueue/internal/executor"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	plain := renderStatusLine("Daemon", statusOK, "Running", false)
	if got != plain && !strings.HasPrefix(got, "\x1b[") {
		t.Fatalf("expected ANSI prefix, got %q", got)
	}
	if !strings.Contains(got, "[OK] Running") {
		t.Fatalf("expected status text, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestDependencyLines(t *testing.T) {
	lines := dependencyLines([]deps.Status{
		{Name: "Blender", Command: "blender", Available: true, Version: "Blender 4.2.0"},
		{Name: "Missing", Command: "nope", Available: false},
		{Name: "Extra", Optional: true, Detail: "not configured"},
	}, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[OK] Ready (Blender 4.2.0)") {
		t.Fatalf("unexpected ready line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] not available") {
		t.Fatalf("unexpected missing line: %q", lines[1])
	}
	if !strings.Contains(lines[2], "[WARN] not configured") {
		t.Fatalf("unexpected optional line: %q", lines[2])
	}
}

func TestCurrentTaskLineShowsLiveElapsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := api.ExecutorStatus{
		State:     string(executor.StateRunning),
		StartedAt: api.FormatTime(now.Add(-90 * time.Second)),
		Current:   &api.TaskView{TypeName: "Render Still", File: "/renders/a.blend", Elapsed: "1m30s"},
	}
	line := currentTaskLine(status, now, false)
	for _, want := range []string{"[OK]", "Render Still /renders/a.blend", "running 1m30s", "started 1 minute ago"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}

	status.State = string(executor.StateStopped)
	line = currentTaskLine(status, now, false)
	if !strings.Contains(line, "[WARN]") || !strings.Contains(line, "interrupted after 1m30s") {
		t.Fatalf("unexpected interrupted line: %q", line)
	}

	line = currentTaskLine(api.ExecutorStatus{State: string(executor.StateIdle)}, now, false)
	if !strings.Contains(line, "None (idle)") {
		t.Fatalf("unexpected idle line: %q", line)
	}
}

func TestBuildFailedRows(t *testing.T) {
	code := int32(3)
	rows := buildFailedRows([]api.TaskView{{
		Index:      0,
		TypeName:   "Bake Dynamics",
		File:       "cloth.blend",
		Elapsed:    "4s",
		ExitCode:   &code,
		ExitDetail: "",
	}})
	want := []string{"0", "Bake Dynamics", "cloth.blend", "4s", "3", ""}
	if strings.Join(rows[0], "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected row: %q", rows[0])
	}
}

func TestBuildTaskRowsShowsExtraArgs(t *testing.T) {
	rows := buildTaskRows([]api.TaskView{{Index: 2, TypeName: "Render Animation", File: "a.blend", Args: []string{"a.blend", "--frames", "1-10"}, Elapsed: "0s"}})
	if rows[0][3] != "--frames 1-10" {
		t.Fatalf("unexpected args column: %q", rows[0][3])
	}
}

func TestTableRenderPadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "only") || !strings.HasSuffix(out, "\n") {
		t.Fatalf("unexpected table: %q", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestRelativeTimeIgnoresEmpty(t *testing.T) {
	if relativeTime("", time.Now()) != "" {
		t.Fatal("expected empty relative time")
	}
}
