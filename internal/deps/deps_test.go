package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "fake-blender")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\necho \"Blender 4.2.0\"\necho \"\tbuild date\"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries(context.Background(), []Requirement{
		{Name: "Blender", Command: stub, VersionArgs: []string{"--version"}},
		{Name: "Missing", Command: filepath.Join(dir, "nope"), Optional: true},
		{Name: "Empty", Command: "  "},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Version != "Blender 4.2.0" {
		t.Fatalf("unexpected blender status: %+v", results[0])
	}
	if results[1].Available || !results[1].Optional || results[1].Detail == "" {
		t.Fatalf("unexpected missing status: %+v", results[1])
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected empty status: %+v", results[2])
	}
}
