package blender

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"renderqueue/internal/fileutil"
)

//go:embed render.py
var renderScript []byte

// ScriptFileName is the name of the extracted driver script.
const ScriptFileName = "render.py"

// EnsureScript returns the script Blender should run. A non-empty override
// must point at an existing file. Otherwise the embedded script is written to
// dir, rewriting it only when the contents differ.
func EnsureScript(dir, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		info, err := os.Stat(override)
		if err != nil {
			return "", fmt.Errorf("blender script: %w", err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("blender script %q is a directory", override)
		}
		return override, nil
	}
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("script directory is empty")
	}
	target := filepath.Join(dir, ScriptFileName)
	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, renderScript) {
		return target, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script directory: %w", err)
	}
	if err := fileutil.WriteFileAtomic(target, renderScript, 0o644); err != nil {
		return "", fmt.Errorf("extract blender script: %w", err)
	}
	return target, nil
}
