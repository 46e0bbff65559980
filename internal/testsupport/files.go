package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Pattern returns size bytes of a deterministic, non-repeating-per-chunk
// pattern so transferred files can be compared byte for byte.
func Pattern(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// WriteFile fills path with size bytes of Pattern and returns the path.
// Parent directories are created as needed.
func WriteFile(t testing.TB, path string, size int) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, Pattern(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteBlend creates a placeholder .blend file under dir.
func WriteBlend(t testing.TB, dir, name string) string {
	t.Helper()
	return WriteFile(t, filepath.Join(dir, name), 64)
}
