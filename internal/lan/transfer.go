package lan

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"renderqueue/internal/fileutil"
)

// sendFile announces and streams the file at path. It returns the number of
// body bytes written and whether the FILE line went out; after that point
// any error other than a refusal leaves the connection out of step.
func sendFile(c *conn, path, name string) (sent int64, announced bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, false, fmt.Errorf("%s is not a regular file", path)
	}
	size := info.Size()
	if err := ValidateSize(size); err != nil {
		return 0, false, err
	}

	if err := c.writeLine(FileMeta{Size: size, Name: name}.String()); err != nil {
		return 0, true, fmt.Errorf("send file header: %w", err)
	}
	reply, err := c.expect(TokenAccept, TokenRefuse)
	if err != nil {
		return 0, true, err
	}
	if reply == TokenRefuse {
		return 0, true, fmt.Errorf("%w: file %s (%d bytes)", ErrRefused, name, size)
	}

	sent, err = streamChunks(c, file, size)
	if err != nil {
		return sent, true, fmt.Errorf("stream %s: %w", name, err)
	}

	reply, err = c.expect(TokenSuccess, TokenFailure)
	if err != nil {
		return sent, true, err
	}
	if reply == TokenFailure {
		return sent, true, fmt.Errorf("%w: receiver reported failure for %s", ErrTransferFailed, name)
	}
	return sent, true, nil
}

func streamChunks(w io.Writer, r io.Reader, size int64) (int64, error) {
	buf := make([]byte, ChunkSize)
	var sent int64
	for sent < size {
		want := int64(len(buf))
		if remaining := size - sent; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return sent, werr
			}
			sent += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return sent, fmt.Errorf("file shrank to %d of %d bytes", sent, size)
			}
			return sent, err
		}
	}
	return sent, nil
}

// receiveBody copies exactly size bytes into a part file in dir and returns
// its path. A short read removes the part file and returns ErrTransferFailed.
func receiveBody(c *conn, dir, id string, size int64) (string, error) {
	partPath := filepath.Join(dir, "."+id+".part")
	part, err := os.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create part file: %w", err)
	}
	copied, copyErr := io.CopyBuffer(part, io.LimitReader(c.r, size), make([]byte, ChunkSize))
	closeErr := part.Close()
	if copyErr == nil && copied < size {
		copyErr = fmt.Errorf("connection ended after %d of %d bytes", copied, size)
	}
	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = fileutil.RemoveIfExists(partPath)
		return "", fmt.Errorf("%w: %v", ErrTransferFailed, copyErr)
	}
	return partPath, nil
}

// commitPart moves a finished part file to its final inbox name.
func commitPart(partPath, dir, name, id string) (string, error) {
	target := fileutil.UniquePath(filepath.Join(dir, inboxName(name, id)))
	if err := os.Rename(partPath, target); err != nil {
		_ = fileutil.RemoveIfExists(partPath)
		return "", fmt.Errorf("%w: store file: %v", ErrTransferFailed, err)
	}
	return target, nil
}

// inboxName strips any directory part from a peer-supplied name and falls
// back to an id-based name for empty or hidden names.
func inboxName(name, id string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == "/" || base == ".." || strings.HasPrefix(base, ".") {
		return "transfer-" + id
	}
	return base
}

func newTransferID() string { return uuid.NewString() }
