package lan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// Control tokens.
const (
	TokenAccept  = "accept"
	TokenRefuse  = "refuse"
	TokenSuccess = "success"
	TokenFailure = "failure"
	TokenBye     = "bye"

	fileVerb = "FILE"
)

const (
	// MaxFileSize is the exclusive upper bound on a transferred file.
	MaxFileSize int64 = 10_000_000_000
	// ChunkSize is the streaming block size for file bodies.
	ChunkSize = 64 * 1024
	// lineBufferSize bounds every control line, header included.
	lineBufferSize = 1024
)

// Role is the LAN role a process holds.
type Role string

const (
	RoleNone   Role = "none"
	RoleClient Role = "client"
	RoleServer Role = "server"
	RoleWorker Role = "worker"
)

// Header is the first line a connecting peer sends.
type Header struct {
	Version string
	Role    Role
}

func (h Header) String() string {
	return strconv.Quote(h.Version) + " " + strconv.Quote(string(h.Role))
}

// ParseHeader decodes `"<version>" "<role>"`.
func ParseHeader(line string) (Header, error) {
	rest := strings.TrimSpace(line)
	version, rest, err := unquotePrefix(rest)
	if err != nil {
		return Header{}, fmt.Errorf("%w: header version: %v", ErrProtocol, err)
	}
	role, rest, err := unquotePrefix(strings.TrimLeft(rest, " "))
	if err != nil {
		return Header{}, fmt.Errorf("%w: header role: %v", ErrProtocol, err)
	}
	if strings.TrimSpace(rest) != "" {
		return Header{}, fmt.Errorf("%w: trailing data after header", ErrProtocol)
	}
	return Header{Version: version, Role: Role(role)}, nil
}

// FileMeta announces a file body.
type FileMeta struct {
	Size int64
	Name string
}

func (m FileMeta) String() string {
	line := fileVerb + " " + strconv.FormatInt(m.Size, 10)
	if m.Name != "" {
		line += " " + strconv.Quote(m.Name)
	}
	return line
}

// ParseFileMeta decodes `FILE <size>[ "<name>"]`. Range checks are left to
// ValidateSize.
func ParseFileMeta(line string) (FileMeta, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) < 2 || fields[0] != fileVerb {
		return FileMeta{}, fmt.Errorf("%w: expected %s line, got %q", ErrProtocol, fileVerb, line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return FileMeta{}, fmt.Errorf("%w: file size %q", ErrProtocol, fields[1])
	}
	meta := FileMeta{Size: size}
	if len(fields) == 3 {
		name, rest, err := unquotePrefix(fields[2])
		if err != nil || strings.TrimSpace(rest) != "" {
			return FileMeta{}, fmt.Errorf("%w: file name %q", ErrProtocol, fields[2])
		}
		meta.Name = name
	}
	return meta, nil
}

// ValidateSize enforces 0 < size < MaxFileSize.
func ValidateSize(size int64) error {
	if size <= 0 || size >= MaxFileSize {
		return fmt.Errorf("file size %d outside (0, %d)", size, MaxFileSize)
	}
	return nil
}

func isFileLine(line string) bool {
	return line == fileVerb || strings.HasPrefix(line, fileVerb+" ")
}

// unquotePrefix reads one Go-quoted string from the start of s.
func unquotePrefix(s string) (string, string, error) {
	prefix, err := strconv.QuotedPrefix(s)
	if err != nil {
		return "", s, err
	}
	value, err := strconv.Unquote(prefix)
	if err != nil {
		return "", s, err
	}
	return value, s[len(prefix):], nil
}

// conn is a connection with a bounded line reader. File bodies are read
// through the same buffered reader so bytes buffered after a control line
// are not lost.
type conn struct {
	net.Conn
	r *bufio.Reader
}

func newConn(c net.Conn) *conn {
	return &conn{Conn: c, r: bufio.NewReaderSize(c, lineBufferSize)}
}

func (c *conn) readLine() (string, error) {
	line, err := c.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("%w: line exceeds %d bytes", ErrProtocol, lineBufferSize)
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", fmt.Errorf("%w: unterminated line", ErrProtocol)
		}
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (c *conn) writeLine(line string) error {
	_, err := io.WriteString(c.Conn, line+"\n")
	return err
}

// expect reads a reply and returns it when it is one of allowed.
func (c *conn) expect(allowed ...string) (string, error) {
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	for _, token := range allowed {
		if line == token {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: unexpected reply %q", ErrProtocol, line)
}
