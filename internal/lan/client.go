package lan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"renderqueue/internal/logging"
	"renderqueue/internal/transferlog"
)

// SendResult summarizes a completed send.
type SendResult struct {
	ID    string
	Name  string
	Bytes int64
}

// Client is one outbound session in the client or worker role.
type Client struct {
	opts   Options
	logger *slog.Logger
	role   Role
	peer   string
	c      *conn

	mu     sync.Mutex
	closed bool
}

// Dial connects to addr and performs the handshake for role.
func Dial(ctx context.Context, addr string, role Role, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if role != RoleClient && role != RoleWorker {
		return nil, fmt.Errorf("cannot dial as %s", role)
	}
	if opts.Version == "" {
		return nil, errors.New("protocol version is empty")
	}
	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	c := newConn(raw)
	stop := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Now()) })
	defer stop()

	if err := c.writeLine(Header{Version: opts.Version, Role: role}.String()); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("send header: %w", err)
	}
	reply, err := c.expect(TokenAccept, TokenRefuse)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	if reply == TokenRefuse {
		_ = raw.Close()
		return nil, fmt.Errorf("%w: handshake with %s (version %q)", ErrRefused, addr, opts.Version)
	}

	peer := raw.RemoteAddr().String()
	logger := logging.NewComponentLogger(opts.Logger, "lan-client").With(
		logging.String(logging.FieldPeer, peer),
		logging.String(logging.FieldRole, string(role)),
	)
	logger.Info("connected")
	return &Client{opts: opts, logger: logger, role: role, peer: peer, c: c}, nil
}

// Peer returns the remote address.
func (cl *Client) Peer() string { return cl.peer }

// Role returns the role the session was opened with.
func (cl *Client) Role() Role { return cl.role }

// SendFile transfers the file at path. A failure after the file was
// announced, other than a refusal, closes the session so the receiver is not
// left waiting for the rest of the body.
func (cl *Client) SendFile(ctx context.Context, path string) (SendResult, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return SendResult{}, ErrNotConnected
	}

	name := filepath.Base(path)
	id := newTransferID()
	rec := cl.opts.begin(transferlog.Record{
		ID:        id,
		Direction: transferlog.DirectionSend,
		Peer:      cl.peer,
		Name:      name,
		Path:      path,
		Size:      fileSize(path),
	})

	stop := context.AfterFunc(ctx, func() { _ = cl.c.SetDeadline(time.Now()) })
	sent, announced, err := sendFile(cl.c, path, name)
	stop()
	if ctx.Err() != nil && err != nil {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	if err != nil && announced && !errors.Is(err, ErrRefused) {
		_ = cl.c.Close()
		cl.closed = true
	}

	result := SendResult{ID: id, Name: name, Bytes: sent}
	switch {
	case err == nil:
		cl.opts.finish(rec, transferlog.StatusSuccess, "", nil)
		cl.logger.Info("file sent",
			logging.String(logging.FieldTransferID, id),
			logging.String("name", name),
			logging.Int64("size", sent),
		)
	case errors.Is(err, ErrRefused):
		cl.opts.finish(rec, transferlog.StatusRefused, "", err)
		logging.WarnWithContext(cl.logger, "file refused by server", "transfer_refused",
			logging.String(logging.FieldTransferID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "file may be too large or the server inbox is full"),
		)
	default:
		cl.opts.finish(rec, transferlog.StatusFailure, "", err)
		logging.WarnWithContext(cl.logger, "file transfer failed", "transfer_failed",
			logging.String(logging.FieldTransferID, id),
			logging.Error(err),
			logging.Bool("session_closed", cl.closed),
		)
	}
	return result, err
}

// Closed reports whether the session was closed, either by Close or after
// a failed transfer.
func (cl *Client) Closed() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.closed
}

// Close says bye and closes the connection.
func (cl *Client) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return nil
	}
	cl.closed = true
	_ = cl.c.writeLine(TokenBye)
	err := cl.c.Close()
	cl.logger.Info("disconnected")
	return err
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
