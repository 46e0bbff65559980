package lan

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"renderqueue/internal/logging"
	"renderqueue/internal/transferlog"
)

// Server accepts peers and stores the files they send in the inbox.
type Server struct {
	opts     Options
	logger   *slog.Logger
	listener *net.TCPListener

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	active net.Conn
}

// Start listens on addr and runs the accept loop in the background.
func Start(addr string, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if opts.Version == "" {
		return nil, errors.New("protocol version is empty")
	}
	if opts.InboxDir == "" {
		return nil, errors.New("inbox directory is empty")
	}
	if err := os.MkdirAll(opts.InboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("listen on %s: not a TCP listener", addr)
	}
	s := &Server{
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "lan-server"),
		listener: tcp,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.acceptLoop()
	s.logger.Info("server listening",
		logging.String("address", tcp.Addr().String()),
		logging.String("version", opts.Version),
	)
	return s, nil
}

// Addr returns the bound address, including the port chosen for port 0.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Close stops the accept loop and drops any connection in progress. The
// loop notices within one poll interval.
func (s *Server) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		if s.active != nil {
			_ = s.active.Close()
		}
		s.mu.Unlock()
	})
	<-s.done
	return nil
}

func (s *Server) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Server) acceptLoop() {
	defer close(s.done)
	defer s.listener.Close()
	for !s.stopping() {
		_ = s.listener.SetDeadline(time.Now().Add(s.opts.PollInterval))
		raw, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.stopping() {
				return
			}
			logging.WarnWithContext(s.logger, "accept failed", "lan_accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "retrying after one poll interval"),
			)
			select {
			case <-s.stop:
				return
			case <-time.After(s.opts.PollInterval):
			}
			continue
		}
		s.serveConn(raw)
	}
	s.logger.Info("server stopped")
}

func (s *Server) serveConn(raw net.Conn) {
	s.mu.Lock()
	if s.stopping() {
		s.mu.Unlock()
		_ = raw.Close()
		return
	}
	s.active = raw
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		_ = raw.Close()
	}()

	peer := raw.RemoteAddr().String()
	logger := s.logger.With(logging.String(logging.FieldPeer, peer))
	c := newConn(raw)

	header, err := s.handshake(c)
	if err != nil {
		s.opts.Metrics.ProtocolError()
		logging.WarnWithContext(logger, "handshake refused", "lan_handshake_refused",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "peers must run the same network.protocol_version"),
			logging.String(logging.FieldImpact, "connection closed"),
		)
		return
	}
	logger = logger.With(logging.String(logging.FieldRole, string(header.Role)))
	logger.Info("peer connected")

	if err := s.session(c, peer, logger); err != nil {
		if errors.Is(err, ErrProtocol) {
			s.opts.Metrics.ProtocolError()
		}
		logging.WarnWithContext(logger, "session ended with error", "lan_session_error", logging.Error(err))
		return
	}
	logger.Info("peer disconnected")
}

// handshake reads the header and replies accept or refuse.
func (s *Server) handshake(c *conn) (Header, error) {
	line, err := c.readLine()
	if err != nil {
		_ = c.writeLine(TokenRefuse)
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	header, err := ParseHeader(line)
	if err != nil {
		_ = c.writeLine(TokenRefuse)
		return Header{}, err
	}
	if header.Version != s.opts.Version {
		_ = c.writeLine(TokenRefuse)
		return header, fmt.Errorf("%w: peer %q, server %q", ErrVersionMismatch, header.Version, s.opts.Version)
	}
	if header.Role != RoleClient && header.Role != RoleWorker {
		_ = c.writeLine(TokenRefuse)
		return header, fmt.Errorf("%w: unsupported role %q", ErrProtocol, header.Role)
	}
	if err := c.writeLine(TokenAccept); err != nil {
		return header, fmt.Errorf("send accept: %w", err)
	}
	return header, nil
}

// session handles FILE frames until bye or EOF. Client and worker sessions
// share this loop.
func (s *Server) session(c *conn, peer string, logger *slog.Logger) error {
	for {
		line, err := c.readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if s.stopping() {
				return nil
			}
			return err
		}
		switch {
		case line == TokenBye:
			return nil
		case isFileLine(line):
			if err := s.receive(c, line, peer, logger); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected line %q", ErrProtocol, line)
		}
	}
}

// receive handles one FILE frame. A malformed frame, an out-of-range size
// or a broken body ends the session; a free-space refusal keeps it open.
func (s *Server) receive(c *conn, line, peer string, logger *slog.Logger) error {
	meta, err := ParseFileMeta(line)
	if err != nil {
		_ = c.writeLine(TokenRefuse)
		return err
	}
	if err := ValidateSize(meta.Size); err != nil {
		_ = c.writeLine(TokenRefuse)
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	id := newTransferID()
	rec := s.opts.begin(transferlog.Record{
		ID:        id,
		Direction: transferlog.DirectionReceive,
		Peer:      peer,
		Name:      meta.Name,
		Size:      meta.Size,
	})
	attrs := []logging.Attr{
		logging.String(logging.FieldTransferID, id),
		logging.String("name", meta.Name),
		logging.Int64("size", meta.Size),
	}

	if reason := s.admit(meta.Size); reason != nil {
		s.opts.finish(rec, transferlog.StatusRefused, "", reason)
		logging.WarnWithContext(logger, "file refused", "transfer_refused", append(attrs,
			logging.Error(reason),
			logging.String(logging.FieldImpact, "sender notified, session continues"),
		)...)
		return c.writeLine(TokenRefuse)
	}
	if err := c.writeLine(TokenAccept); err != nil {
		s.opts.finish(rec, transferlog.StatusFailure, "", err)
		return err
	}

	partPath, err := receiveBody(c, s.opts.InboxDir, id, meta.Size)
	if err == nil {
		var final string
		final, err = commitPart(partPath, s.opts.InboxDir, meta.Name, id)
		if err == nil {
			s.opts.finish(rec, transferlog.StatusSuccess, final, nil)
			logger.Info("file received", logging.Args(append(attrs, logging.String("path", final))...)...)
			if err := c.writeLine(TokenSuccess); err != nil {
				return err
			}
			if s.opts.OnReceive != nil {
				s.opts.OnReceive(ReceivedFile{ID: id, Name: meta.Name, Path: final, Size: meta.Size, Peer: peer})
			}
			return nil
		}
	}

	s.opts.finish(rec, transferlog.StatusFailure, "", err)
	_ = c.writeLine(TokenFailure)
	return err
}

// admit checks the declared size against the free space in the inbox.
func (s *Server) admit(size int64) error {
	free, err := s.opts.FreeSpace(s.opts.InboxDir)
	if err != nil {
		return fmt.Errorf("check inbox free space: %w", err)
	}
	if uint64(size) > free {
		return fmt.Errorf("inbox has %d bytes free, need %d", free, size)
	}
	return nil
}
