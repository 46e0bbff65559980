package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"renderqueue/internal/api"
	"renderqueue/internal/daemon"
	"renderqueue/internal/logging"
	"renderqueue/internal/logs"
	"renderqueue/internal/taskfile"
)

const connectTimeout = 10 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, svc); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Close stops the server, drops open client connections and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = daemon.StatusView(s.daemon.Status(s.ctx))
	return nil
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	taskType, err := taskfile.ParseType(req.Type)
	if err != nil {
		return err
	}
	pos, err := s.daemon.Enqueue(taskType, req.Args, req.Index)
	if err != nil {
		return err
	}
	resp.Position = pos
	return nil
}

func (s *service) Skip(req SkipRequest, resp *SkipResponse) error {
	skipped, err := s.daemon.Skip(req.Requeue, req.Index)
	if err != nil {
		return err
	}
	if skipped != nil {
		view := api.FromTask(0, *skipped)
		resp.Skipped = &view
	}
	return nil
}

func (s *service) Quit(_ QuitRequest, resp *QuitResponse) error {
	s.logger.Info("quit requested via IPC", logging.String(logging.FieldEventType, "ipc_quit"))
	s.daemon.Quit()
	resp.Stopping = true
	return nil
}

func (s *service) QueueList(_ QueueListRequest, resp *QueueListResponse) error {
	current, tasks, err := s.daemon.Queue()
	if err != nil {
		return err
	}
	resp.Items = api.FromTasks(tasks)
	if current != nil {
		view := api.FromTask(0, *current)
		resp.Current = &view
	}
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	task, err := s.daemon.Remove(req.Index)
	if err != nil {
		return err
	}
	resp.Removed = api.FromTask(req.Index, task)
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, _ *QueueClearResponse) error {
	return s.daemon.ClearQueue()
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	kind, err := taskfile.ParseHistoryKind(req.Kind)
	if err != nil {
		return err
	}
	resp.Kind = string(kind)
	if kind == taskfile.HistoryFailed {
		failed, err := s.daemon.Failed(req.Limit)
		if err != nil {
			return err
		}
		resp.Items = api.FromFailedTasks(failed)
		return nil
	}
	tasks, err := s.daemon.Completed(req.Limit)
	if err != nil {
		return err
	}
	resp.Items = api.FromTasks(tasks)
	return nil
}

func (s *service) HistoryClear(req HistoryClearRequest, _ *HistoryClearResponse) error {
	kind, err := taskfile.ParseHistoryKind(req.Kind)
	if err != nil {
		return err
	}
	return s.daemon.ClearHistory(kind, req.Keep)
}

func (s *service) Serve(req ServeRequest, resp *ServeResponse) error {
	addr, err := s.daemon.Serve(req.Port)
	if err != nil {
		return err
	}
	resp.Address = addr
	return nil
}

func (s *service) Connect(req ConnectRequest, resp *ConnectResponse) error {
	ctx, cancel := context.WithTimeout(s.ctx, connectTimeout)
	defer cancel()
	connect := s.daemon.Connect
	if req.Worker {
		connect = s.daemon.ConnectWorker
	}
	if err := connect(ctx, req.Address); err != nil {
		return err
	}
	resp.LAN = api.FromLANStatus(s.daemon.LANStatus())
	return nil
}

func (s *service) Send(req SendRequest, resp *SendResponse) error {
	result, err := s.daemon.SendFile(s.ctx, req.Path)
	if err != nil {
		return err
	}
	resp.ID = result.ID
	resp.Name = result.Name
	resp.Bytes = result.Bytes
	return nil
}

func (s *service) Disconnect(_ DisconnectRequest, _ *DisconnectResponse) error {
	return s.daemon.Disconnect()
}

func (s *service) NotifyTest(_ NotifyTestRequest, _ *NotifyTestResponse) error {
	ctx, cancel := context.WithTimeout(s.ctx, connectTimeout)
	defer cancel()
	return s.daemon.NotifyTest(ctx)
}

func (s *service) Transfers(req TransfersRequest, resp *TransfersResponse) error {
	records, err := s.daemon.Transfers(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Items = api.FromTransfers(records)
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	path := s.daemon.LogPath()
	if req.Blender {
		latest, err := logs.Latest(s.daemon.BlenderLogDir(), "*.log")
		if err != nil {
			return err
		}
		path = latest
	}
	resp.Path = path
	if path == "" {
		return nil
	}

	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, path, logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
