package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Enqueue adds a task to the queue.
func (c *Client) Enqueue(req EnqueueRequest) (*EnqueueResponse, error) {
	return call[EnqueueRequest, EnqueueResponse](c, "Enqueue", req)
}

// Skip stops the running task, optionally requeueing it.
func (c *Client) Skip(req SkipRequest) (*SkipResponse, error) {
	return call[SkipRequest, SkipResponse](c, "Skip", req)
}

// Quit stops the executor and asks the daemon to exit.
func (c *Client) Quit() (*QuitResponse, error) {
	return call[QuitRequest, QuitResponse](c, "Quit", QuitRequest{})
}

// QueueList returns the current and pending tasks.
func (c *Client) QueueList() (*QueueListResponse, error) {
	return call[QueueListRequest, QueueListResponse](c, "QueueList", QueueListRequest{})
}

// QueueRemove deletes the pending task at index.
func (c *Client) QueueRemove(index int) (*QueueRemoveResponse, error) {
	return call[QueueRemoveRequest, QueueRemoveResponse](c, "QueueRemove", QueueRemoveRequest{Index: index})
}

// QueueClear removes every pending task.
func (c *Client) QueueClear() error {
	_, err := call[QueueClearRequest, QueueClearResponse](c, "QueueClear", QueueClearRequest{})
	return err
}

// History returns up to limit entries of one history file.
func (c *Client) History(kind string, limit int) (*HistoryResponse, error) {
	return call[HistoryRequest, HistoryResponse](c, "History", HistoryRequest{Kind: kind, Limit: limit})
}

// HistoryClear trims a history file to its keep most recent entries.
func (c *Client) HistoryClear(kind string, keep int) error {
	_, err := call[HistoryClearRequest, HistoryClearResponse](c, "HistoryClear", HistoryClearRequest{Kind: kind, Keep: keep})
	return err
}

// Serve puts the daemon in the LAN server role.
func (c *Client) Serve(port int) (*ServeResponse, error) {
	return call[ServeRequest, ServeResponse](c, "Serve", ServeRequest{Port: port})
}

// Connect puts the daemon in the client or worker role.
func (c *Client) Connect(address string, worker bool) (*ConnectResponse, error) {
	return call[ConnectRequest, ConnectResponse](c, "Connect", ConnectRequest{Address: address, Worker: worker})
}

// Send transfers a file over the daemon's LAN session.
func (c *Client) Send(path string) (*SendResponse, error) {
	return call[SendRequest, SendResponse](c, "Send", SendRequest{Path: path})
}

// Disconnect leaves the daemon's LAN role.
func (c *Client) Disconnect() error {
	_, err := call[DisconnectRequest, DisconnectResponse](c, "Disconnect", DisconnectRequest{})
	return err
}

// NotifyTest asks the daemon to send a test notification.
func (c *Client) NotifyTest() error {
	_, err := call[NotifyTestRequest, NotifyTestResponse](c, "NotifyTest", NotifyTestRequest{})
	return err
}

// Transfers returns recent ledger entries.
func (c *Client) Transfers(limit int) (*TransfersResponse, error) {
	return call[TransfersRequest, TransfersResponse](c, "Transfers", TransfersRequest{Limit: limit})
}

// LogTail returns log lines from the daemon or Blender output.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailRequest, LogTailResponse](c, "LogTail", req)
}
