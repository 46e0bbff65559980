package ipc

import "renderqueue/internal/api"

// serviceName is the RPC receiver name clients call methods on.
const serviceName = "RenderQueue"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon, executor and LAN status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// EnqueueRequest adds a task. Args[0] is the .blend file; a negative Index
// appends.
type EnqueueRequest struct {
	Type  string   `json:"type"`
	Args  []string `json:"args"`
	Index int      `json:"index"`
}

// EnqueueResponse reports where the task landed.
type EnqueueResponse struct {
	Position int `json:"position"`
}

// SkipRequest stops the running task. With Requeue set, it is inserted at
// Index first.
type SkipRequest struct {
	Requeue bool `json:"requeue"`
	Index   int  `json:"index"`
}

// SkipResponse carries the task that was running, if any.
type SkipResponse struct {
	Skipped *api.TaskView `json:"skipped,omitempty"`
}

// QuitRequest stops the executor and the daemon.
type QuitRequest struct{}

// QuitResponse acknowledges a quit request.
type QuitResponse struct {
	Stopping bool `json:"stopping"`
}

// QueueListRequest fetches the current and pending tasks.
type QueueListRequest struct{}

// QueueListResponse mirrors the HTTP queue payload.
type QueueListResponse = api.QueueListResponse

// QueueRemoveRequest deletes the pending task at Index.
type QueueRemoveRequest struct {
	Index int `json:"index"`
}

// QueueRemoveResponse carries the removed task.
type QueueRemoveResponse struct {
	Removed api.TaskView `json:"removed"`
}

// QueueClearRequest removes every pending task.
type QueueClearRequest struct{}

// QueueClearResponse acknowledges a clear.
type QueueClearResponse struct{}

// HistoryRequest fetches up to Limit entries of one history file.
type HistoryRequest struct {
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

// HistoryResponse mirrors the HTTP history payload.
type HistoryResponse = api.HistoryResponse

// HistoryClearRequest trims a history file to its Keep most recent entries.
type HistoryClearRequest struct {
	Kind string `json:"kind"`
	Keep int    `json:"keep"`
}

// HistoryClearResponse acknowledges a history clear.
type HistoryClearResponse struct{}

// ServeRequest puts the daemon in the LAN server role. A negative Port uses
// the configured port.
type ServeRequest struct {
	Port int `json:"port"`
}

// ServeResponse carries the bound address.
type ServeResponse struct {
	Address string `json:"address"`
}

// ConnectRequest puts the daemon in the client or worker role.
type ConnectRequest struct {
	Address string `json:"address"`
	Worker  bool   `json:"worker"`
}

// ConnectResponse reports the resulting LAN status.
type ConnectResponse struct {
	LAN api.LANStatus `json:"lan"`
}

// SendRequest transfers a file over the current LAN session.
type SendRequest struct {
	Path string `json:"path"`
}

// SendResponse describes a completed transfer.
type SendResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// DisconnectRequest leaves the current LAN role.
type DisconnectRequest struct{}

// DisconnectResponse acknowledges a disconnect.
type DisconnectResponse struct{}

// TransfersRequest fetches recent ledger entries.
type TransfersRequest struct {
	Limit int `json:"limit"`
}

// TransfersResponse mirrors the HTTP transfers payload.
type TransfersResponse = api.TransferListResponse

// LogTailRequest reads the daemon log, or the newest Blender output log
// when Blender is set.
type LogTailRequest struct {
	Blender    bool  `json:"blender"`
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse carries log lines and the offset to resume from.
type LogTailResponse struct {
	Path   string   `json:"path"`
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// NotifyTestRequest sends a test notification.
type NotifyTestRequest struct{}

// NotifyTestResponse acknowledges a delivered test notification.
type NotifyTestResponse struct{}
