package api

import "renderqueue/internal/deps"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TaskView describes a task in a transport-friendly format.
type TaskView struct {
	Index          int      `json:"index"`
	Type           string   `json:"type"`
	TypeName       string   `json:"typeName"`
	File           string   `json:"file"`
	Args           []string `json:"args"`
	ElapsedSeconds float64  `json:"elapsedSeconds"`
	Elapsed        string   `json:"elapsed"`
	ExitCode       *int32   `json:"exitCode,omitempty"`
	ExitDetail     string   `json:"exitDetail,omitempty"`
}

// ExecutorStatus summarizes the executor.
type ExecutorStatus struct {
	State     string    `json:"state"`
	Current   *TaskView `json:"current,omitempty"`
	StartedAt string    `json:"startedAt,omitempty"`
	Launched  uint64    `json:"launched"`
}

// LANStatus mirrors the node's role.
type LANStatus struct {
	Role    string `json:"role"`
	Address string `json:"address,omitempty"`
	Peer    string `json:"peer,omitempty"`
	Since   string `json:"since,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DataDir      string         `json:"dataDir"`
	LockFilePath string         `json:"lockFilePath"`
	LogPath      string         `json:"logPath,omitempty"`
	QueueLength  int            `json:"queueLength"`
	Executor     ExecutorStatus `json:"executor"`
	LAN          LANStatus      `json:"lan"`
	Dependencies []deps.Status  `json:"dependencies"`
}

// QueueListResponse wraps the pending tasks, current first.
type QueueListResponse struct {
	Current *TaskView  `json:"current,omitempty"`
	Items   []TaskView `json:"items"`
}

// HistoryResponse wraps one history file, most recent first.
type HistoryResponse struct {
	Kind  string     `json:"kind"`
	Items []TaskView `json:"items"`
}

// TransferView describes one ledger row.
type TransferView struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	Peer        string `json:"peer"`
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	Size        int64  `json:"size"`
	SizeDisplay string `json:"sizeDisplay"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	FinishedAt  string `json:"finishedAt,omitempty"`
}

// TransferListResponse wraps recent transfers, newest first.
type TransferListResponse struct {
	Items []TransferView `json:"items"`
}
