package queueaccess

import (
	"context"

	"renderqueue/internal/api"
	"renderqueue/internal/ipc"
	"renderqueue/internal/taskfile"
)

// Access provides queue operations regardless of IPC or direct store backing.
type Access interface {
	Enqueue(ctx context.Context, taskType taskfile.Type, args []string, index int) (int, error)
	List(ctx context.Context) (api.QueueListResponse, error)
	Remove(ctx context.Context, index int) (api.TaskView, error)
	Clear(ctx context.Context) error
	History(ctx context.Context, kind taskfile.HistoryKind, limit int) (api.HistoryResponse, error)
	ClearHistory(ctx context.Context, kind taskfile.HistoryKind, keep int) error
	// Live reports whether a running daemon serves the calls.
	Live() bool
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns an Access backed by the task files directly. Tasks
// queued this way run when the daemon next starts.
func NewStoreAccess(store *taskfile.Store) Access {
	return &storeAccess{store: store}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Live() bool { return true }

func (a *ipcAccess) Enqueue(_ context.Context, taskType taskfile.Type, args []string, index int) (int, error) {
	resp, err := a.client.Enqueue(ipc.EnqueueRequest{Type: string(taskType), Args: args, Index: index})
	if err != nil {
		return 0, err
	}
	return resp.Position, nil
}

func (a *ipcAccess) List(context.Context) (api.QueueListResponse, error) {
	resp, err := a.client.QueueList()
	if err != nil {
		return api.QueueListResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) Remove(_ context.Context, index int) (api.TaskView, error) {
	resp, err := a.client.QueueRemove(index)
	if err != nil {
		return api.TaskView{}, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) Clear(context.Context) error {
	return a.client.QueueClear()
}

func (a *ipcAccess) History(_ context.Context, kind taskfile.HistoryKind, limit int) (api.HistoryResponse, error) {
	resp, err := a.client.History(string(kind), limit)
	if err != nil {
		return api.HistoryResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) ClearHistory(_ context.Context, kind taskfile.HistoryKind, keep int) error {
	return a.client.HistoryClear(string(kind), keep)
}

type storeAccess struct {
	store *taskfile.Store
}

func (a *storeAccess) Live() bool { return false }

func (a *storeAccess) Enqueue(_ context.Context, taskType taskfile.Type, args []string, index int) (int, error) {
	return a.store.Enqueue(taskType, args, index)
}

func (a *storeAccess) List(context.Context) (api.QueueListResponse, error) {
	tasks, err := a.store.Tasks()
	if err != nil {
		return api.QueueListResponse{}, err
	}
	resp := api.QueueListResponse{Items: api.FromTasks(tasks)}
	current, err := a.store.Current()
	if err != nil {
		return api.QueueListResponse{}, err
	}
	if current != nil {
		view := api.FromTask(0, *current)
		resp.Current = &view
	}
	return resp, nil
}

func (a *storeAccess) Remove(_ context.Context, index int) (api.TaskView, error) {
	task, err := a.store.Remove(index)
	if err != nil {
		return api.TaskView{}, err
	}
	return api.FromTask(index, task), nil
}

func (a *storeAccess) Clear(context.Context) error {
	return a.store.ClearQueue()
}

func (a *storeAccess) History(_ context.Context, kind taskfile.HistoryKind, limit int) (api.HistoryResponse, error) {
	resp := api.HistoryResponse{Kind: string(kind)}
	if kind == taskfile.HistoryFailed {
		failed, err := a.store.Failed(limit)
		if err != nil {
			return resp, err
		}
		resp.Items = api.FromFailedTasks(failed)
		return resp, nil
	}
	tasks, err := a.store.Completed(limit)
	if err != nil {
		return resp, err
	}
	resp.Items = api.FromTasks(tasks)
	return resp, nil
}

func (a *storeAccess) ClearHistory(_ context.Context, kind taskfile.HistoryKind, keep int) error {
	return a.store.ClearHistory(kind, keep)
}
