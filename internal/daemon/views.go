package daemon

import "renderqueue/internal/api"

// StatusView converts a daemon status into its API representation.
func StatusView(status Status) api.DaemonStatus {
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DataDir:      status.DataDir,
		LockFilePath: status.LockFilePath,
		LogPath:      status.LogPath,
		QueueLength:  status.QueueLength,
		Executor:     api.FromSnapshot(status.Executor),
		LAN:          api.FromLANStatus(status.LAN),
		Dependencies: status.Dependencies,
	}
}
