// Package daemon coordinates the long-running renderq process.
//
// It wires configuration, the task store, the control channel, the executor
// and the LAN node into a single lifecycle with flock-based locking to
// prevent multiple instances. The daemon exposes the queue operations the
// CLI drives over IPC, serves a read-only HTTP status API with Prometheus
// metrics, and forwards quit requests to the process that owns it.
//
// Keep orchestration logic here: task execution lives in executor and the
// wire protocol in lan, while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
