// Package api defines wire-format types and converters shared by the IPC
// server, the HTTP API, and the CLI renderers. It translates task, executor,
// LAN and transfer models into transport-friendly DTOs so consumers can render
// them without coupling to internal types.
//
// # Key Types
//
// TaskView: one queued, current or historical task with its display label,
// elapsed time and (for failures) exit code.
//
// DaemonStatus: executor state, queue length, LAN role and dependency health.
//
// TransferView: one row of the transfer ledger.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds and
// are omitted when zero. Elapsed time is exposed both as float seconds and as
// a rounded display string.
package api
