// Package taskfile persists the render queue on disk.
//
// The store keeps four line-oriented files under the configured data
// directory: the pending queue (tasklist.txt), the single current task
// (currenttask.txt), and the completed and failed histories, both
// newest-first. Every record is one line of the form
//
//	<type> <elapsed-seconds> <json-args>
//
// with failed records carrying an extra leading exit code. Files are always
// replaced through a temp-file rename so a reader never observes a partial
// record, and a missing file reads as empty.
//
// All access is serialized by one in-process mutex plus an advisory file
// lock so the CLI and the daemon can share a data directory.
package taskfile
