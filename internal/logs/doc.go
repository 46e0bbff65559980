// Package logs tails the daemon log and per-task Blender output for the CLI.
//
// Tail streams a file with bounded memory, supports a negative offset for
// "last N lines", and waits for new lines in follow mode. Latest picks the
// newest file in a directory so callers can follow the output of the task
// that is running now.
package logs
