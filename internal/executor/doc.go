// Package executor runs queued tasks one at a time.
//
// A single loop goroutine owns all state transitions. Each iteration it
// starts the next task when idle, handles at most one control message, and
// blocks on the control channel only when neither happened. A short-lived
// waiter goroutine blocks on the running process and reports its exit code
// back through the channel; it never touches the task store.
package executor
