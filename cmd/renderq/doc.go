// Command renderq is the command-line front end for the render queue.
//
// Queue commands (render, still, bake, queue, history, clear) talk to a
// running daemon over its unix socket and fall back to editing the task
// records directly when no daemon is listening. Executor and LAN commands
// (skip, quit, server, client, worker, send, disconnect) require the daemon.
package main
