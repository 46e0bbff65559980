// Package daemonctl launches, stops and inspects the renderq daemon from the
// CLI side of the IPC socket.
package daemonctl
