// Package lan implements the point-to-point TCP protocol renderq instances
// use to exchange files.
//
// A connecting peer opens with a header line
//
//	"<version>" "<role>"
//
// and the server answers accept or refuse. After acceptance the peer may send
// any number of files, each announced by
//
//	FILE <size>[ "<name>"]
//
// The receiver replies accept or refuse, the sender streams exactly size
// bytes, and the receiver confirms with success or failure. A peer ends the
// session with bye or by closing the connection.
//
// The server handles one connection at a time. Its accept loop wakes every
// poll interval so Close returns within one interval. Transfers have no I/O
// timeout; a stalled peer stalls its session until Close drops it.
package lan
