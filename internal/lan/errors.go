package lan

import "errors"

var (
	// ErrProtocol marks a malformed or unexpected line on the wire.
	ErrProtocol = errors.New("protocol error")
	// ErrVersionMismatch is logged when a peer speaks a different version.
	ErrVersionMismatch = errors.New("protocol version mismatch")
	// ErrRefused is returned when the remote side answered refuse.
	ErrRefused = errors.New("refused by peer")
	// ErrTransferFailed is returned when a transfer ended with failure.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrRoleActive is returned when entering a role while another is held.
	ErrRoleActive = errors.New("a LAN role is already active; disconnect first")
	// ErrNotConnected is returned by operations that need a client session.
	ErrNotConnected = errors.New("not connected as client or worker")

	errDisconnected = errors.New("disconnected while connecting")
)
