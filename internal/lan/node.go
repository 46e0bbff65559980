package lan

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Status describes the role a Node currently holds.
type Status struct {
	Role    Role      `json:"role"`
	Address string    `json:"address,omitempty"`
	Peer    string    `json:"peer,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// Node owns the process's LAN role and at most one socket: a listening
// server or one outbound session.
type Node struct {
	bindHost string
	opts     Options

	mu      sync.Mutex
	role    Role
	server  *Server
	client  *Client
	since   time.Time
	dialing string
	attempt uint64
}

// NewNode returns a node in the none role.
func NewNode(bindHost string, opts Options) *Node {
	return &Node{bindHost: bindHost, opts: opts.withDefaults(), role: RoleNone}
}

// Serve enters the server role on port (0 picks a free port) and returns
// the bound address.
func (n *Node) Serve(port int) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != RoleNone {
		return "", fmt.Errorf("%w (current role: %s)", ErrRoleActive, n.role)
	}
	server, err := Start(net.JoinHostPort(n.bindHost, strconv.Itoa(port)), n.opts)
	if err != nil {
		return "", err
	}
	n.role = RoleServer
	n.server = server
	n.since = time.Now()
	return server.Addr().String(), nil
}

// Connect enters the client role against addr.
func (n *Node) Connect(ctx context.Context, addr string) error {
	return n.dial(ctx, addr, RoleClient)
}

// ConnectWorker enters the worker role against addr.
func (n *Node) ConnectWorker(ctx context.Context, addr string) error {
	return n.dial(ctx, addr, RoleWorker)
}

// dial reserves role under the lock and connects outside it, so Status
// stays responsive while the handshake is in flight.
func (n *Node) dial(ctx context.Context, addr string, role Role) error {
	n.mu.Lock()
	if n.role != RoleNone {
		n.mu.Unlock()
		return fmt.Errorf("%w (current role: %s)", ErrRoleActive, n.role)
	}
	n.role = role
	n.dialing = addr
	n.attempt++
	attempt := n.attempt
	n.mu.Unlock()

	client, err := Dial(ctx, addr, role, n.opts)

	n.mu.Lock()
	if n.attempt != attempt {
		n.mu.Unlock()
		if err != nil {
			return err
		}
		_ = client.Close()
		return fmt.Errorf("connect to %s: %w", addr, errDisconnected)
	}
	n.dialing = ""
	if err != nil {
		n.role = RoleNone
		n.mu.Unlock()
		return err
	}
	n.client = client
	n.since = time.Now()
	n.mu.Unlock()
	return nil
}

// SendFile transfers path over the current client or worker session. When
// the transfer closed the session the node drops back to the none role.
func (n *Node) SendFile(ctx context.Context, path string) (SendResult, error) {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()
	if client == nil {
		return SendResult{}, ErrNotConnected
	}
	result, err := client.SendFile(ctx, path)
	if err != nil && client.Closed() {
		n.mu.Lock()
		if n.client == client {
			n.client = nil
			n.role = RoleNone
			n.since = time.Time{}
		}
		n.mu.Unlock()
	}
	return result, err
}

// Disconnect leaves the current role. It is a no-op in the none role.
func (n *Node) Disconnect() error {
	n.mu.Lock()
	server, client := n.server, n.client
	n.server, n.client = nil, nil
	n.role = RoleNone
	n.since = time.Time{}
	n.dialing = ""
	n.attempt++
	n.mu.Unlock()

	if server != nil {
		return server.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// Status reports the current role and endpoint.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	status := Status{Role: n.role, Since: n.since}
	if n.server != nil {
		status.Address = n.server.Addr().String()
	}
	if n.client != nil {
		status.Peer = n.client.Peer()
	} else if n.dialing != "" {
		status.Peer = n.dialing
	}
	return status
}
