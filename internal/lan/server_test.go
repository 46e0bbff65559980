package lan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"renderqueue/internal/testsupport"
	"renderqueue/internal/transferlog"
)

func startServer(t *testing.T, mutate func(*Options)) (*Server, Options) {
	t.Helper()
	opts := Options{
		Version:      "v1",
		InboxDir:     filepath.Join(t.TempDir(), "inbox"),
		PollInterval: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	server, err := Start("127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, opts
}

func dial(t *testing.T, server *Server, version string) (*Client, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Dial(ctx, server.Addr().String(), RoleClient, Options{Version: version})
}

// rawPeer speaks the wire protocol directly.
type rawPeer struct {
	t    *testing.T
	conn *net.TCPConn
	r    *bufio.Reader
}

func newRawPeer(t *testing.T, server *Server) *rawPeer {
	t.Helper()
	conn, err := net.DialTCP("tcp", nil, server.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return &rawPeer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (p *rawPeer) send(data string) {
	p.t.Helper()
	if _, err := p.conn.Write([]byte(data)); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *rawPeer) expect(want string) {
	p.t.Helper()
	line, err := p.r.ReadString('\n')
	if err != nil {
		p.t.Fatalf("read reply (want %q): %v", want, err)
	}
	if got := strings.TrimSpace(line); got != want {
		p.t.Fatalf("unexpected reply: got %q want %q", got, want)
	}
}

// expectClosed asserts the server closed the connection.
func (p *rawPeer) expectClosed() {
	p.t.Helper()
	line, err := p.r.ReadString('\n')
	if !errors.Is(err, io.EOF) {
		p.t.Fatalf("expected connection closed, got %q (err=%v)", line, err)
	}
}

func inboxFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read inbox: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestHandshakeVersionMismatchKeepsServerAvailable(t *testing.T) {
	server, _ := startServer(t, nil)

	first, err := dial(t, server, "v1")
	if err != nil {
		t.Fatalf("v1 handshake: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := dial(t, server, "v2"); !errors.Is(err, ErrRefused) {
		t.Fatalf("expected ErrRefused for v2, got %v", err)
	}

	again, err := dial(t, server, "v1")
	if err != nil {
		t.Fatalf("server should accept after refusing a peer: %v", err)
	}
	_ = again.Close()
}

func TestHandshakeRefusesUnknownRoleAndMalformedHeader(t *testing.T) {
	server, _ := startServer(t, nil)

	peer := newRawPeer(t, server)
	peer.send(`"v1" "server"` + "\n")
	peer.expect(TokenRefuse)

	peer = newRawPeer(t, server)
	peer.send("hello there\n")
	peer.expect(TokenRefuse)
}

func TestSendFileSuccess(t *testing.T) {
	server, opts := startServer(t, nil)
	src := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "frame.exr"), 1024)

	client, err := dial(t, server, "v1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	result, err := client.SendFile(context.Background(), src)
	if err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if result.Bytes != 1024 || result.Name != "frame.exr" {
		t.Fatalf("unexpected result: %+v", result)
	}

	got, err := os.ReadFile(filepath.Join(opts.InboxDir, "frame.exr"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if !bytes.Equal(got, testsupport.Pattern(1024)) {
		t.Fatal("received bytes differ from source")
	}

	// The session stays usable; a second file with the same name is kept.
	if _, err := client.SendFile(context.Background(), src); err != nil {
		t.Fatalf("second SendFile: %v", err)
	}
	if names := inboxFiles(t, opts.InboxDir); len(names) != 2 {
		t.Fatalf("expected two files in inbox, got %v", names)
	}
}

func TestLargeFileStreamsInChunks(t *testing.T) {
	server, opts := startServer(t, nil)
	size := 3*ChunkSize + 17
	src := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "cache.bin"), size)

	client, err := dial(t, server, "v1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	if _, err := client.SendFile(context.Background(), src); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	info, err := os.Stat(filepath.Join(opts.InboxDir, "cache.bin"))
	if err != nil || info.Size() != int64(size) {
		t.Fatalf("unexpected received file: %v %v", info, err)
	}
}

func TestConnectionDropMidTransferReportsFailure(t *testing.T) {
	server, opts := startServer(t, nil)
	peer := newRawPeer(t, server)
	peer.send(`"v1" "client"` + "\n")
	peer.expect(TokenAccept)
	peer.send("FILE 1024\n")
	peer.expect(TokenAccept)
	peer.send(string(testsupport.Pattern(500)))
	if err := peer.conn.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}
	peer.expect(TokenFailure)

	if names := inboxFiles(t, opts.InboxDir); len(names) != 0 {
		t.Fatalf("partial file must be removed, inbox has %v", names)
	}
}

func TestOutOfRangeSizeAbortsSession(t *testing.T) {
	server, _ := startServer(t, nil)
	for _, line := range []string{"FILE 0", "FILE -5", "FILE 10000000000"} {
		peer := newRawPeer(t, server)
		peer.send(`"v1" "worker"` + "\n")
		peer.expect(TokenAccept)
		peer.send(line + "\n")
		peer.expect(TokenRefuse)
		peer.expectClosed()
	}

	// The server keeps serving other peers afterwards.
	peer := newRawPeer(t, server)
	peer.send(`"v1" "client"` + "\n")
	peer.expect(TokenAccept)
	peer.send("FILE 3\n")
	peer.expect(TokenAccept)
	peer.send("abc")
	peer.expect(TokenSuccess)
	peer.send(TokenBye + "\n")
}

func TestInsufficientSpaceKeepsSessionOpen(t *testing.T) {
	server, _ := startServer(t, func(o *Options) {
		o.FreeSpace = func(string) (uint64, error) { return 100, nil }
	})
	peer := newRawPeer(t, server)
	peer.send(`"v1" "client"` + "\n")
	peer.expect(TokenAccept)
	peer.send("FILE 1024\n")
	peer.expect(TokenRefuse)
	peer.send("FILE 3\n")
	peer.expect(TokenAccept)
	peer.send("abc")
	peer.expect(TokenSuccess)
	peer.send(TokenBye + "\n")
}

func TestInsufficientSpaceIsRefused(t *testing.T) {
	server, _ := startServer(t, func(o *Options) {
		o.FreeSpace = func(string) (uint64, error) { return 100, nil }
	})
	src := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "big.blend"), 1024)

	client, err := dial(t, server, "v1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	if _, err := client.SendFile(context.Background(), src); !errors.Is(err, ErrRefused) {
		t.Fatalf("expected ErrRefused, got %v", err)
	}
}

func TestTransfersAreRecordedInLedger(t *testing.T) {
	ledger, err := transferlog.OpenPath(filepath.Join(t.TempDir(), "transfers.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer ledger.Close()

	received := make(chan ReceivedFile, 1)
	server, _ := startServer(t, func(o *Options) {
		o.Ledger = ledger
		o.OnReceive = func(f ReceivedFile) { received <- f }
	})
	src := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "scene.blend"), 64)

	ctx := context.Background()
	client, err := Dial(ctx, server.Addr().String(), RoleClient, Options{Version: "v1", Ledger: ledger})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := client.SendFile(ctx, src); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	_ = client.Close()

	select {
	case f := <-received:
		if f.Size != 64 || filepath.Base(f.Path) != "scene.blend" {
			t.Fatalf("unexpected received file: %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnReceive not called")
	}

	records, err := ledger.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected send and receive records, got %+v", records)
	}
	for _, rec := range records {
		if rec.Status != transferlog.StatusSuccess || rec.Size != 64 {
			t.Fatalf("unexpected record: %+v", rec)
		}
	}
}

func TestCloseReturnsWithinPollInterval(t *testing.T) {
	server, _ := startServer(t, nil)
	start := time.Now()
	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Close took %s", elapsed)
	}
	if _, err := net.DialTimeout("tcp", server.Addr().String(), 200*time.Millisecond); err == nil {
		t.Fatal("expected listener closed")
	}
}

func TestNodeRoleExclusivity(t *testing.T) {
	server, _ := startServer(t, nil)
	node := NewNode("127.0.0.1", Options{
		Version:      "v1",
		InboxDir:     filepath.Join(t.TempDir(), "inbox"),
		PollInterval: 20 * time.Millisecond,
	})

	if status := node.Status(); status.Role != RoleNone {
		t.Fatalf("expected none role, got %s", status.Role)
	}
	if _, err := node.SendFile(context.Background(), "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	addr, err := node.Serve(0)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if status := node.Status(); status.Role != RoleServer || status.Address != addr {
		t.Fatalf("unexpected status: %+v", status)
	}
	if _, err := node.Serve(0); !errors.Is(err, ErrRoleActive) {
		t.Fatalf("expected ErrRoleActive, got %v", err)
	}
	if err := node.Connect(context.Background(), server.Addr().String()); !errors.Is(err, ErrRoleActive) {
		t.Fatalf("expected ErrRoleActive, got %v", err)
	}
	if err := node.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if err := node.ConnectWorker(context.Background(), server.Addr().String()); err != nil {
		t.Fatalf("ConnectWorker: %v", err)
	}
	if status := node.Status(); status.Role != RoleWorker || status.Peer == "" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if err := node.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if status := node.Status(); status.Role != RoleNone {
		t.Fatalf("expected none role after disconnect, got %s", status.Role)
	}
}

// scriptedReceiver accepts one connection, answers the handshake and, when
// fileReply is set, the FILE line followed by fileReply without reading the
// body. released is closed once the sender closes the connection.
func scriptedReceiver(t *testing.T, fileReply string) (addr string, released <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	done := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, _ = r.ReadString('\n')
		if fileReply == "" {
			_, _ = io.Copy(io.Discard, r)
			close(done)
			return
		}
		_, _ = conn.Write([]byte(TokenAccept + "\n"))
		_, _ = r.ReadString('\n')
		_, _ = conn.Write([]byte(TokenAccept + "\n" + fileReply + "\n"))
		_, _ = io.Copy(io.Discard, r)
		close(done)
	}()
	return ln.Addr().String(), done
}

func statusWithin(t *testing.T, node *Node, limit time.Duration) Status {
	t.Helper()
	ch := make(chan Status, 1)
	go func() { ch <- node.Status() }()
	select {
	case status := <-ch:
		return status
	case <-time.After(limit):
		t.Fatalf("Status blocked for more than %s", limit)
		return Status{}
	}
}

func TestFailedTransferClosesSessionAndClearsRole(t *testing.T) {
	addr, released := scriptedReceiver(t, TokenFailure)
	node := NewNode("127.0.0.1", Options{Version: "v1", InboxDir: t.TempDir()})
	if err := node.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	src := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "scene.blend"), 64)

	if _, err := node.SendFile(context.Background(), src); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("sender kept the broken session open")
	}
	if status := node.Status(); status.Role != RoleNone {
		t.Fatalf("expected none role after a broken transfer, got %+v", status)
	}
	if _, err := node.SendFile(context.Background(), src); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := node.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}

func TestRefusedFileKeepsClientSession(t *testing.T) {
	server, _ := startServer(t, func(o *Options) {
		o.FreeSpace = func(string) (uint64, error) { return 100, nil }
	})
	node := NewNode("127.0.0.1", Options{Version: "v1", InboxDir: t.TempDir()})
	if err := node.Connect(context.Background(), server.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer node.Disconnect()

	big := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "big.blend"), 1024)
	if _, err := node.SendFile(context.Background(), big); !errors.Is(err, ErrRefused) {
		t.Fatalf("expected ErrRefused, got %v", err)
	}
	small := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "small.blend"), 10)
	if _, err := node.SendFile(context.Background(), small); err != nil {
		t.Fatalf("SendFile after refusal: %v", err)
	}
}

func TestStatusDoesNotWaitForPendingConnect(t *testing.T) {
	addr, _ := scriptedReceiver(t, "")
	node := NewNode("127.0.0.1", Options{Version: "v1", InboxDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	connectErr := make(chan error, 1)
	go func() { connectErr <- node.Connect(ctx, addr) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		status := statusWithin(t, node, time.Second)
		if status.Role == RoleClient {
			if status.Peer != addr {
				t.Fatalf("expected pending peer %s, got %+v", addr, status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("role was never reserved")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := node.Serve(0); !errors.Is(err, ErrRoleActive) {
		t.Fatalf("expected ErrRoleActive while connecting, got %v", err)
	}

	cancel()
	select {
	case err := <-connectErr:
		if err == nil {
			t.Fatal("expected cancelled connect to fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return after cancel")
	}
	if status := statusWithin(t, node, time.Second); status.Role != RoleNone {
		t.Fatalf("expected none role after failed connect, got %+v", status)
	}
}
