package bwproto

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// startTestServer binds an ephemeral port and registers cleanup.
func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(ServerConfig{BindAddress: "127.0.0.1", Port: 0}, logx.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func clientFor(t *testing.T, srv *Server) *Client {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("split addr %q: %v", srv.Addr(), err)
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	return NewClient(ClientConfig{Host: host, Port: p, Timeout: 5 * time.Second})
}

func TestPingPong(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)
	c := clientFor(t, srv)

	rtt, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("rtt = %v, want > 0", rtt)
	}
}

func TestDownloadExactBytes(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)
	c := clientFor(t, srv)

	const want = 200_000
	res, err := c.Download(context.Background(), want)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if res.Bytes != want {
		t.Fatalf("Bytes = %d, want %d", res.Bytes, want)
	}
	if res.Mbps <= 0 {
		t.Fatalf("Mbps = %v, want > 0", res.Mbps)
	}
	if srv.TestCount() != 1 {
		t.Fatalf("TestCount = %d, want 1", srv.TestCount())
	}
}

// A zero-byte download still carries the 8-byte header and no payload.
func TestDownloadZeroBytes(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := fmt.Fprint(conn, "DOWNLOAD 0\n"); err != nil {
		t.Fatalf("send command: %v", err)
	}

	var header [8]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if got := binary.BigEndian.Uint64(header[:]); got != 0 {
		t.Fatalf("declared length = %d, want 0", got)
	}

	// Nothing may follow the header; the server closes the connection.
	var one [1]byte
	if n, err := conn.Read(one[:]); err != io.EOF {
		t.Fatalf("read after header: n=%d err=%v, want EOF", n, err)
	}
}

func TestUploadRoundTrip(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)
	c := clientFor(t, srv)

	const want = 150_000
	res, err := c.Upload(context.Background(), want)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Bytes != want {
		t.Fatalf("Bytes = %d, want %d", res.Bytes, want)
	}
	if res.ServerMbps <= 0 {
		t.Fatalf("ServerMbps = %v, want > 0 from DONE line", res.ServerMbps)
	}
}

func TestStatusLine(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)
	c := clientFor(t, srv)

	line, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.HasPrefix(line, "OK uptime=") || !strings.Contains(line, "tests=") {
		t.Fatalf("status line = %q", line)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	fmt.Fprint(conn, "FROBNICATE\n")
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.HasPrefix(line, "ERROR:") {
		t.Fatalf("reply = %q, want ERROR prefix", line)
	}
}

func TestInvalidByteCount(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	fmt.Fprint(conn, "DOWNLOAD banana\n")
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.HasPrefix(line, "ERROR:") {
		t.Fatalf("reply = %q, want ERROR prefix", line)
	}
}

func TestStartIdempotentAndAddrInUse(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)

	// Second Start on a running server is a no-op.
	if err := srv.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	// A second server on the same port fails with ErrAddrInUse.
	_, port, _ := net.SplitHostPort(srv.Addr())
	var p int
	fmt.Sscanf(port, "%d", &p)
	other := NewServer(ServerConfig{BindAddress: "127.0.0.1", Port: p}, logx.Nop())
	err := other.Start()
	if err == nil {
		_ = other.Stop()
		t.Fatal("expected bind conflict")
	}
	if !errors.Is(err, ErrAddrInUse) {
		t.Fatalf("err = %v, want ErrAddrInUse", err)
	}
}

func TestStopUnblocksAcceptLoop(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)

	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(3 * acceptPoll):
		t.Fatal("Stop did not return within the poll bound")
	}
	if srv.Running() {
		t.Fatal("server still reports running after Stop")
	}
	if srv.Addr() != "" {
		t.Fatalf("Addr = %q after Stop, want empty", srv.Addr())
	}
}

// Stop never waits on in-flight handlers: a transfer mid-DOWNLOAD must
// not hold the accept loop shutdown past its poll bound, and the
// connection itself survives to finish the transfer.
func TestStopMidDownloadIsBounded(t *testing.T) {
	t.Parallel()
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	const total = 16 << 20
	fmt.Fprintf(conn, "DOWNLOAD %d\n", total)

	// Read the header and the first chunk so the transfer is in flight
	// when Stop lands.
	head := make([]byte, headerSize+ChunkSize)
	if _, err := io.ReadFull(conn, head); err != nil {
		t.Fatalf("read header+chunk: %v", err)
	}
	if got := binary.BigEndian.Uint64(head[:headerSize]); got != total {
		t.Fatalf("header = %d, want %d", got, total)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(3 * acceptPoll):
		t.Fatal("Stop blocked behind an in-flight download")
	}
	if srv.Running() {
		t.Fatal("server still reports running after Stop")
	}

	// The handler keeps its connection: the remaining payload arrives in
	// full and the server closes the socket.
	n, err := io.Copy(io.Discard, conn)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := uint64(len(head)-headerSize) + uint64(n); got != total {
		t.Fatalf("received %d payload bytes, want %d", got, total)
	}
}

func TestParseSizeDefaults(t *testing.T) {
	t.Parallel()
	n, err := parseSize([]string{"DOWNLOAD"})
	if err != nil {
		t.Fatalf("parseSize: %v", err)
	}
	if n != DefaultTransferBytes {
		t.Fatalf("n = %d, want default %d", n, DefaultTransferBytes)
	}
}

func TestParseServerMbps(t *testing.T) {
	t.Parallel()
	if v := parseServerMbps("DONE bytes=100 time=0.010 speed_mbps=80.00\n"); v != 80.0 {
		t.Fatalf("v = %v, want 80.0", v)
	}
	if v := parseServerMbps("DONE bytes=100 time=0.010\n"); v != 0 {
		t.Fatalf("v = %v, want 0 when field missing", v)
	}
}
