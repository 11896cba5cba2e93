package bwproto

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/c4g7-dev/netwatch/internal/measure"
)

// ClientConfig configures a protocol client.
type ClientConfig struct {
	Host    string
	Port    int           // default 5201
	Timeout time.Duration // per-connection deadline, default 30s
}

// Client drives a bandwidth protocol server. The client's own elapsed
// time is authoritative for throughput; anything the server reports is
// diagnostics only.
type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Port <= 0 {
		cfg.Port = 5201
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = connTimeout
	}
	return &Client{cfg: cfg}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	return conn, nil
}

// Ping issues a PING and returns the round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	start := time.Now()
	if _, err := fmt.Fprint(conn, "PING\n"); err != nil {
		return 0, err
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(line) != "PONG" {
		return 0, fmt.Errorf("unexpected ping reply %q", strings.TrimSpace(line))
	}
	return time.Since(start), nil
}

// Download requests total bytes from the server and measures receive
// throughput. An early connection close before the declared count is
// an error.
func (c *Client) Download(ctx context.Context, total uint64) (measure.BandwidthResult, error) {
	if total == 0 {
		total = DefaultTransferBytes
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return measure.BandwidthResult{}, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "DOWNLOAD %d\n", total); err != nil {
		return measure.BandwidthResult{}, err
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return measure.BandwidthResult{}, fmt.Errorf("read length header: %w", err)
	}
	declared := binary.BigEndian.Uint64(header[:])

	var received uint64
	buf := make([]byte, ChunkSize)
	start := time.Now()
	for received < declared {
		n, err := conn.Read(buf)
		if n > 0 {
			received += uint64(n)
		}
		if err != nil {
			if received < declared {
				return measure.BandwidthResult{}, fmt.Errorf("short download: got %d of %d bytes: %w", received, declared, err)
			}
			break
		}
	}
	elapsed := time.Since(start).Seconds()

	return measure.NewBandwidthResult(int64(received), elapsed), nil
}

// UploadResult carries the client-measured transfer plus the server's
// DONE-line diagnostics.
type UploadResult struct {
	measure.BandwidthResult
	ServerMbps float64
}

// Upload streams total deterministic payload bytes to the server and
// measures send throughput. The server's DONE line is parsed for its
// own speed figure but never overrides the client measurement.
func (c *Client) Upload(ctx context.Context, total uint64) (UploadResult, error) {
	if total == 0 {
		total = DefaultTransferBytes
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "UPLOAD %d\n", total); err != nil {
		return UploadResult{}, err
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return UploadResult{}, fmt.Errorf("wait for READY: %w", err)
	}
	if !strings.Contains(line, "READY") {
		return UploadResult{}, fmt.Errorf("server not ready: %q", strings.TrimSpace(line))
	}

	var sent uint64
	start := time.Now()
	for sent < total {
		chunk := uint64(ChunkSize)
		if rem := total - sent; rem < chunk {
			chunk = rem
		}
		if _, err := conn.Write(payloadChunk[:chunk]); err != nil {
			return UploadResult{}, fmt.Errorf("short upload: sent %d of %d bytes: %w", sent, total, err)
		}
		sent += chunk
	}
	elapsed := time.Since(start).Seconds()

	res := UploadResult{BandwidthResult: measure.NewBandwidthResult(int64(sent), elapsed)}

	done, err := r.ReadString('\n')
	if err == nil {
		res.ServerMbps = parseServerMbps(done)
	}
	return res, nil
}

// Status queries the server's STATUS line.
func (c *Client) Status(ctx context.Context) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := fmt.Fprint(conn, "STATUS\n"); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseServerMbps(done string) float64 {
	const key = "speed_mbps="
	i := strings.Index(done, key)
	if i < 0 {
		return 0
	}
	rest := done[i+len(key):]
	if j := strings.IndexAny(rest, " \r\n"); j >= 0 {
		rest = rest[:j]
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0
	}
	return v
}
