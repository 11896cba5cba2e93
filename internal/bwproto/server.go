// Package bwproto implements the LAN bandwidth wire protocol.
//
// Each connection carries a single ASCII command line terminated by \n:
//
//	PING              -> "PONG\n"
//	DOWNLOAD <bytes>  -> 8-byte big-endian length header, then payload
//	UPLOAD <bytes>    -> "READY\n", absorb payload, then a DONE line
//	STATUS            -> "OK uptime=<s> tests=<n>\n"
//
// Anything else gets "ERROR: <message>\n" and the connection is closed.
package bwproto

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

var (
	// ErrAddrInUse reports a bind failure because the port is taken.
	ErrAddrInUse = errors.New("address already in use")
	// ErrPermission reports a bind failure due to missing privileges.
	ErrPermission = errors.New("permission denied binding port")
)

const (
	connTimeout = 30 * time.Second
	acceptPoll  = 1 * time.Second
	maxLineLen  = 1024
)

// ServerConfig configures the protocol server.
type ServerConfig struct {
	BindAddress string // default "0.0.0.0"
	Port        int    // default 5201; 0 asks the OS for a free port
}

// Server accepts protocol connections, one goroutine per peer.
// Start/Stop are idempotent; Stop unblocks the accept loop within one
// poll interval and never waits on in-flight handlers.
type Server struct {
	cfg ServerConfig
	log logx.Logger

	mu       sync.Mutex
	ln       net.Listener
	running  bool
	started  time.Time
	loopDone chan struct{}

	tests atomic.Uint64
}

func NewServer(cfg ServerConfig, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.BindAddress) == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Port < 0 {
		cfg.Port = 5201
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log}
}

// Addr returns the bound listener address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Running reports whether the accept loop is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Uptime returns how long the server has been accepting, 0 when stopped.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return time.Since(s.started)
}

// TestCount returns the number of completed DOWNLOAD/UPLOAD commands.
func (s *Server) TestCount() uint64 { return s.tests.Load() }

// Start binds the listener and launches the accept loop.
// Bind failures are classified: errors.Is(err, ErrAddrInUse) and
// errors.Is(err, ErrPermission) hold for the respective OS errors.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("bandwidth server already running")
		return nil
	}

	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return classifyBindError(err, s.cfg.Port)
	}

	s.ln = ln
	s.running = true
	s.started = time.Now()
	s.loopDone = make(chan struct{})

	go s.acceptLoop(ln, s.loopDone)
	s.log.Info("bandwidth server started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop closes the listener and waits for the accept loop to exit.
// In-flight handlers keep their connections until their own deadlines.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.ln
	s.ln = nil
	done := s.loopDone
	s.loopDone = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * acceptPoll):
			s.log.Warn("accept loop did not exit within poll bound")
		}
	}
	s.log.Info("bandwidth server stopped")
	return nil
}

func classifyBindError(err error, port int) error {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return fmt.Errorf("port %d: %w", port, ErrAddrInUse)
	case errors.Is(err, syscall.EACCES):
		return fmt.Errorf("port %d: %w", port, ErrPermission)
	default:
		return fmt.Errorf("bind port %d: %w", port, err)
	}
}

func (s *Server) acceptLoop(ln net.Listener, done chan struct{}) {
	defer close(done)

	for {
		// Deadline-bounded accept so Stop() is observed within one poll.
		if tl, ok := ln.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(acceptPoll))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if !s.Running() {
					return
				}
				continue
			}
			if s.Running() {
				s.log.Error("accept failed", logx.Err(err))
			}
			return
		}
		s.log.Debug("connection accepted", logx.String("peer", conn.RemoteAddr().String()))
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	r := bufio.NewReaderSize(conn, ChunkSize)
	line, err := readCommandLine(r)
	if err != nil {
		s.log.Debug("command read failed", logx.String("peer", peer), logx.Err(err))
		return
	}

	parts := strings.Fields(line)
	if len(parts) == 0 {
		fmt.Fprint(conn, "ERROR: empty command\n")
		return
	}

	switch cmd := strings.ToUpper(parts[0]); cmd {
	case "PING":
		fmt.Fprint(conn, "PONG\n")

	case "DOWNLOAD":
		n, err := parseSize(parts)
		if err != nil {
			fmt.Fprintf(conn, "ERROR: %v\n", err)
			return
		}
		if err := s.handleDownload(conn, n); err != nil {
			s.log.Debug("download aborted", logx.String("peer", peer), logx.Err(err))
			return
		}
		s.tests.Add(1)

	case "UPLOAD":
		n, err := parseSize(parts)
		if err != nil {
			fmt.Fprintf(conn, "ERROR: %v\n", err)
			return
		}
		if err := s.handleUpload(conn, r, n); err != nil {
			s.log.Debug("upload aborted", logx.String("peer", peer), logx.Err(err))
			return
		}
		s.tests.Add(1)

	case "STATUS":
		fmt.Fprintf(conn, "OK uptime=%.1f tests=%d\n", s.Uptime().Seconds(), s.tests.Load())

	default:
		fmt.Fprintf(conn, "ERROR: unknown command '%s'\n", cmd)
	}
}

// readCommandLine reads one \n-terminated line, bounded to maxLineLen.
func readCommandLine(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for b.Len() < maxLineLen {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '\n' {
			return strings.TrimSpace(b.String()), nil
		}
		b.WriteByte(c)
	}
	return "", fmt.Errorf("command line exceeds %d bytes", maxLineLen)
}

func parseSize(parts []string) (uint64, error) {
	if len(parts) < 2 {
		return DefaultTransferBytes, nil
	}
	n, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte count %q", parts[1])
	}
	return n, nil
}

// handleDownload streams exactly total payload bytes behind an 8-byte
// big-endian length header. The byte count sent always equals the
// header value.
func (s *Server) handleDownload(conn net.Conn, total uint64) error {
	var header [headerSize]byte
	binary.BigEndian.PutUint64(header[:], total)
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}

	var sent uint64
	for sent < total {
		chunk := uint64(ChunkSize)
		if rem := total - sent; rem < chunk {
			chunk = rem
		}
		if _, err := conn.Write(payloadChunk[:chunk]); err != nil {
			return err
		}
		sent += chunk
	}
	s.log.Debug("download test served", logx.Uint64("bytes", sent))
	return nil
}

// handleUpload absorbs total bytes and reports the server-side timing.
// Bytes the client pipelined behind the command line are already in r
// and count toward the total; timing covers only the payload, never
// the command parse.
func (s *Server) handleUpload(conn net.Conn, r *bufio.Reader, total uint64) error {
	if _, err := fmt.Fprint(conn, "READY\n"); err != nil {
		return err
	}

	var received uint64
	buf := make([]byte, ChunkSize)
	start := time.Now()
	for received < total {
		n, err := r.Read(buf)
		if n > 0 {
			received += uint64(n)
		}
		if err != nil {
			break
		}
	}
	elapsed := time.Since(start).Seconds()

	mbps := 0.0
	if elapsed > 0 {
		mbps = float64(received) * 8 / (elapsed * 1e6)
	}
	_, err := fmt.Fprintf(conn, "DONE bytes=%d time=%.3f speed_mbps=%.2f\n", received, elapsed, mbps)
	s.log.Debug("upload test absorbed",
		logx.Uint64("bytes", received),
		logx.Float64("elapsed_s", elapsed),
		logx.Float64("mbps", mbps),
	)
	return err
}
