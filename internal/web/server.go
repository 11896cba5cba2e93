// Package web exposes the HTTP API: device and measurement queries,
// scan and test triggers, CSV export and the live progress stream.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/c4g7-dev/netwatch/internal/bwproto"
	"github.com/c4g7-dev/netwatch/internal/eventbus"
	"github.com/c4g7-dev/netwatch/internal/orchestrator"
	"github.com/c4g7-dev/netwatch/internal/scan"
	"github.com/c4g7-dev/netwatch/internal/storage"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Enabled     bool
	BindAddress string
	Port        int
}

// Server wires the HTTP API to the measurement subsystems.
type Server struct {
	cfg     Config
	log     logx.Logger
	orch    *orchestrator.Orchestrator
	scanner *scan.Scanner
	store   *storage.Store
	bwsrv   *bwproto.Server
	bus     eventbus.Bus

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server

	scanRunning sync.Mutex
}

func NewServer(cfg Config, orch *orchestrator.Orchestrator, scanner *scan.Scanner, store *storage.Store, bwsrv *bwproto.Server, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		orch:    orch,
		scanner: scanner,
		store:   store,
		bwsrv:   bwsrv,
		bus:     bus,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/devices/scan", s.handleScan)
	mux.HandleFunc("PUT /api/devices/{id}", s.handleRenameDevice)
	mux.HandleFunc("GET /api/measurements", s.handleMeasurements)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("POST /api/test", s.handleStartTest)
	mux.HandleFunc("GET /api/test/stream", s.handleTestStream)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/server/status", s.handleServerStatus)
	mux.HandleFunc("POST /api/server/start", s.handleServerStart)
	mux.HandleFunc("POST /api/server/stop", s.handleServerStop)
	mux.HandleFunc("GET /api/export/csv", s.handleExportCSV)
	mux.HandleFunc("GET /api/export/devices.csv", s.handleExportDevicesCSV)
	return mux
}

// Start begins serving; the bind error is returned synchronously so
// startup failures are visible to the caller.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
		// No WriteTimeout: the SSE stream is long-lived.
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("web server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("web server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if ln != nil {
		_ = ln.Close()
	}
	_ = srv.Shutdown(ctx)
	s.log.Info("web server stopped")
}
