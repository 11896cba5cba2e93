package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/c4g7-dev/netwatch/internal/eventbus"
	"github.com/c4g7-dev/netwatch/internal/orchestrator"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"test": s.orch.Status(),
	}
	if s.bwsrv != nil {
		resp["server"] = map[string]any{
			"running":     s.bwsrv.Running(),
			"addr":        s.bwsrv.Addr(),
			"uptime_sec":  s.bwsrv.Uptime().Seconds(),
			"total_tests": s.bwsrv.TestCount(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleScan kicks off a background sweep; results land in the store
// and a scan.complete event announces them.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !s.scanRunning.TryLock() {
		writeError(w, http.StatusConflict, "scan already in progress")
		return
	}
	go func() {
		defer s.scanRunning.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		found := s.scanner.ScanNetwork(ctx)
		s.persistScan(ctx, found)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeScanComplete, Data: len(found)})
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	var body struct {
		FriendlyName string `json:"friendly_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.store.RenameDevice(r.Context(), id, body.FriendlyName); err != nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := strconv.ParseInt(r.URL.Query().Get("device_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ms, err := s.store.ListMeasurements(r.Context(), deviceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"measurements": ms, "count": len(ms)})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if h, err := strconv.Atoi(raw); err == nil && h > 0 {
			window = time.Duration(h) * time.Hour
		}
	}
	sum, err := s.store.Summarize(r.Context(), time.Now().Add(-window))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleStartTest launches a run in the background; progress flows via
// /api/events and /api/test/stream.
func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Start(context.Background(), s.busSink())
	if errors.Is(err, orchestrator.ErrTestInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "test started"})
}

// busSink republishes run events on the bus for passive listeners.
func (s *Server) busSink() orchestrator.Sink {
	if s.bus == nil {
		return nil
	}
	return orchestrator.SinkFunc(func(e orchestrator.Event) {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunEvent, Data: e})
	})
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	if s.bwsrv == nil {
		writeError(w, http.StatusNotFound, "bandwidth server disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":     s.bwsrv.Running(),
		"addr":        s.bwsrv.Addr(),
		"uptime_sec":  s.bwsrv.Uptime().Seconds(),
		"total_tests": s.bwsrv.TestCount(),
	})
}

func (s *Server) handleServerStart(w http.ResponseWriter, r *http.Request) {
	if s.bwsrv == nil {
		writeError(w, http.StatusNotFound, "bandwidth server disabled")
		return
	}
	if err := s.bwsrv.Start(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleServerStop(w http.ResponseWriter, r *http.Request) {
	if s.bwsrv == nil {
		writeError(w, http.StatusNotFound, "bandwidth server disabled")
		return
	}
	if err := s.bwsrv.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	start := parseTimeParam(r.URL.Query().Get("start"))
	end := parseTimeParam(r.URL.Query().Get("end"))

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="measurements.csv"`)
	if err := s.store.ExportCSV(r.Context(), w, start, end); err != nil {
		s.log.Error("csv export failed", logx.Err(err))
	}
}

func (s *Server) handleExportDevicesCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="devices.csv"`)
	if err := s.store.ExportDevicesCSV(r.Context(), w); err != nil {
		s.log.Error("device csv export failed", logx.Err(err))
	}
}

func parseTimeParam(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
