package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/c4g7-dev/netwatch/internal/orchestrator"
	"github.com/c4g7-dev/netwatch/internal/scan"
	"github.com/c4g7-dev/netwatch/internal/storage"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// handleTestStream starts a run and streams its ordered progress
// events over SSE. A client disconnect does not abort the run;
// persistence happens independently at completion.
func (s *Server) handleTestStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Generous buffer keeps emission order intact; the orchestrator
	// never blocks on a slow client.
	events := make(chan orchestrator.Event, 256)
	sink := orchestrator.MultiSink(
		orchestrator.SinkFunc(func(e orchestrator.Event) {
			select {
			case events <- e:
			default:
			}
			if e.Kind == orchestrator.EventComplete || e.Kind == orchestrator.EventError {
				close(events)
			}
		}),
		s.busSink(),
	)

	if err := s.orch.Start(context.Background(), sink); err != nil {
		if err == orchestrator.ErrTestInProgress {
			writeError(w, http.StatusConflict, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, string(e.Kind), e)
			flusher.Flush()
		}
	}
}

// handleEvents streams the shared bus (run events, scan completions,
// server state changes) to passive listeners.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotFound, "event bus disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, unsub := s.bus.Subscribe(64)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, e.Type, e.Data)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}

// persistScan folds sweep results into the device table.
func (s *Server) persistScan(ctx context.Context, devices []scan.Device) {
	for _, d := range devices {
		rec := storage.Device{
			MAC:            d.MAC,
			IP:             d.IP,
			Hostname:       d.Hostname,
			ConnectionType: string(d.ConnectionType),
			IsLocal:        d.IsLocal,
		}
		if _, err := s.store.UpsertDevice(ctx, rec); err != nil {
			s.log.Warn("device upsert failed", logx.String("ip", d.IP), logx.Err(err))
		}
	}
}
