package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/c4g7-dev/netwatch/internal/measure"
)

// Measurement is a persisted measurement row.
type Measurement struct {
	ID                   int64     `json:"id"`
	Timestamp            time.Time `json:"timestamp"`
	DeviceID             int64     `json:"device_id,omitempty"`
	ConnectionType       string    `json:"connection_type,omitempty"`
	DownloadMbps         float64   `json:"download_mbps,omitempty"`
	UploadMbps           float64   `json:"upload_mbps,omitempty"`
	PingIdleMs           float64   `json:"ping_idle_ms,omitempty"`
	PingLoadedMs         float64   `json:"ping_loaded_ms,omitempty"`
	JitterMs             float64   `json:"jitter_ms,omitempty"`
	PacketLossPct        float64   `json:"packet_loss_percent,omitempty"`
	PingDuringDownloadMs float64   `json:"ping_during_download_ms,omitempty"`
	PingDuringUploadMs   float64   `json:"ping_during_upload_ms,omitempty"`
	BufferbloatGrade     string    `json:"bufferbloat_grade,omitempty"`
	GatewayPingMs        float64   `json:"gateway_ping_ms,omitempty"`
	DurationSeconds      float64   `json:"test_duration_seconds,omitempty"`
	BytesTransferred     int64     `json:"bytes_transferred,omitempty"`
	ServerName           string    `json:"server_name,omitempty"`
}

// RecordMeasurement persists one finished run for a device.
func (s *Store) RecordMeasurement(ctx context.Context, deviceID int64, run *measure.TestRun) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	var downloadMbps, uploadMbps float64
	var bytes int64
	if run.Download != nil {
		downloadMbps = run.Download.Mbps
		bytes += run.Download.Bytes
	}
	if run.Upload != nil {
		uploadMbps = run.Upload.Mbps
		bytes += run.Upload.Bytes
	}
	var gatewayMs float64
	if run.GatewayLatency.OK {
		gatewayMs = run.GatewayLatency.AvgMs
	}
	var loadedMs float64
	if run.LoadedPing.OK {
		loadedMs = run.LoadedPing.AvgMs
	}
	raw, _ := json.Marshal(run)

	ts := run.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements(
		    timestamp, device_id, download_mbps, upload_mbps,
		    ping_idle_ms, ping_loaded_ms, jitter_ms, packet_loss_percent,
		    ping_during_download_ms, ping_during_upload_ms, bufferbloat_grade,
		    gateway_ping_ms, test_duration_seconds, bytes_transferred,
		    server_name, raw_json)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ts.Format(time.RFC3339Nano), deviceID, nullFloat(downloadMbps), nullFloat(uploadMbps),
		nullFloat(run.PingIdleMs), nullFloat(loadedMs), nullFloat(run.JitterMs), nullFloat(run.IdleLatency.LossPct),
		nullFloat(run.PingDuringDownloadMs), nullFloat(run.PingDuringUploadMs), nullStr(run.BufferbloatGrade),
		nullFloat(gatewayMs), nullFloat(run.Duration), bytes,
		nullStr(run.ServerName), string(raw),
	)
	return err
}

// ListMeasurements returns up to limit rows, newest first. deviceID 0
// means all devices.
func (s *Store) ListMeasurements(ctx context.Context, deviceID int64, limit int) ([]Measurement, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, COALESCE(device_id,0), COALESCE(connection_type,''),
	                 COALESCE(download_mbps,0), COALESCE(upload_mbps,0),
	                 COALESCE(ping_idle_ms,0), COALESCE(ping_loaded_ms,0),
	                 COALESCE(jitter_ms,0), COALESCE(packet_loss_percent,0),
	                 COALESCE(ping_during_download_ms,0), COALESCE(ping_during_upload_ms,0),
	                 COALESCE(bufferbloat_grade,''), COALESCE(gateway_ping_ms,0),
	                 COALESCE(test_duration_seconds,0), COALESCE(bytes_transferred,0),
	                 COALESCE(server_name,'')
	          FROM measurements`
	args := []any{}
	if deviceID > 0 {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		var ts string
		if err := rows.Scan(&m.ID, &ts, &m.DeviceID, &m.ConnectionType,
			&m.DownloadMbps, &m.UploadMbps,
			&m.PingIdleMs, &m.PingLoadedMs, &m.JitterMs, &m.PacketLossPct,
			&m.PingDuringDownloadMs, &m.PingDuringUploadMs,
			&m.BufferbloatGrade, &m.GatewayPingMs,
			&m.DurationSeconds, &m.BytesTransferred, &m.ServerName); err != nil {
			return nil, err
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Summary aggregates measurements over the trailing window.
type Summary struct {
	Count           int     `json:"count"`
	AvgDownloadMbps float64 `json:"avg_download_mbps"`
	AvgUploadMbps   float64 `json:"avg_upload_mbps"`
	AvgPingMs       float64 `json:"avg_ping_ms"`
	MaxDownloadMbps float64 `json:"max_download_mbps"`
	MaxUploadMbps   float64 `json:"max_upload_mbps"`
}

// Summarize aggregates measurements newer than since.
func (s *Store) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	if s == nil || s.db == nil {
		return Summary{}, ErrClosed
	}
	var out Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(download_mbps),0), COALESCE(AVG(upload_mbps),0),
		        COALESCE(AVG(ping_idle_ms),0),
		        COALESCE(MAX(download_mbps),0), COALESCE(MAX(upload_mbps),0)
		 FROM measurements WHERE timestamp >= ?`,
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&out.Count, &out.AvgDownloadMbps, &out.AvgUploadMbps, &out.AvgPingMs,
		&out.MaxDownloadMbps, &out.MaxUploadMbps)
	return out, err
}
