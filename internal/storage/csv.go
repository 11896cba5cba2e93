package storage

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"timestamp",
	"server",
	"ping_idle_ms",
	"jitter_ms",
	"download_mbps",
	"upload_mbps",
	"ping_during_download_ms",
	"ping_during_upload_ms",
	"gateway_ping_ms",
	"bufferbloat_grade",
	"bytes_transferred",
}

// ExportCSV writes all measurements in the [start, end] window to w,
// oldest first. Zero time bounds mean unbounded.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, start, end time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	query := `SELECT timestamp, COALESCE(server_name,''),
	                 ping_idle_ms, jitter_ms, download_mbps, upload_mbps,
	                 ping_during_download_ms, ping_during_upload_ms,
	                 gateway_ping_ms, COALESCE(bufferbloat_grade,''),
	                 COALESCE(bytes_transferred,0)
	          FROM measurements WHERE 1=1`
	args := []any{}
	if !start.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, start.UTC().Format(time.RFC3339Nano))
	}
	if !end.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, end.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for rows.Next() {
		var ts, server, grade string
		var pingIdle, jitter, dl, ul, pingDL, pingUL, gw *float64
		var bytes int64
		if err := rows.Scan(&ts, &server, &pingIdle, &jitter, &dl, &ul,
			&pingDL, &pingUL, &gw, &grade, &bytes); err != nil {
			return err
		}
		rec := []string{
			ts, server,
			csvFloat(pingIdle), csvFloat(jitter), csvFloat(dl), csvFloat(ul),
			csvFloat(pingDL), csvFloat(pingUL), csvFloat(gw),
			grade, strconv.FormatInt(bytes, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// csvFloat renders NULL as an empty cell rather than 0.
func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

var deviceCSVHeader = []string{
	"mac_address",
	"ip_address",
	"hostname",
	"friendly_name",
	"connection_type",
	"is_local",
	"first_seen",
	"last_seen",
}

// ExportDevicesCSV writes the active device inventory to w.
func (s *Store) ExportDevicesCSV(ctx context.Context, w io.Writer) error {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(deviceCSVHeader); err != nil {
		return err
	}
	for _, d := range devices {
		rec := []string{
			d.MAC, d.IP, d.Hostname, d.FriendlyName, d.ConnectionType,
			strconv.FormatBool(d.IsLocal),
			d.FirstSeen.Format(time.RFC3339),
			d.LastSeen.Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
