package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// Device is a persisted network device.
type Device struct {
	ID             int64     `json:"id"`
	MAC            string    `json:"mac_address"`
	IP             string    `json:"ip_address"`
	Hostname       string    `json:"hostname,omitempty"`
	FriendlyName   string    `json:"friendly_name,omitempty"`
	ConnectionType string    `json:"connection_type"`
	IsLocal        bool      `json:"is_local"`
	IsActive       bool      `json:"is_active"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// UpsertDevice inserts or refreshes a device keyed by MAC address and
// returns its id.
func (s *Store) UpsertDevice(ctx context.Context, d Device) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	if d.MAC == "" {
		d.MAC = placeholderMAC(d.IP)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if d.ConnectionType == "" {
		d.ConnectionType = "unknown"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices(mac_address, ip_address, hostname, friendly_name, connection_type, is_local, is_active, first_seen, last_seen)
		 VALUES(?,?,?,?,?,?,1,?,?)
		 ON CONFLICT(mac_address) DO UPDATE SET
		   ip_address=excluded.ip_address,
		   hostname=CASE WHEN excluded.hostname IS NOT NULL THEN excluded.hostname ELSE devices.hostname END,
		   connection_type=excluded.connection_type,
		   is_local=excluded.is_local,
		   is_active=1,
		   last_seen=excluded.last_seen`,
		strings.ToUpper(d.MAC), d.IP, nullStr(d.Hostname), nullStr(d.FriendlyName),
		d.ConnectionType, d.IsLocal, now, now,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM devices WHERE mac_address = ?`, strings.ToUpper(d.MAC)).Scan(&id)
	return id, err
}

// ResolveOrRegister maps an IP address to a device id, creating the
// device when unknown.
//
// IPv6-mapped IPv4 addresses are unwrapped, and loopback addresses
// resolve to the device marked local.
func (s *Store) ResolveOrRegister(ctx context.Context, ip string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	normalized := strings.TrimSpace(ip)
	normalized = strings.TrimPrefix(normalized, "::ffff:")
	if normalized == "" {
		return 0, errors.New("empty address")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if normalized == "127.0.0.1" || normalized == "::1" || normalized == "localhost" {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM devices WHERE is_local = 1 ORDER BY last_seen DESC LIMIT 1`,
		).Scan(&id)
		if err == nil {
			_, _ = s.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE id = ?`, now, id)
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		// No local device yet: register the loopback itself.
		return s.register(ctx, normalized, true)
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM devices WHERE ip_address = ? ORDER BY last_seen DESC LIMIT 1`, normalized,
	).Scan(&id)
	if err == nil {
		_, _ = s.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE id = ?`, now, id)
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return s.register(ctx, normalized, false)
}

func (s *Store) register(ctx context.Context, ip string, isLocal bool) (int64, error) {
	mac := ""
	if s.macForIP != nil {
		mac = s.macForIP(ip)
	}
	if mac == "" {
		mac = placeholderMAC(ip)
		s.log.Warn("no hardware address for device, using placeholder",
			logx.String("ip", ip), logx.String("mac", mac))
	}
	id, err := s.UpsertDevice(ctx, Device{MAC: mac, IP: ip, IsLocal: isLocal})
	if err != nil {
		return 0, err
	}
	s.log.Info("registered device", logx.String("ip", ip), logx.Int64("id", id))
	return id, nil
}

// ListDevices returns all active devices, most recently seen first.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mac_address, ip_address, COALESCE(hostname,''), COALESCE(friendly_name,''),
		        connection_type, is_local, is_active, first_seen, last_seen
		 FROM devices WHERE is_active = 1 ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		var first, last string
		if err := rows.Scan(&d.ID, &d.MAC, &d.IP, &d.Hostname, &d.FriendlyName,
			&d.ConnectionType, &d.IsLocal, &d.IsActive, &first, &last); err != nil {
			return nil, err
		}
		d.FirstSeen, _ = time.Parse(time.RFC3339Nano, first)
		d.LastSeen, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, d)
	}
	return out, rows.Err()
}

// RenameDevice sets a device's friendly name.
func (s *Store) RenameDevice(ctx context.Context, id int64, name string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET friendly_name = ? WHERE id = ?`, nullStr(name), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// placeholderMAC derives a stable fake hardware address from an IP so
// devices without ARP visibility still get a unique registry key.
func placeholderMAC(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	h := hex.EncodeToString(sum[:6])
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}
