// Package storage persists discovered devices and finished measurement
// runs in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Config locates the database.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store is the SQLite-backed persistence layer. It satisfies the
// orchestrator's registry interface.
type Store struct {
	db  *sql.DB
	log logx.Logger

	// macForIP supplies a hardware address during auto-registration;
	// when nil or empty a deterministic placeholder is derived from
	// the IP instead.
	macForIP func(ip string) string
}

// Open creates or opens the database and applies migrations.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// SetMACResolver installs a hardware-address lookup (typically the
// scanner's ARP view) used when auto-registering devices.
func (s *Store) SetMACResolver(fn func(ip string) string) { s.macForIP = fn }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordServerStatus appends a bandwidth-server status snapshot.
func (s *Store) RecordServerStatus(ctx context.Context, running bool, port int, totalTests int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO server_status(timestamp, is_running, port, total_tests_run) VALUES(?,?,?,?)`,
		time.Now().UTC().Format(time.RFC3339Nano), running, port, totalTests,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
