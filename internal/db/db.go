// Package db opens the SQLite file that backs a tradeline workspace.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateDir           = ".tradeline"
	fileName           = "tradeline.db"
	DefaultBusyTimeout = 5 * time.Second
)

// Config locates the database. Path, when set, replaces the workspace default.
type Config struct {
	Workspace   string
	Path        string
	BusyTimeout time.Duration
}

// File returns the database file cfg resolves to.
func (cfg Config) File() string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return Path(cfg.Workspace)
}

func (cfg Config) dsn() string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=journal_mode(WAL)",
	}
	return "file:" + cfg.File() + "?" + strings.Join(pragmas, "&")
}

// EnsureWorkspace creates the workspace state directory and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens and pings the database.
// The pool holds a single connection: every transaction serializes on it, which is what the
// lifecycle's compare-and-swap updates rely on. Callers must not touch the *sql.DB while
// holding a *sql.Tx from it.
func Open(cfg Config) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File()), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout+DefaultBusyTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.File(), err)
	}
	return conn, nil
}

// Path returns the default database file for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, fileName)
}
