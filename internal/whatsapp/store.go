package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	_ "modernc.org/sqlite"
)

const sessionFile = "session.db"

// Store keeps the device credentials in a SQLite file inside the auth dir.
type Store struct {
	dir       string
	db        *sql.DB
	container *sqlstore.Container
	logger    *slog.Logger
}

// OpenStore opens (creating if needed) the credential database in dir and
// brings its schema up to date.
func OpenStore(ctx context.Context, dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create auth directory %s: %w", dir, err)
	}

	dsn := "file:" + SessionPath(dir) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open credential database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	container := sqlstore.NewWithDB(db, "sqlite3", NewLogger(logger, "store"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("credential schema upgrade failed: %w", err)
	}

	return &Store{dir: dir, db: db, container: container, logger: logger}, nil
}

// SessionPath is the credential database location inside an auth dir.
func SessionPath(dir string) string {
	return filepath.Join(dir, sessionFile)
}

// Device returns the stored device, or a fresh unpaired one.
func (s *Store) Device(ctx context.Context) (*store.Device, error) {
	device, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}

// Wipe closes the database and removes the whole auth directory.
func (s *Store) Wipe() error {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing credential database", "err", err)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove auth directory %s: %w", s.dir, err)
	}
	s.logger.Info("credentials wiped", "dir", s.dir)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
