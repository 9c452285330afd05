package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const sqlitePollInterval = time.Second

// SQLiteStore keeps the key-value map in a single kv table. External
// changes are detected by polling PRAGMA data_version on a dedicated
// connection. The pragma moves whenever any other connection commits,
// including this store's own pool connections, so every own commit
// resynchronizes the poller's baseline under pollMu before the next tick
// can observe it. The poller cannot tell which key changed, so it emits a
// store-wide Event (empty key).
type SQLiteStore struct {
	db    *sql.DB
	quota int64
	log   *slog.Logger

	pollMu   sync.Mutex
	pollConn *sql.Conn
	lastVer  int64
	verOK    bool

	subs subscribers
	done chan struct{}
}

// NewSQLiteStore opens the database at path, runs migrations and starts
// the change poller. quota bounds the total stored bytes (keys plus
// values); quota <= 0 means unlimited.
func NewSQLiteStore(path string, quota int64, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// WAL lets a reading context observe a writing one without blocking.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Warn("failed to enable WAL mode for SQLite, continuing without it", "error", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate storage schema: %w", err)
	}

	s := &SQLiteStore{db: db, quota: quota, log: log, done: make(chan struct{})}

	// data_version is connection-scoped; polling through the pool would
	// compare values from different connections.
	conn, err := db.Conn(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reserve polling connection: %w", err)
	}
	s.pollConn = conn
	s.pollMu.Lock()
	s.resyncLocked()
	s.pollMu.Unlock()
	go s.poll()
	return s, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.quota > 0 {
		var used int64
		row := tx.QueryRow("SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv WHERE key <> ?", key)
		if err := row.Scan(&used); err != nil {
			return err
		}
		if used+int64(len(key)+len(value)) > s.quota {
			return ErrQuotaExceeded
		}
	}

	_, err = tx.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("could not store value: %w", err)
	}
	return s.commitSilently(tx.Commit)
}

func (s *SQLiteStore) Delete(key string) error {
	return s.commitSilently(func() error {
		_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
		return err
	})
}

// commitSilently runs an own write and advances the poller's baseline
// past it in the same critical section, so the next tick cannot mistake
// it for another context's commit.
func (s *SQLiteStore) commitSilently(commit func() error) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if err := commit(); err != nil {
		return err
	}
	s.resyncLocked()
	return nil
}

// resyncLocked re-reads data_version as the comparison baseline. Callers
// hold pollMu.
func (s *SQLiteStore) resyncLocked() {
	if s.pollConn == nil {
		return
	}
	if v, ok := s.dataVersion(); ok {
		s.lastVer, s.verOK = v, true
	}
}

func (s *SQLiteStore) Subscribe(fn func(Event)) func() {
	return s.subs.add(fn)
}

func (s *SQLiteStore) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	if s.pollConn != nil {
		_ = s.pollConn.Close()
	}
	return s.db.Close()
}

func (s *SQLiteStore) poll() {
	ticker := time.NewTicker(sqlitePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.pollMu.Lock()
			current, curOK := s.dataVersion()
			if !curOK {
				s.pollMu.Unlock()
				continue
			}
			changed := s.verOK && current != s.lastVer
			s.lastVer, s.verOK = current, true
			s.pollMu.Unlock()
			if changed {
				s.subs.notify(Event{External: true})
			}
		}
	}
}

// dataVersion reads the pragma on the reserved connection. Callers hold
// pollMu.
func (s *SQLiteStore) dataVersion() (int64, bool) {
	var v int64
	err := s.pollConn.QueryRowContext(context.Background(), "PRAGMA data_version").Scan(&v)
	if err != nil {
		return 0, false
	}
	return v, true
}
