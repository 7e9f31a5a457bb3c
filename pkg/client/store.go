package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store keeps client state that outlives a session: the last display name,
// which transport last worked for each server, and a log of past sessions.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the state database at path.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *Store) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastDisplayName returns the display name used in the previous session, or "".
func (s *Store) GetLastDisplayName() string {
	name, _ := s.GetConfig("last_display_name")
	return name
}

func (s *Store) SetLastDisplayName(name string) error {
	return s.SetConfig("last_display_name", name)
}

// GetLastSuccessfulTransport returns the transport that last reached the Open
// state against serverAddress, or "" without history.
func (s *Store) GetLastSuccessfulTransport(serverAddress string) (string, error) {
	var name string
	err := s.db.QueryRow(`
		SELECT last_successful_transport
		FROM ConnectionHistory
		WHERE server_address = ?
	`, serverAddress).Scan(&name)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// SaveSuccessfulConnection records that transportName authenticated against serverAddress.
func (s *Store) SaveSuccessfulConnection(serverAddress, transportName string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, last_successful_transport, last_success_at)
		VALUES (?, ?, ?)
	`, serverAddress, transportName, time.Now().Unix())
	return err
}

// RecordSessionStart opens a SessionLog row.
func (s *Store) RecordSessionStart(sessionID, serverAddress, transportName, displayName string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO SessionLog (session_id, server_address, transport, display_name, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, serverAddress, transportName, displayName, time.Now().Unix())
	return err
}

// RecordSessionEnd closes the SessionLog row with a short outcome ("bye", "error", ...).
func (s *Store) RecordSessionEnd(sessionID, outcome string) error {
	_, err := s.db.Exec(`
		UPDATE SessionLog SET ended_at = ?, outcome = ? WHERE session_id = ?
	`, time.Now().Unix(), outcome, sessionID)
	return err
}

// SessionRecord is one row of the session log.
type SessionRecord struct {
	SessionID   string
	Server      string
	Transport   string
	DisplayName string
	StartedAt   time.Time
	EndedAt     time.Time // zero while running or after a crash
	Outcome     string
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, server_address, transport, display_name, started_at, ended_at, outcome
		FROM SessionLog
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			r       SessionRecord
			started int64
			ended   sql.NullInt64
			outcome sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &r.Server, &r.Transport, &r.DisplayName, &started, &ended, &outcome); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0)
		if ended.Valid {
			r.EndedAt = time.Unix(ended.Int64, 0)
		}
		r.Outcome = outcome.String
		records = append(records, r)
	}
	return records, rows.Err()
}
