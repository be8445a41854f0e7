package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS tool_catalog (
	server TEXT NOT NULL,
	name TEXT NOT NULL,
	payload BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (server, name)
);`

const (
	defaultSQLiteStoreDir = ".agentiq"
	defaultSQLiteStoreDB  = "catalog.db"
)

// SQLiteStore persists tool descriptor snapshots in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultSQLitePath returns the default SQLite path for CLI storage.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("catalog: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultSQLiteStoreDir, defaultSQLiteStoreDB), nil
}

// NewSQLiteStore opens (or creates) a SQLite-backed catalog store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("catalog: sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: sqlite store set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// List returns all records in deterministic (server, name) order.
func (s *SQLiteStore) List(ctx context.Context) ([]ToolRecord, error) {
	return s.list(ctx, `
SELECT payload
FROM tool_catalog
ORDER BY server ASC, name ASC`)
}

// ListServer returns the records for one server source.
func (s *SQLiteStore) ListServer(ctx context.Context, server string) ([]ToolRecord, error) {
	return s.list(ctx, `
SELECT payload
FROM tool_catalog
WHERE server = ?
ORDER BY name ASC`, server)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]ToolRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("catalog: sqlite store is nil")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite list records: %w", err)
	}
	defer rows.Close()

	var records []ToolRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("catalog: sqlite scan record: %w", err)
		}
		record, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: sqlite record rows: %w", err)
	}
	return records, nil
}

// Get returns a record by server source and tool name.
func (s *SQLiteStore) Get(ctx context.Context, server, name string) (ToolRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return ToolRecord{}, false, err
	}
	if s == nil || s.db == nil {
		return ToolRecord{}, false, errors.New("catalog: sqlite store is nil")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT payload
FROM tool_catalog
WHERE server = ? AND name = ?`, server, name)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ToolRecord{}, false, nil
		}
		return ToolRecord{}, false, fmt.Errorf("catalog: sqlite get record: %w", err)
	}

	record, err := decodeRecord(payload)
	if err != nil {
		return ToolRecord{}, false, err
	}
	return record, true, nil
}

// Upsert inserts or updates a record by (server, name).
func (s *SQLiteStore) Upsert(ctx context.Context, record ToolRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}
	if strings.TrimSpace(record.Server) == "" {
		return errors.New("catalog: record server is required")
	}
	if strings.TrimSpace(record.Name) == "" {
		return errors.New("catalog: record name is required")
	}

	now := time.Now().UTC()
	if record.DiscoveredAt.IsZero() {
		record.DiscoveredAt = now
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("catalog: sqlite encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tool_catalog (server, name, payload, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(server, name) DO UPDATE SET
	payload = excluded.payload,
	updated_at = excluded.updated_at`,
		record.Server,
		record.Name,
		payload,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("catalog: sqlite upsert record: %w", err)
	}
	return nil
}

// Delete removes a record. Deleting a missing record is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, server, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM tool_catalog WHERE server = ? AND name = ?`, server, name); err != nil {
		return fmt.Errorf("catalog: sqlite delete record: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeRecord(payload []byte) (ToolRecord, error) {
	var record ToolRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return ToolRecord{}, fmt.Errorf("catalog: sqlite decode record: %w", err)
	}
	return record, nil
}
