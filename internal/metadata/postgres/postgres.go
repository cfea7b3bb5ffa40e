// Package postgres provides the PostgreSQL-backed record store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/meshdrive/meshdrive/internal/metrics"
	"github.com/meshdrive/meshdrive/internal/peers"
	"github.com/meshdrive/meshdrive/internal/usage"
)

// Store is a PostgreSQL record store. It holds the flat per-file records the
// peers announce; the usage engine consumes them as-is.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL record store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// EnsureSchema creates the tables on first run.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS peers (
			node_id BYTEA PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id BIGSERIAL PRIMARY KEY,
			node_id BYTEA NOT NULL,
			node_name TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			size BIGINT NOT NULL,
			last_changed TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS files_node_idx ON files (node_id)`,
		`CREATE INDEX IF NOT EXISTS files_path_idx ON files (path)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ListFileRecords returns the complete flat record list in insertion order.
// Insertion order keeps the engine's tie-breaking stable across calls.
func (s *Store) ListFileRecords(ctx context.Context) ([]usage.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_file_records", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, node_name, path, size, last_changed FROM files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var records []usage.FileRecord
	for rows.Next() {
		var rec usage.FileRecord
		if err := rows.Scan(&rec.NodeID, &rec.NodeName, &rec.Path, &rec.Size, &rec.LastChanged); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return records, nil
}

// ListNodeFileRecords returns the record list for a single node.
func (s *Store) ListNodeFileRecords(ctx context.Context, nodeID []byte) ([]usage.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_node_file_records", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, node_name, path, size, last_changed FROM files WHERE node_id = $1 ORDER BY id`,
		nodeID)
	if err != nil {
		return nil, fmt.Errorf("query node files: %w", err)
	}
	defer rows.Close()

	var records []usage.FileRecord
	for rows.Next() {
		var rec usage.FileRecord
		if err := rows.Scan(&rec.NodeID, &rec.NodeName, &rec.Path, &rec.Size, &rec.LastChanged); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return records, nil
}

// ReplaceNodeFiles replaces one node's record list with the announced one and
// marks the peer as seen. The swap is transactional so a concurrent usage
// computation never observes a half-announced node.
func (s *Store) ReplaceNodeFiles(ctx context.Context, nodeID []byte, nodeName string, records []usage.FileRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("replace_node_files", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE node_id = $1`, nodeID); err != nil {
		return fmt.Errorf("delete old records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO files (node_id, node_name, path, size, last_changed) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, nodeID, nodeName, rec.Path, rec.Size, rec.LastChanged); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO peers (node_id, name, last_seen) VALUES ($1, $2, NOW())
		 ON CONFLICT (node_id) DO UPDATE SET name = EXCLUDED.name, last_seen = NOW()`,
		nodeID, nodeName); err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SearchFiles returns records whose path contains the query,
// case-insensitively, capped at limit.
func (s *Store) SearchFiles(ctx context.Context, query string, limit int) ([]usage.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search_files", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, node_name, path, size, last_changed
		 FROM files WHERE path ILIKE '%' || $1 || '%'
		 ORDER BY size DESC LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	defer rows.Close()

	var records []usage.FileRecord
	for rows.Next() {
		var rec usage.FileRecord
		if err := rows.Scan(&rec.NodeID, &rec.NodeName, &rec.Path, &rec.Size, &rec.LastChanged); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return records, nil
}

// FileCount returns the total number of stored records.
func (s *Store) FileCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return count, nil
}

// ListPeers returns all known peers with their record counts. Implements
// peers.Lister.
func (s *Store) ListPeers(ctx context.Context) ([]peers.Peer, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_peers", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.node_id, p.name, p.last_seen, COUNT(f.id)
		 FROM peers p LEFT JOIN files f ON f.node_id = p.node_id
		 GROUP BY p.node_id, p.name, p.last_seen
		 ORDER BY p.name, p.node_id`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var out []peers.Peer
	for rows.Next() {
		var id []byte
		var p peers.Peer
		if err := rows.Scan(&id, &p.Name, &p.LastSeen, &p.FileCount); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		p.ID = hex.EncodeToString(id)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return out, nil
}
