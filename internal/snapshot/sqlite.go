package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"docqa/internal/config"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot_artifacts (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_generation (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	generation TEXT NOT NULL,
	saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore keeps the artifacts of the current snapshot in one database
// and replaces them inside a single transaction.
type SQLiteStore struct {
	db *sqlx.DB
}

func init() {
	Register("sqlite", createSQLiteStore)
}

func createSQLiteStore(cfg config.SnapshotConfig) (Store, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("snapshot.sqlite_path is required for sqlite store")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return OpenSQLite(cfg.SQLitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// OpenSQLite opens (and migrates) a snapshot database at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, artifacts Artifacts) error {
	if err := artifacts.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_artifacts`); err != nil {
		return fmt.Errorf("clear artifacts: %w", err)
	}
	for _, name := range Names {
		data := artifacts[name]
		if data == nil {
			data = []byte{}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_artifacts (name, data) VALUES (?, ?)`, name, data); err != nil {
			return fmt.Errorf("insert artifact %s: %w", name, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_generation (id, generation, saved_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET generation = excluded.generation, saved_at = excluded.saved_at`,
		uuid.NewString())
	if err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	return tx.Commit()
}

type artifactRow struct {
	Name string `db:"name"`
	Data []byte `db:"data"`
}

func (s *SQLiteStore) Load(ctx context.Context) (Artifacts, error) {
	var rows []artifactRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, data FROM snapshot_artifacts`); err != nil {
		return nil, fmt.Errorf("select artifacts: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	artifacts := make(Artifacts, len(rows))
	for _, r := range rows {
		artifacts[r.Name] = r.Data
	}
	return artifacts, nil
}

func (s *SQLiteStore) Generation(ctx context.Context) (string, error) {
	var gen string
	err := s.db.GetContext(ctx, &gen, `SELECT generation FROM snapshot_generation WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select generation: %w", err)
	}
	return gen, nil
}
