package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"docqa/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	sha256 TEXT NOT NULL UNIQUE,
	mime_type TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	chunks_count INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	ctime INTEGER NOT NULL
);
`

// ErrDuplicate is returned by Create when a document with the same content hash exists.
var ErrDuplicate = errors.New("document already exists")

// Repo stores ingested documents and their extracted text.
type Repo struct {
	db *sqlx.DB
}

// Open opens (and migrates) the catalog database file at path.
func Open(path string) (*Repo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	return OpenDSN(path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// OpenDSN opens a catalog with a raw driver DSN, for example ":memory:".
func OpenDSN(dsn string) (*Repo, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}
	return &Repo{db: db}, nil
}

// Close closes the database connection.
func (r *Repo) Close() error {
	return r.db.Close()
}

// Ping checks that the database is reachable.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type documentRow struct {
	ID          int64  `db:"id"`
	Filename    string `db:"filename"`
	SHA256      string `db:"sha256"`
	MimeType    string `db:"mime_type"`
	SizeBytes   int64  `db:"size_bytes"`
	ChunksCount int    `db:"chunks_count"`
	Content     string `db:"content"`
	Ctime       int64  `db:"ctime"`
}

func (row documentRow) toDomain() domain.Document {
	return domain.Document{
		ID:          row.ID,
		Filename:    row.Filename,
		SHA256:      row.SHA256,
		MimeType:    row.MimeType,
		SizeBytes:   row.SizeBytes,
		ChunksCount: row.ChunksCount,
		Content:     row.Content,
		CreatedAt:   time.UnixMilli(row.Ctime).UTC(),
	}
}

// Create inserts doc and returns it with its assigned id and creation time.
func (r *Repo) Create(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	row := documentRow{
		Filename:    doc.Filename,
		SHA256:      doc.SHA256,
		MimeType:    doc.MimeType,
		SizeBytes:   doc.SizeBytes,
		ChunksCount: doc.ChunksCount,
		Content:     doc.Content,
		Ctime:       doc.CreatedAt.UnixMilli(),
	}
	const query = `
		INSERT INTO documents (filename, sha256, mime_type, size_bytes, chunks_count, content, ctime)
		VALUES (:filename, :sha256, :mime_type, :size_bytes, :chunks_count, :content, :ctime)
	`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if isConflict(err) {
			return domain.Document{}, fmt.Errorf("%w: sha256 %s", ErrDuplicate, doc.SHA256)
		}
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Document{}, fmt.Errorf("read document id: %w", err)
	}
	row.ID = id
	return row.toDomain(), nil
}

// Get returns the document with id.
func (r *Repo) Get(ctx context.Context, id int64) (domain.Document, error) {
	var row documentRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, err
	}
	return row.toDomain(), nil
}

// FindBySHA256 returns the document whose content hash is sum.
func (r *Repo) FindBySHA256(ctx context.Context, sum string) (domain.Document, error) {
	var row documentRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE sha256 = ?`, sum)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document sha256 %s: %w", sum, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, err
	}
	return row.toDomain(), nil
}

// List returns every document in id order.
func (r *Repo) List(ctx context.Context) ([]domain.Document, error) {
	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM documents ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]domain.Document, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// SetChunkCount records how many fragments a document produced.
func (r *Repo) SetChunkCount(ctx context.Context, id int64, count int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE documents SET chunks_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Count returns the number of stored documents.
func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM documents`)
	return n, err
}

func isConflict(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
