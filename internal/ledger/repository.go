package ledger

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

// ErrNotFound is returned when no row matches a filename.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    filename      TEXT PRIMARY KEY,
    source_url    TEXT NOT NULL,
    final_url     TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL DEFAULT '',
    pages         INTEGER NOT NULL DEFAULT 0,
    bytes         INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL,
    downloaded_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
`

// Repository records render metadata in SQLite.
type Repository struct {
	db *sql.DB
}

// New opens (or creates) the ledger database at dbPath.
func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite away from "database is locked"
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Record inserts or replaces a document row.
func (r *Repository) Record(ctx context.Context, doc models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (filename, source_url, final_url, title, pages, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.Filename, doc.SourceURL, doc.FinalURL, doc.Title, doc.Pages, doc.Bytes, doc.CreatedAt.UTC(),
	)
	return err
}

// Get returns the row for filename.
func (r *Repository) Get(ctx context.Context, filename string) (*models.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT filename, source_url, final_url, title, pages, bytes, created_at, downloaded_at
		 FROM documents WHERE filename = ?`, filename,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// MarkDownloaded stamps the first download time. Later downloads keep the first stamp.
func (r *Repository) MarkDownloaded(ctx context.Context, filename string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET downloaded_at = COALESCE(downloaded_at, ?) WHERE filename = ?`,
		at.UTC(), filename,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row for filename. Missing rows are ignored.
func (r *Repository) Delete(ctx context.Context, filename string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE filename = ?`, filename)
	return err
}

// Recent returns up to limit rows, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT filename, source_url, final_url, title, pages, bytes, created_at, downloaded_at
		 FROM documents ORDER BY created_at DESC, filename DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*models.Document, error) {
	var doc models.Document
	var downloaded sql.NullTime
	if err := s.Scan(&doc.Filename, &doc.SourceURL, &doc.FinalURL, &doc.Title,
		&doc.Pages, &doc.Bytes, &doc.CreatedAt, &downloaded); err != nil {
		return nil, err
	}
	if downloaded.Valid {
		t := downloaded.Time
		doc.DownloadedAt = &t
	}
	return &doc, nil
}
