package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/reqscribe/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ Ledger           = (*Store)(nil)
	_ DocumentStore    = (*Store)(nil)
	_ IntakeRepository = (*Store)(nil)
)

// Store provides data access to the status ledger and requirement documents.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so other components can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: ledger and documents
		s.migrateV2, // v1 → v2: document format column
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the initial schema (v0 → v1).
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processing_status (
		audio_hash TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		details    TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processing_status_updated ON processing_status(updated_at DESC);

	CREATE TABLE IF NOT EXISTS requirement_documents (
		audio_hash    TEXT PRIMARY KEY,
		file_path     TEXT NOT NULL,
		document_data TEXT,
		created_at    TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 records the output mode that produced each document (v1 → v2).
// Rows imported before the column existed were markdown files.
func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`ALTER TABLE requirement_documents ADD COLUMN format TEXT NOT NULL DEFAULT 'markdown'`)
	return err
}

// ---------------------------------------------------------------------------
// Status ledger
// ---------------------------------------------------------------------------

// UpsertStatus records the latest status for hash. The row is overwritten,
// so concurrent writers resolve as last-writer-wins.
func (s *Store) UpsertStatus(ctx context.Context, hash string, status model.Status, details *string) error {
	row := model.NewProcessingStatus(hash, status, details)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_status (audio_hash, status, details, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(audio_hash) DO UPDATE SET
			status = excluded.status,
			details = excluded.details,
			updated_at = excluded.updated_at`,
		row.AudioHash, string(row.Status), row.Details, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert status %s: %w", status, err)
	}
	return nil
}

// EnsurePending creates a PENDING_VALIDATION row for a new upload. An existing
// in-flight or complete row is left alone; a FAILED row is reset so the job
// restarts from the beginning. It reports whether a row was written.
func (s *Store) EnsurePending(ctx context.Context, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_status (audio_hash, status, details, updated_at)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT(audio_hash) DO UPDATE SET
			status = excluded.status,
			details = NULL,
			updated_at = excluded.updated_at
		WHERE processing_status.status = ?`,
		hash, string(model.StatusPendingValidation), model.Now(), string(model.StatusFailed),
	)
	if err != nil {
		return false, fmt.Errorf("ensure pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetStatus returns the ledger row for hash, or nil if there is none.
func (s *Store) GetStatus(ctx context.Context, hash string) (*model.ProcessingStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT audio_hash, status, details, updated_at FROM processing_status WHERE audio_hash = ?`, hash)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

// ListStatuses returns ledger rows, most recently updated first.
func (s *Store) ListStatuses(ctx context.Context, f model.StatusFilter) ([]model.ProcessingStatus, error) {
	query := `SELECT audio_hash, status, details, updated_at FROM processing_status`
	var args []interface{}

	if len(f.Status) > 0 {
		placeholders := make([]string, len(f.Status))
		for i, st := range f.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY updated_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProcessingStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of ledger rows per status.
func (s *Store) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processing_status GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.Status(status)] = n
	}
	return counts, rows.Err()
}

// ---------------------------------------------------------------------------
// Requirement documents
// ---------------------------------------------------------------------------

// SaveDocument inserts doc once. A second insert for the same hash is a no-op
// and reports false, which makes redelivered analyst messages harmless.
func (s *Store) SaveDocument(ctx context.Context, doc model.RequirementDocument) (bool, error) {
	var data *string
	if len(doc.Data) > 0 {
		v := string(doc.Data)
		data = &v
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requirement_documents (audio_hash, format, file_path, document_data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(audio_hash) DO NOTHING`,
		doc.AudioHash, doc.Format, doc.FilePath, data, doc.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("save document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetDocument returns the requirement document for hash, or nil if there is none.
func (s *Store) GetDocument(ctx context.Context, hash string) (*model.RequirementDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT audio_hash, format, file_path, document_data, created_at FROM requirement_documents WHERE audio_hash = ?`, hash)
	var doc model.RequirementDocument
	var data sql.NullString
	err := row.Scan(&doc.AudioHash, &doc.Format, &doc.FilePath, &data, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if data.Valid && data.String != "" {
		doc.Data = []byte(data.String)
	}
	return &doc, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStatus(row scanner) (*model.ProcessingStatus, error) {
	var st model.ProcessingStatus
	var status string
	var details sql.NullString
	if err := row.Scan(&st.AudioHash, &status, &details, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Status = model.Status(status)
	if details.Valid {
		v := details.String
		st.Details = &v
	}
	return &st, nil
}
