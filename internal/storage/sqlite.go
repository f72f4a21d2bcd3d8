// Package storage persists documents, diff runs, analysis runs, and the
// document hierarchy in a local SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for documents, runs, and the
// document hierarchy.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "regscan.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for components that run their own
// queries against shared tables (clause index, cascade resolver).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Documents ---

// SaveDocument upserts a document's metadata. Re-uploading a document
// replaces the previous record in place.
func (s *Store) SaveDocument(d Document) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	clausesJSON := d.ClausesJSON
	if clausesJSON == "" {
		clausesJSON = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (tenant_id, document_number, filename, revision, clause_count, char_count, clauses_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, document_number) DO UPDATE SET
			filename = excluded.filename,
			revision = excluded.revision,
			clause_count = excluded.clause_count,
			char_count = excluded.char_count,
			clauses_json = excluded.clauses_json,
			created_at = excluded.created_at`,
		d.TenantID, d.DocumentNumber, d.Filename, d.Revision,
		d.ClauseCount, d.CharCount, clausesJSON, createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(tenantID, documentNumber string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT tenant_id, document_number, filename, revision, clause_count, char_count, clauses_json, created_at
		FROM documents WHERE tenant_id = ? AND document_number = ?`,
		tenantID, documentNumber,
	).Scan(&d.TenantID, &d.DocumentNumber, &d.Filename, &d.Revision, &d.ClauseCount, &d.CharCount, &d.ClausesJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

func (s *Store) ListDocuments(tenantID string) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, document_number, filename, revision, clause_count, char_count, clauses_json, created_at
		FROM documents WHERE tenant_id = ? ORDER BY document_number ASC`, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.TenantID, &d.DocumentNumber, &d.Filename, &d.Revision, &d.ClauseCount, &d.CharCount, &d.ClausesJSON, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) DeleteDocument(tenantID, documentNumber string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE tenant_id = ? AND document_number = ?`,
		tenantID, documentNumber)
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

func (s *Store) DeleteDocuments(tenantID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM documents WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Diff runs ---

func (s *Store) SaveDiffRun(r DiffRun) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO diff_runs (id, tenant_id, created_at, old_filename, new_filename, added, modified, deleted, deltas_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, createdAt.Format(time.RFC3339),
		r.OldFilename, r.NewFilename,
		r.Added, r.Modified, r.Deleted, r.DeltasJSON,
	)
	return err
}

func (s *Store) GetDiffRun(tenantID, id string) (DiffRun, error) {
	var r DiffRun
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, tenant_id, created_at, old_filename, new_filename, added, modified, deleted, deltas_json
		FROM diff_runs WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&r.ID, &r.TenantID, &createdAt, &r.OldFilename, &r.NewFilename, &r.Added, &r.Modified, &r.Deleted, &r.DeltasJSON)
	if err == sql.ErrNoRows {
		return DiffRun{}, ErrNotFound
	}
	if err != nil {
		return DiffRun{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return DiffRun{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

// ListDiffRuns returns the tenant's diff runs, most recent first, without
// the delta payload.
func (s *Store) ListDiffRuns(tenantID string, limit int) ([]DiffRun, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, created_at, old_filename, new_filename, added, modified, deleted
		FROM diff_runs WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DiffRun
	for rows.Next() {
		var r DiffRun
		var createdAt string
		if err := rows.Scan(&r.ID, &r.TenantID, &createdAt, &r.OldFilename, &r.NewFilename, &r.Added, &r.Modified, &r.Deleted); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Analysis runs ---

// SaveAnalysisRun persists a completed analysis as a single insert. Runs
// are never updated after the fact; a failed analysis leaves no row.
func (s *Store) SaveAnalysisRun(r AnalysisRun) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var diffID sql.NullString
	if r.DiffID != "" {
		diffID = sql.NullString{String: r.DiffID, Valid: true}
	}
	deltasJSON := r.DeltasJSON
	if deltasJSON == "" {
		deltasJSON = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO analysis_runs (id, tenant_id, diff_id, created_at, threshold, deltas_analyzed, total_impacts, deltas_json, impacts_json, warning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, diffID, createdAt.Format(time.RFC3339),
		r.Threshold, r.DeltasAnalyzed, r.TotalImpacts, deltasJSON, r.ImpactsJSON, r.Warning,
	)
	return err
}

func (s *Store) GetAnalysisRun(tenantID, id string) (AnalysisRun, error) {
	var r AnalysisRun
	var createdAt string
	var diffID sql.NullString
	err := s.db.QueryRow(`
		SELECT id, tenant_id, diff_id, created_at, threshold, deltas_analyzed, total_impacts, deltas_json, impacts_json, warning
		FROM analysis_runs WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&r.ID, &r.TenantID, &diffID, &createdAt, &r.Threshold, &r.DeltasAnalyzed, &r.TotalImpacts, &r.DeltasJSON, &r.ImpactsJSON, &r.Warning)
	if err == sql.ErrNoRows {
		return AnalysisRun{}, ErrNotFound
	}
	if err != nil {
		return AnalysisRun{}, err
	}
	r.DiffID = diffID.String
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return AnalysisRun{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

// ListAnalysisRuns returns the tenant's runs, most recent first. The
// impact payload is omitted; fetch a single run for the full findings.
func (s *Store) ListAnalysisRuns(tenantID string, limit int) ([]AnalysisRun, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, diff_id, created_at, threshold, deltas_analyzed, total_impacts, warning
		FROM analysis_runs WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AnalysisRun
	for rows.Next() {
		var r AnalysisRun
		var createdAt string
		var diffID sql.NullString
		if err := rows.Scan(&r.ID, &r.TenantID, &diffID, &createdAt, &r.Threshold, &r.DeltasAnalyzed, &r.TotalImpacts, &r.Warning); err != nil {
			return nil, err
		}
		r.DiffID = diffID.String
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Hierarchy ---

// ReplaceHierarchy swaps the tenant's document hierarchy for the given
// artifact set in one transaction. Uploading twice with the same payload
// leaves the same rows.
func (s *Store) ReplaceHierarchy(tenantID string, artifacts []HierarchyArtifact) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning hierarchy transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM hierarchy_artifacts WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("clearing hierarchy: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO hierarchy_artifacts (tenant_id, id, name, type, parent) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing hierarchy insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range artifacts {
		var parent sql.NullString
		if a.Parent != "" {
			parent = sql.NullString{String: a.Parent, Valid: true}
		}
		if _, err := stmt.Exec(tenantID, a.ID, a.Name, a.Type, parent); err != nil {
			return fmt.Errorf("inserting artifact %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) CountHierarchy(tenantID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM hierarchy_artifacts WHERE tenant_id = ?`, tenantID).Scan(&count)
	return count, err
}
