// Package index maintains the per-tenant clause index: persisted clause
// records with their embedding vectors, searchable by cosine similarity.
package index

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Entry is one indexed clause with its embedding vector.
type Entry struct {
	ID             string
	TenantID       string
	DocumentNumber string
	ClauseNumber   string
	Title          string
	Text           string
	ReferencesJSON string // JSON array stored as text
	Embedding      []float32
	CreatedAt      time.Time
}

// ScoredEntry is an Entry with a similarity score attached.
type ScoredEntry struct {
	Entry
	Score float32
}

// Index provides clause-vector storage and brute-force cosine similarity
// search backed by SQLite. Writers replace a document's (or tenant's)
// entries wholesale inside a transaction, so duplicate
// (document_number, clause_number) keys cannot occur and re-running an
// ingestion is idempotent.
//
// Search is a linear scan over the tenant's vectors, which is fine at the
// scale of hundreds of clauses. An ANN-backed implementation can replace
// this behind the same method set if index size ever warrants it.
type Index struct {
	db *sql.DB
}

// New wraps an existing *sql.DB for clause-vector operations.
// The clause_vectors table must already exist (created via migrations).
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// ReplaceDocument atomically replaces all entries for one document of a
// tenant with the given entries.
func (ix *Index) ReplaceDocument(ctx context.Context, tenantID, documentNumber string, entries []Entry) error {
	return ix.replace(ctx,
		`DELETE FROM clause_vectors WHERE tenant_id = ? AND document_number = ?`,
		[]any{tenantID, documentNumber}, entries)
}

// ReplaceTenant atomically replaces every entry of the tenant with the
// given entries. Used by whole-tenant re-mapping so no stale entries from
// deleted or edited documents survive.
func (ix *Index) ReplaceTenant(ctx context.Context, tenantID string, entries []Entry) error {
	return ix.replace(ctx,
		`DELETE FROM clause_vectors WHERE tenant_id = ?`,
		[]any{tenantID}, entries)
}

func (ix *Index) replace(ctx context.Context, deleteQuery string, deleteArgs []any, entries []Entry) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing existing entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO clause_vectors (id, tenant_id, document_number, clause_number, title, text, references_json, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		blob := encodeFloat32s(e.Embedding)
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		refs := e.ReferencesJSON
		if refs == "" {
			refs = "[]"
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.TenantID, e.DocumentNumber, e.ClauseNumber, e.Title, e.Text, refs, blob, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting entry %s/%s: %w", e.DocumentNumber, e.ClauseNumber, err)
		}
	}

	return tx.Commit()
}

// DeleteDocument removes all entries for one document of a tenant and
// returns how many were removed.
func (ix *Index) DeleteDocument(ctx context.Context, tenantID, documentNumber string) (int, error) {
	res, err := ix.db.ExecContext(ctx,
		`DELETE FROM clause_vectors WHERE tenant_id = ? AND document_number = ?`,
		tenantID, documentNumber)
	if err != nil {
		return 0, fmt.Errorf("deleting document entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteTenant removes every entry of the tenant.
func (ix *Index) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	res, err := ix.db.ExecContext(ctx, `DELETE FROM clause_vectors WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting tenant entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Count returns the number of indexed clauses for the tenant.
func (ix *Index) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clause_vectors WHERE tenant_id = ?`, tenantID).Scan(&count)
	return count, err
}

// idScore holds only the ID and score during the scan phase of Search.
// Full entry details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over the tenant's
// vectors, returning the top-K most similar entries sorted by score
// descending.
func (ix *Index) Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]ScoredEntry, error) {
	if topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, embedding FROM clause_vectors WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full entries only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, tenant_id, document_number, clause_number, title, text, references_json, embedding, created_at
		FROM clause_vectors WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := ix.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K entries: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredEntry
	for fullRows.Next() {
		e, err := scanEntry(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredEntry{Entry: e, Score: scores[e.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full entries: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// ExportAll returns all entries of the tenant in insertion order.
func (ix *Index) ExportAll(ctx context.Context, tenantID string) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, tenant_id, document_number, clause_number, title, text, references_json, embedding, created_at
		FROM clause_vectors WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying all vectors: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var blob []byte
	var createdAt string
	if err := rows.Scan(&e.ID, &e.TenantID, &e.DocumentNumber, &e.ClauseNumber, &e.Title, &e.Text, &e.ReferencesJSON, &blob, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning entry: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Entry{}, fmt.Errorf("decoding embedding for %s: %w", e.ID, err)
	}
	e.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at for %s: %w", e.ID, err)
	}
	e.CreatedAt = t
	return e, nil
}

// sortByScore sorts ScoredEntries by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredEntry) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
