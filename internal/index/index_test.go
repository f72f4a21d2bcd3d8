package index

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the clause_vectors table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE clause_vectors (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			document_number TEXT NOT NULL,
			clause_number TEXT NOT NULL,
			title TEXT NOT NULL,
			text TEXT NOT NULL,
			references_json TEXT NOT NULL DEFAULT '[]',
			embedding BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(tenant_id, document_number, clause_number)
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func makeEntries(tenant, doc string, n int) []Entry {
	var entries []Entry
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			ID:             fmt.Sprintf("%s-%s-%d", tenant, doc, i),
			TenantID:       tenant,
			DocumentNumber: doc,
			ClauseNumber:   fmt.Sprintf("4.%d", i+1),
			Title:          fmt.Sprintf("Clause %d", i+1),
			Text:           "some requirement text",
			Embedding:      makeTestVector(64, float32(i)*0.05),
			CreatedAt:      time.Now().UTC(),
		})
	}
	return entries
}

func TestReplaceDocument_Idempotent(t *testing.T) {
	ix := New(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := ix.ReplaceDocument(ctx, "t1", "7.3-3", makeEntries("t1", "7.3-3", 5)); err != nil {
			t.Fatalf("ReplaceDocument run %d: %v", i, err)
		}
		count, err := ix.Count(ctx, "t1")
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count != 5 {
			t.Fatalf("after run %d: count = %d, want 5", i, count)
		}
	}
}

func TestDeleteDocument_LeavesOtherDocuments(t *testing.T) {
	ix := New(openTestDB(t))
	ctx := context.Background()

	if err := ix.ReplaceDocument(ctx, "t1", "7.3-3", makeEntries("t1", "7.3-3", 5)); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}
	if err := ix.ReplaceDocument(ctx, "t1", "4.2-1", makeEntries("t1", "4.2-1", 3)); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	deleted, err := ix.DeleteDocument(ctx, "t1", "7.3-3")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}

	count, err := ix.Count(ctx, "t1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3 (other document untouched)", count)
	}
}

func TestReplaceTenant_ClearsStaleEntries(t *testing.T) {
	ix := New(openTestDB(t))
	ctx := context.Background()

	if err := ix.ReplaceDocument(ctx, "t1", "7.3-3", makeEntries("t1", "7.3-3", 5)); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}
	// Re-map with a different document set; old entries must not survive.
	if err := ix.ReplaceTenant(ctx, "t1", makeEntries("t1", "4.2-1", 2)); err != nil {
		t.Fatalf("ReplaceTenant: %v", err)
	}

	entries, err := ix.ExportAll(ctx, "t1")
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.DocumentNumber != "4.2-1" {
			t.Errorf("stale entry survived re-map: %+v", e)
		}
	}
}

func TestSearch_TenantScoped(t *testing.T) {
	ix := New(openTestDB(t))
	ctx := context.Background()

	vec := makeTestVector(64, 0.1)
	e1 := makeEntries("t1", "7.3-3", 1)
	e1[0].Embedding = vec
	if err := ix.ReplaceDocument(ctx, "t1", "7.3-3", e1); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}
	e2 := makeEntries("t2", "7.3-3", 1)
	e2[0].Embedding = vec
	if err := ix.ReplaceDocument(ctx, "t2", "7.3-3", e2); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	results, err := ix.Search(ctx, "t1", vec, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (tenant scoped)", len(results))
	}
	if results[0].TenantID != "t1" {
		t.Errorf("result tenant = %q", results[0].TenantID)
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
}

func TestSearch_TopKOrdering(t *testing.T) {
	ix := New(openTestDB(t))
	ctx := context.Background()

	query := makeTestVector(64, 0.5)
	var entries []Entry
	for i := 0; i < 8; i++ {
		e := makeEntries("t1", "7.3-3", 1)[0]
		e.ID = fmt.Sprintf("e%d", i)
		e.ClauseNumber = fmt.Sprintf("4.%d", i)
		e.Embedding = makeTestVector(64, float32(i)*0.2)
		entries = append(entries, e)
	}
	if err := ix.ReplaceDocument(ctx, "t1", "7.3-3", entries); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	results, err := ix.Search(ctx, "t1", query, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending: %f before %f", results[i-1].Score, results[i].Score)
		}
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := New(openTestDB(t))
	results, err := ix.Search(context.Background(), "t1", makeTestVector(64, 0.1), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}
