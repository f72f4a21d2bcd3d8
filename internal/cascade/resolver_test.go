package cascade

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE hierarchy_artifacts (
		tenant_id TEXT NOT NULL,
		id        TEXT NOT NULL,
		name      TEXT NOT NULL,
		type      TEXT NOT NULL,
		parent    TEXT,
		PRIMARY KEY (tenant_id, id)
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func seedHierarchy(t *testing.T, db *sql.DB) {
	t.Helper()
	rows := [][]any{
		{"default", "WI-204", "Label Printing Work Instruction", TypeWorkInstruction, nil},
		{"default", "F-102", "Label Approval Form", TypeForm, "WI-204"},
		{"default", "F-103", "Label Reconciliation Form", TypeForm, "WI-204"},
		{"default", "WI-310", "Sterilization Work Instruction", TypeWorkInstruction, nil},
		{"other", "F-102", "Other Tenant Form", TypeForm, nil},
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO hierarchy_artifacts (tenant_id, id, name, type, parent) VALUES (?, ?, ?, ?, ?)`, r...)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestResolveDirectAndDownstream(t *testing.T) {
	db := openTestDB(t)
	seedHierarchy(t, db)
	r := New(db)

	out, err := r.Resolve(context.Background(), "default", []string{"WI-204"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.WorkInstructions) != 1 {
		t.Fatalf("expected 1 work instruction, got %d", len(out.WorkInstructions))
	}
	if out.WorkInstructions[0].ImpactType != ImpactDirect {
		t.Errorf("referenced artifact should be direct, got %q", out.WorkInstructions[0].ImpactType)
	}
	if len(out.Forms) != 2 {
		t.Fatalf("expected 2 child forms, got %d", len(out.Forms))
	}
	for _, f := range out.Forms {
		if f.ImpactType != ImpactDownstream {
			t.Errorf("child %s should be downstream, got %q", f.ID, f.ImpactType)
		}
	}
	if out.Forms[0].ID != "F-102" || out.Forms[1].ID != "F-103" {
		t.Errorf("forms not sorted by id: %s, %s", out.Forms[0].ID, out.Forms[1].ID)
	}
}

func TestResolveDirectReferenceStaysDirect(t *testing.T) {
	db := openTestDB(t)
	seedHierarchy(t, db)
	r := New(db)

	// F-102 is both directly referenced and a child of WI-204; the direct
	// classification wins regardless of reference order.
	out, err := r.Resolve(context.Background(), "default", []string{"F-102", "WI-204"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.Forms) != 2 {
		t.Fatalf("expected 2 forms, got %d", len(out.Forms))
	}
	for _, f := range out.Forms {
		if f.ID == "F-102" && f.ImpactType != ImpactDirect {
			t.Errorf("directly referenced F-102 should be direct, got %q", f.ImpactType)
		}
	}
}

func TestResolveUnknownReferenceSkipped(t *testing.T) {
	db := openTestDB(t)
	seedHierarchy(t, db)
	r := New(db)

	out, err := r.Resolve(context.Background(), "default", []string{"F-999", "WI-310"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.WorkInstructions) != 1 || out.WorkInstructions[0].ID != "WI-310" {
		t.Errorf("expected only WI-310 resolved: %+v", out)
	}
	if len(out.Forms) != 0 {
		t.Errorf("unexpected forms: %+v", out.Forms)
	}
}

func TestResolveTenantScoped(t *testing.T) {
	db := openTestDB(t)
	seedHierarchy(t, db)
	r := New(db)

	out, err := r.Resolve(context.Background(), "other", []string{"F-102", "WI-204"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.Forms) != 1 || out.Forms[0].Name != "Other Tenant Form" {
		t.Errorf("expected only the other tenant's form: %+v", out)
	}
	if len(out.WorkInstructions) != 0 {
		t.Errorf("WI-204 belongs to another tenant: %+v", out.WorkInstructions)
	}
}

func TestResolveNoReferences(t *testing.T) {
	db := openTestDB(t)
	r := New(db)

	out, err := r.Resolve(context.Background(), "default", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !out.Empty() {
		t.Errorf("expected empty result, got %+v", out)
	}
}
