package clause

import (
	"strings"
	"testing"
)

const sampleQSP = `Acme Medical Devices Inc.
Quality System Procedure
Document No: 7.3-3    Rev: 9
Page 1 of 6

1 Purpose
This procedure defines design control requirements.

2 Scope
Applies to all Class II devices.

4.2.3 Document Review
All design documents shall be reviewed per WI-204.
Records are kept on Form F-102.

7.3.5 Device Labeling
Labels shall identify the device and its UDI.
Label proofs are verified using F-307.

Approved by: J. Smith
Date: 2024-01-15
`

func TestParse_BasicDocument(t *testing.T) {
	p := NewParser()
	doc, err := p.Parse([]byte(sampleQSP), "QSP_7.3-3_R9_Design_Control.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if doc.DocumentNumber != "7.3-3" {
		t.Errorf("DocumentNumber = %q, want %q", doc.DocumentNumber, "7.3-3")
	}
	if doc.Revision != "R9" {
		t.Errorf("Revision = %q, want %q", doc.Revision, "R9")
	}
	if len(doc.Clauses) != 4 {
		t.Fatalf("got %d clauses, want 4: %+v", len(doc.Clauses), doc.Clauses)
	}

	labeling := doc.Clauses[3]
	if labeling.ClauseNumber != "7.3.5" {
		t.Errorf("ClauseNumber = %q, want %q", labeling.ClauseNumber, "7.3.5")
	}
	if labeling.Title != "Device Labeling" {
		t.Errorf("Title = %q", labeling.Title)
	}
	if !strings.Contains(labeling.Text, "UDI") || !strings.Contains(labeling.Text, "verified") {
		t.Errorf("body not aggregated across lines: %q", labeling.Text)
	}
	if labeling.CharCount != len(labeling.Text) {
		t.Errorf("CharCount = %d, want %d", labeling.CharCount, len(labeling.Text))
	}
}

func TestParse_BoilerplateFiltered(t *testing.T) {
	p := NewParser()
	doc, err := p.Parse([]byte(sampleQSP), "7.3-3_R9.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, c := range doc.Clauses {
		for _, bad := range []string{"Page 1", "Approved", "Acme Medical", "Quality System Procedure"} {
			if strings.Contains(c.Title, bad) || strings.Contains(c.Text, bad) {
				t.Errorf("boilerplate %q leaked into clause %s", bad, c.ClauseNumber)
			}
		}
	}
}

func TestParse_References(t *testing.T) {
	p := NewParser()
	doc, err := p.Parse([]byte(sampleQSP), "7.3-3_R9.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	review := doc.Clauses[2]
	want := []string{"F-102", "WI-204"}
	if len(review.References) != len(want) {
		t.Fatalf("References = %v, want %v", review.References, want)
	}
	for i, r := range want {
		if review.References[i] != r {
			t.Errorf("References[%d] = %q, want %q", i, review.References[i], r)
		}
	}
}

func TestParse_NoDocumentNumberInFilename(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse([]byte("1 Purpose\ntext"), "procedure.txt"); err == nil {
		t.Fatal("expected error for filename without document number")
	}
}

func TestParse_DefaultRevision(t *testing.T) {
	p := NewParser()
	doc, err := p.Parse([]byte("1 Purpose\ntext"), "4.2-1.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Revision != "R0" {
		t.Errorf("Revision = %q, want R0", doc.Revision)
	}
}

func TestParse_EmptySectionGetsPlaceholder(t *testing.T) {
	p := NewParser()
	doc, err := p.Parse([]byte("1 Purpose\n\n2 Scope\nApplies broadly."), "4.2-1_R2.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Clauses) != 2 {
		t.Fatalf("got %d clauses, want 2", len(doc.Clauses))
	}
	if doc.Clauses[0].Text != NoTextPlaceholder {
		t.Errorf("empty clause text = %q, want placeholder", doc.Clauses[0].Text)
	}
}

func TestParse_CapsHeadingGetsSynthesizedNumber(t *testing.T) {
	p := NewParser()
	input := "4.1 Responsibilities\nThe quality manager owns this process.\nRECORD RETENTION\nRecords are retained for 7 years."
	doc, err := p.Parse([]byte(input), "4.1-2_R1.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Clauses) != 2 {
		t.Fatalf("got %d clauses, want 2: %+v", len(doc.Clauses), doc.Clauses)
	}
	got := doc.Clauses[1]
	if got.ClauseNumber == "" || got.ClauseNumber == "Unknown" {
		t.Fatalf("ClauseNumber = %q, want a resolved number", got.ClauseNumber)
	}
	if got.ClauseNumber != "4.2" {
		t.Errorf("ClauseNumber = %q, want 4.2", got.ClauseNumber)
	}
	if got.Title != "Record Retention" {
		t.Errorf("Title = %q", got.Title)
	}
}
