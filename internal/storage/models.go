package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an ingested QSP document's metadata. The clause bodies and
// embeddings live in clause_vectors, keyed by the same tenant and
// document number.
type Document struct {
	TenantID       string    `json:"-"`
	DocumentNumber string    `json:"document_number"`
	Filename       string    `json:"filename"`
	Revision       string    `json:"revision"`
	ClauseCount    int       `json:"clause_count"`
	CharCount      int       `json:"char_count"`
	ClausesJSON    string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// DiffRun is one persisted regulatory diff: the source filenames, the full
// delta list and summary counts. Runs are append-only.
type DiffRun struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	OldFilename string    `json:"old_filename"`
	NewFilename string    `json:"new_filename"`
	Added       int       `json:"added"`
	Modified    int       `json:"modified"`
	Deleted     int       `json:"deleted"`
	DeltasJSON  string    `json:"-"`
}

// AnalysisRun is one persisted impact analysis. DeltasJSON and ImpactsJSON
// hold the analyzed deltas and the finding list exactly as produced;
// exports project from them without re-running anything.
type AnalysisRun struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"-"`
	DiffID         string    `json:"diff_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Threshold      float32   `json:"threshold"`
	DeltasAnalyzed int       `json:"deltas_analyzed"`
	TotalImpacts   int       `json:"total_impacts_found"`
	DeltasJSON     string    `json:"-"`
	ImpactsJSON    string    `json:"-"`
	Warning        string    `json:"warning,omitempty"`
}

// HierarchyArtifact is one node of a tenant's document hierarchy upload.
type HierarchyArtifact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Parent string `json:"parent,omitempty"`
}
