// Package matcher matches regulatory deltas against the tenant's clause
// index and emits ranked, explained impact findings.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/mhollis/regscan/internal/index"
	"github.com/mhollis/regscan/internal/regdiff"
)

// DeltaEmbedder generates embeddings for delta change text.
type DeltaEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ClauseSearcher is the clause-index surface the matcher needs.
type ClauseSearcher interface {
	Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]index.ScoredEntry, error)
	Count(ctx context.Context, tenantID string) (int, error)
}

// ImpactFinding is one match between a regulatory delta and an indexed
// clause. Never mutated after creation.
type ImpactFinding struct {
	RegClause       string             `json:"reg_clause"`
	ChangeType      regdiff.ChangeType `json:"change_type"`
	QSPDoc          string             `json:"qsp_doc"`
	QSPClause       string             `json:"qsp_clause"`
	QSPTitle        string             `json:"qsp_title"`
	QSPText         string             `json:"qsp_text"`
	Rationale       string             `json:"rationale"`
	SimilarityScore float32            `json:"similarity_score"`
	References      []string           `json:"-"`
	Downstream      json.RawMessage    `json:"downstream_impacts,omitempty"`
}

// Result is the outcome of one analysis over a set of deltas.
type Result struct {
	Impacts           []ImpactFinding `json:"impacts"`
	TotalImpactsFound int             `json:"total_impacts_found"`
	Warning           string          `json:"warning,omitempty"`
}

// EmptyIndexWarning is returned instead of an error when the tenant has no
// mapped clauses; an empty index is an expected state, not a failure.
const EmptyIndexWarning = "no QSP sections are mapped for this tenant; upload documents and run clause mapping first"

// previewLen bounds the clause text carried on a finding for display.
// The full text stays retrievable from the index.
const previewLen = 300

// Matcher runs similarity matching of deltas against the clause index.
type Matcher struct {
	embedder  DeltaEmbedder
	searcher  ClauseSearcher
	threshold float32
	logger    *slog.Logger
}

// New creates a Matcher. Findings scoring below threshold are dropped
// silently, not returned as low-confidence noise.
func New(embedder DeltaEmbedder, searcher ClauseSearcher, threshold float32) *Matcher {
	return &Matcher{
		embedder:  embedder,
		searcher:  searcher,
		threshold: threshold,
		logger:    slog.Default(),
	}
}

// Analyze matches each delta against the tenant's clause index and returns
// findings ranked by similarity descending within each delta. Deltas keep
// their input order. Embedding calls across deltas run concurrently; they
// are independent and dominate the run's latency.
func (m *Matcher) Analyze(ctx context.Context, tenantID string, deltas []regdiff.Delta, topK int) (*Result, error) {
	count, err := m.searcher.Count(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("checking clause index: %w", err)
	}
	if count == 0 {
		return &Result{Impacts: []ImpactFinding{}, Warning: EmptyIndexWarning}, nil
	}

	perDelta := make([][]ImpactFinding, len(deltas))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, d := range deltas {
		i, d := i, d
		g.Go(func() error {
			findings, err := m.matchDelta(gCtx, tenantID, d, topK)
			if err != nil {
				return fmt.Errorf("matching delta %s: %w", d.ClauseID, err)
			}
			perDelta[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var impacts []ImpactFinding
	for _, findings := range perDelta {
		impacts = append(impacts, findings...)
	}
	if impacts == nil {
		impacts = []ImpactFinding{}
	}

	return &Result{Impacts: impacts, TotalImpactsFound: len(impacts)}, nil
}

func (m *Matcher) matchDelta(ctx context.Context, tenantID string, d regdiff.Delta, topK int) ([]ImpactFinding, error) {
	vec, err := m.embedder.Embed(ctx, changeText(d))
	if err != nil {
		return nil, err
	}

	scored, err := m.searcher.Search(ctx, tenantID, vec, topK)
	if err != nil {
		return nil, err
	}

	var findings []ImpactFinding
	for _, s := range scored {
		if s.Score < m.threshold {
			continue
		}
		findings = append(findings, ImpactFinding{
			RegClause:       d.ClauseID,
			ChangeType:      d.ChangeType,
			QSPDoc:          s.DocumentNumber,
			QSPClause:       s.ClauseNumber,
			QSPTitle:        s.Title,
			QSPText:         preview(s.Text),
			Rationale:       rationale(d.ChangeType, d.ClauseID, s.Title),
			SimilarityScore: s.Score,
			References:      decodeReferences(s.ReferencesJSON),
		})
	}
	return findings, nil
}

// changeText picks the text that best represents the change: the new text
// for added/modified clauses, the old text for deleted ones.
func changeText(d regdiff.Delta) string {
	if d.ChangeType == regdiff.ChangeDeleted {
		return d.OldText
	}
	return d.NewText
}

// rationale returns the change-type-specific explanation shown to
// reviewers. The similarity score intentionally stays out of the prose.
func rationale(ct regdiff.ChangeType, regClause, qspTitle string) string {
	switch ct {
	case regdiff.ChangeAdded:
		return fmt.Sprintf("New regulatory requirement introduced in clause %s. Review QSP section %s to ensure alignment with new requirements.", regClause, qspTitle)
	case regdiff.ChangeDeleted:
		return fmt.Sprintf("Regulatory clause %s was removed. Verify QSP section %s does not reference now-obsolete requirements.", regClause, qspTitle)
	default:
		return fmt.Sprintf("Regulatory clause %s was modified. Review QSP section %s for continued compliance.", regClause, qspTitle)
	}
}

func preview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func decodeReferences(refsJSON string) []string {
	if refsJSON == "" {
		return nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
		return nil
	}
	return refs
}
