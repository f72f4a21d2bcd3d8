package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mhollis/regscan/internal/cascade"
	"github.com/mhollis/regscan/internal/matcher"
	"github.com/mhollis/regscan/internal/regdiff"
)

// exportedRun is the JSON export shape: run metadata with the stored
// deltas and findings inlined.
type exportedRun struct {
	AnalysisRun
	Deltas  []regdiff.Delta         `json:"deltas"`
	Impacts []matcher.ImpactFinding `json:"impacts"`
}

// ExportRunJSON renders a stored run as JSON. Exports project from the
// persisted payload; nothing is recomputed.
func ExportRunJSON(run AnalysisRun) ([]byte, error) {
	deltas, err := decodeDeltas(run.DeltasJSON)
	if err != nil {
		return nil, err
	}
	impacts, err := decodeImpacts(run.ImpactsJSON)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(exportedRun{AnalysisRun: run, Deltas: deltas, Impacts: impacts}, "", "  ")
}

// ExportRunCSV renders a stored run's findings as CSV, one row per
// finding, downstream artifacts flattened into a single column.
func ExportRunCSV(run AnalysisRun) ([]byte, error) {
	impacts, err := decodeImpacts(run.ImpactsJSON)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"reg_clause", "change_type", "qsp_document", "qsp_clause", "qsp_title", "similarity_score", "rationale", "downstream", "deltas_analyzed"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, f := range impacts {
		row := []string{
			f.RegClause,
			string(f.ChangeType),
			f.QSPDoc,
			f.QSPClause,
			f.QSPTitle,
			strconv.FormatFloat(float64(f.SimilarityScore), 'f', 4, 32),
			f.Rationale,
			flattenDownstream(f.Downstream),
			strconv.Itoa(run.DeltasAnalyzed),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDeltas(deltasJSON string) ([]regdiff.Delta, error) {
	if deltasJSON == "" {
		return []regdiff.Delta{}, nil
	}
	var deltas []regdiff.Delta
	if err := json.Unmarshal([]byte(deltasJSON), &deltas); err != nil {
		return nil, fmt.Errorf("decoding stored deltas: %w", err)
	}
	if deltas == nil {
		deltas = []regdiff.Delta{}
	}
	return deltas, nil
}

func decodeImpacts(impactsJSON string) ([]matcher.ImpactFinding, error) {
	if impactsJSON == "" {
		return []matcher.ImpactFinding{}, nil
	}
	var impacts []matcher.ImpactFinding
	if err := json.Unmarshal([]byte(impactsJSON), &impacts); err != nil {
		return nil, fmt.Errorf("decoding stored impacts: %w", err)
	}
	if impacts == nil {
		impacts = []matcher.ImpactFinding{}
	}
	return impacts, nil
}

// flattenDownstream joins a finding's downstream artifacts into a single
// readable cell, e.g. "F-102 (downstream); WI-204 (direct)".
func flattenDownstream(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var d cascade.Downstream
	if err := json.Unmarshal(raw, &d); err != nil {
		return ""
	}
	var parts []string
	for _, a := range d.Forms {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.ID, a.ImpactType))
	}
	for _, a := range d.WorkInstructions {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.ID, a.ImpactType))
	}
	return strings.Join(parts, "; ")
}
