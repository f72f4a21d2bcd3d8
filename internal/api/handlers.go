// Package api exposes the matching engine over HTTP and MCP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mhollis/regscan/internal/cascade"
	"github.com/mhollis/regscan/internal/clause"
	"github.com/mhollis/regscan/internal/extract"
	"github.com/mhollis/regscan/internal/index"
	"github.com/mhollis/regscan/internal/matcher"
	"github.com/mhollis/regscan/internal/regdiff"
	"github.com/mhollis/regscan/internal/storage"
)

const maxUploadBodySize = 20 << 20 // 20MB
const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds the wired components the HTTP handlers need.
type AppDeps struct {
	Store     *storage.Store
	Index     *index.Index
	Ingestor  *index.Ingestor
	Matcher   *matcher.Matcher
	Cascade   *cascade.Resolver
	Parser    *clause.Parser
	Token     string
	Threshold float64
	TopK      int
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleUploadDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Delete("/documents/{documentNumber}", handleDeleteDocument(deps))
		r.Delete("/documents", handleDeleteDocuments(deps))
		r.Post("/clause-map", handleClauseMap(deps))
		r.Post("/diff", handleDiff(deps))
		r.Get("/diffs/{id}", handleGetDiff(deps))
		r.Post("/analyze", handleAnalyze(deps))
		r.Get("/runs", handleListRuns(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Get("/runs/{id}/export", handleExportRun(deps))
		r.Put("/hierarchy", handleHierarchy(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type uploadRequest struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req uploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}
		if req.ContentBase64 == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content_base64 is required")
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
			return
		}

		parsed, err := deps.Parser.Parse(data, req.Filename)
		if err != nil {
			if errors.Is(err, extract.ErrUnsupportedFormat) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file format: %s", req.Filename)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "could not parse document: %v", err)
			return
		}

		clausesJSON, err := json.Marshal(parsed.Clauses)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal clauses: %v", err)
			return
		}

		charCount := 0
		for _, c := range parsed.Clauses {
			charCount += c.CharCount
		}

		doc := storage.Document{
			TenantID:       tenantID(r),
			DocumentNumber: parsed.DocumentNumber,
			Filename:       req.Filename,
			Revision:       parsed.Revision,
			ClauseCount:    len(parsed.Clauses),
			CharCount:      charCount,
			ClausesJSON:    string(clausesJSON),
			CreatedAt:      time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"document_number": parsed.DocumentNumber,
			"revision":        parsed.Revision,
			"total_clauses":   len(parsed.Clauses),
			"clauses":         parsed.Clauses,
		})
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments(tenantID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		type docItem struct {
			DocumentNumber string          `json:"document_number"`
			Revision       string          `json:"revision"`
			Filename       string          `json:"filename"`
			ClauseCount    int             `json:"clause_count"`
			CreatedAt      time.Time       `json:"created_at"`
			Clauses        json.RawMessage `json:"clauses"`
		}
		items := make([]docItem, 0, len(docs))
		for _, d := range docs {
			clauses := json.RawMessage(d.ClausesJSON)
			if len(clauses) == 0 {
				clauses = json.RawMessage("[]")
			}
			items = append(items, docItem{
				DocumentNumber: d.DocumentNumber,
				Revision:       d.Revision,
				Filename:       d.Filename,
				ClauseCount:    d.ClauseCount,
				CreatedAt:      d.CreatedAt,
				Clauses:        clauses,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantID(r)
		docNumber := chi.URLParam(r, "documentNumber")

		err := deps.Store.DeleteDocument(tenant, docNumber)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		if _, err := deps.Index.DeleteDocument(r.Context(), tenant, docNumber); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "document deleted but index cleanup failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
	}
}

func handleDeleteDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantID(r)

		count, err := deps.Store.DeleteDocuments(tenant)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete documents: %v", err)
			return
		}
		if _, err := deps.Index.DeleteTenant(r.Context(), tenant); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "documents deleted but index cleanup failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"deleted_count": count})
	}
}

// handleClauseMap re-embeds every clause of every uploaded document and
// rebuilds the tenant's index in one transactional replace. Safe to call
// repeatedly.
func handleClauseMap(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantID(r)

		docs, err := deps.Store.ListDocuments(tenant)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		var clauses []clause.Record
		for _, d := range docs {
			var docClauses []clause.Record
			if err := json.Unmarshal([]byte(d.ClausesJSON), &docClauses); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "corrupt clause data for document %s: %v", d.DocumentNumber, err)
				return
			}
			clauses = append(clauses, docClauses...)
		}

		mapped, err := deps.Ingestor.IngestTenant(r.Context(), tenant, clauses)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to map clauses: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"total_qsp_documents":  len(docs),
			"total_clauses_mapped": mapped,
		})
	}
}

type diffRequest struct {
	OldFilename      string `json:"old_filename"`
	OldContentBase64 string `json:"old_content_base64"`
	NewFilename      string `json:"new_filename"`
	NewContentBase64 string `json:"new_content_base64"`
}

func handleDiff(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req diffRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OldContentBase64 == "" || req.NewContentBase64 == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "old_content_base64 and new_content_base64 are required")
			return
		}

		oldText, err := decodeAndExtract(req.OldContentBase64, req.OldFilename)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "old document: %v", err)
			return
		}
		newText, err := decodeAndExtract(req.NewContentBase64, req.NewFilename)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "new document: %v", err)
			return
		}

		deltas := regdiff.Diff(oldText, newText)
		summary := regdiff.Summarize(deltas)

		deltasJSON, err := json.Marshal(deltas)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal deltas: %v", err)
			return
		}

		diffID := uuid.New().String()
		run := storage.DiffRun{
			ID:          diffID,
			TenantID:    tenantID(r),
			CreatedAt:   time.Now().UTC(),
			OldFilename: req.OldFilename,
			NewFilename: req.NewFilename,
			Added:       summary.Added,
			Modified:    summary.Modified,
			Deleted:     summary.Deleted,
			DeltasJSON:  string(deltasJSON),
		}
		if err := deps.Store.SaveDiffRun(run); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save diff run: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"diff_id":       diffID,
			"total_changes": len(deltas),
			"summary":       summary,
			"deltas":        deltas,
		})
	}
}

func decodeAndExtract(contentBase64, filename string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return "", errors.New("invalid base64 content")
	}
	if filename == "" {
		filename = "document.txt"
	}
	return extract.Text(data, filename)
}

func handleGetDiff(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetDiffRun(tenantID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "diff not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get diff: %v", err)
			return
		}

		deltas := json.RawMessage(run.DeltasJSON)
		if len(deltas) == 0 {
			deltas = json.RawMessage("[]")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"diff_id":       run.ID,
			"created_at":    run.CreatedAt,
			"old_filename":  run.OldFilename,
			"new_filename":  run.NewFilename,
			"total_changes": run.Added + run.Modified + run.Deleted,
			"summary":       regdiff.Summary{Added: run.Added, Modified: run.Modified, Deleted: run.Deleted},
			"deltas":        deltas,
		})
	}
}

type analyzeRequest struct {
	Deltas []regdiff.Delta `json:"deltas"`
	DiffID string          `json:"diff_id"`
	TopK   int             `json:"top_k"`
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		tenant := tenantID(r)

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Deltas) == 0 && req.DiffID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "either deltas or diff_id is required")
			return
		}

		deltas := req.Deltas
		if len(deltas) == 0 {
			run, err := deps.Store.GetDiffRun(tenant, req.DiffID)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "diff not found")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load diff: %v", err)
				return
			}
			if err := json.Unmarshal([]byte(run.DeltasJSON), &deltas); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "corrupt delta data for diff %s: %v", req.DiffID, err)
				return
			}
		}

		topK := req.TopK
		if topK <= 0 {
			topK = deps.TopK
		}

		runID, result, warning, err := runAnalysis(r.Context(), deps, tenant, deltas, topK, req.DiffID)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "analysis failed: %v", err)
			return
		}

		resp := map[string]any{
			"run_id":              runID,
			"total_impacts_found": result.TotalImpactsFound,
			"impacts":             result.Impacts,
		}
		if warning != "" {
			resp["warning"] = warning
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// runAnalysis matches deltas, resolves downstream artifacts, and persists
// the run. A failed analysis persists nothing.
func runAnalysis(ctx context.Context, deps AppDeps, tenant string, deltas []regdiff.Delta, topK int, diffID string) (string, *matcher.Result, string, error) {
	result, err := deps.Matcher.Analyze(ctx, tenant, deltas, topK)
	if err != nil {
		return "", nil, "", err
	}

	warning := result.Warning
	if len(deltas) == 0 && warning == "" {
		warning = "no deltas to analyze"
	}

	// Enrich findings with downstream artifacts. Cascade failures never
	// fail the run.
	for i := range result.Impacts {
		f := &result.Impacts[i]
		if len(f.References) == 0 {
			continue
		}
		down, err := deps.Cascade.Resolve(ctx, tenant, f.References)
		if err != nil || down.Empty() {
			continue
		}
		if b, err := json.Marshal(down); err == nil {
			f.Downstream = b
		}
	}

	deltasJSON, err := json.Marshal(deltas)
	if err != nil {
		return "", nil, "", err
	}
	impactsJSON, err := json.Marshal(result.Impacts)
	if err != nil {
		return "", nil, "", err
	}

	runID := uuid.New().String()
	run := storage.AnalysisRun{
		ID:             runID,
		TenantID:       tenant,
		DiffID:         diffID,
		CreatedAt:      time.Now().UTC(),
		Threshold:      float32(deps.Threshold),
		DeltasAnalyzed: len(deltas),
		TotalImpacts:   result.TotalImpactsFound,
		DeltasJSON:     string(deltasJSON),
		ImpactsJSON:    string(impactsJSON),
		Warning:        warning,
	}
	if err := deps.Store.SaveAnalysisRun(run); err != nil {
		return "", nil, "", err
	}

	return runID, result, warning, nil
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.ListAnalysisRuns(tenantID(r), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.AnalysisRun{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runs)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetAnalysisRun(tenantID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		out, err := storage.ExportRunJSON(run)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to render run: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(out)
	}
}

func handleExportRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetAnalysisRun(tenantID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		switch r.URL.Query().Get("format") {
		case "csv":
			out, err := storage.ExportRunCSV(run)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to export run: %v", err)
				return
			}
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="impact-report-`+run.ID+`.csv"`)
			w.Write(out)
		case "json", "":
			out, err := storage.ExportRunJSON(run)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to export run: %v", err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(out)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "format must be csv or json")
		}
	}
}

type hierarchyRequest struct {
	Artifacts []storage.HierarchyArtifact `json:"artifacts"`
}

func handleHierarchy(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req hierarchyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for _, a := range req.Artifacts {
			if a.ID == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "artifact id is required")
				return
			}
			if a.Type != cascade.TypeForm && a.Type != cascade.TypeWorkInstruction {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "artifact %s has unknown type %q", a.ID, a.Type)
				return
			}
		}

		if err := deps.Store.ReplaceHierarchy(tenantID(r), req.Artifacts); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load hierarchy: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"loaded": len(req.Artifacts)})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
