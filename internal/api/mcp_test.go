package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func getText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	return tc.Text
}

func setupMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	h, deps := setupAppHandler(t, testToken)

	uploadSample(t, h)
	mapClauses(t, h)

	return MCPDeps{App: deps, Embedder: hashEmbedder{}}
}

func TestMCPSearchClauses(t *testing.T) {
	deps := setupMCPDeps(t)
	handler := mcpSearchClauses(deps)

	req := makeCallToolRequest("search_clauses", map[string]interface{}{
		"query": "Labeling content shall be reviewed and approved prior to release",
		"limit": float64(3),
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", getText(t, result))
	}

	var matches []struct {
		DocumentNumber string  `json:"document_number"`
		ClauseNumber   string  `json:"clause_number"`
		Score          float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(getText(t, result)), &matches); err != nil {
		t.Fatalf("decoding matches: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].ClauseNumber != "7.3.5" {
		t.Errorf("top match = %s, want 7.3.5", matches[0].ClauseNumber)
	}
	if matches[0].DocumentNumber != "7.3-3" {
		t.Errorf("top match document = %s, want 7.3-3", matches[0].DocumentNumber)
	}
}

func TestMCPSearchClausesMissingQuery(t *testing.T) {
	deps := setupMCPDeps(t)
	handler := mcpSearchClauses(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_clauses", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing query")
	}
}

func TestMCPAnalyzeImpact(t *testing.T) {
	deps := setupMCPDeps(t)
	handler := mcpAnalyzeImpact(deps)

	deltas := `[{"clause_id":"10.2","change_type":"added","new_text":"Labeling content shall be reviewed and approved prior to release to production."}]`
	result, err := handler(context.Background(), makeCallToolRequest("analyze_impact", map[string]interface{}{
		"deltas": deltas,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", getText(t, result))
	}

	var resp struct {
		RunID             string `json:"run_id"`
		TotalImpactsFound int    `json:"total_impacts_found"`
	}
	if err := json.Unmarshal([]byte(getText(t, result)), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.RunID == "" {
		t.Error("missing run_id")
	}
	if resp.TotalImpactsFound == 0 {
		t.Error("expected at least one impact")
	}

	// The run persisted by the tool is retrievable through get_run.
	getHandler := mcpGetRun(deps)
	result, err = getHandler(context.Background(), makeCallToolRequest("get_run", map[string]interface{}{
		"run_id": resp.RunID,
	}))
	if err != nil {
		t.Fatalf("get_run error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected get_run error: %s", getText(t, result))
	}
	if !strings.Contains(getText(t, result), resp.RunID) {
		t.Error("get_run output does not contain the run id")
	}
}

func TestMCPAnalyzeImpactInvalidDeltas(t *testing.T) {
	deps := setupMCPDeps(t)
	handler := mcpAnalyzeImpact(deps)

	result, err := handler(context.Background(), makeCallToolRequest("analyze_impact", map[string]interface{}{
		"deltas": "not json",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for invalid deltas JSON")
	}
}

func TestMCPGetRunNotFound(t *testing.T) {
	deps := setupMCPDeps(t)
	handler := mcpGetRun(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_run", map[string]interface{}{
		"run_id": "does-not-exist",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for unknown run")
	}
}
