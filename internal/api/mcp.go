package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mhollis/regscan/internal/regdiff"
	"github.com/mhollis/regscan/internal/storage"
)

// QueryEmbedder generates embeddings for search queries.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MCPDeps holds dependencies for the MCP server. MCP sessions are local
// stdio sessions and operate on the default tenant.
type MCPDeps struct {
	App      AppDeps
	Embedder QueryEmbedder
}

const mcpTenant = "default"

// NewMCPServer creates an MCP server with the impact-analysis tools
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"regscan",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("regscan — matches regulatory changes against internal quality procedure clauses and reports impacted sections."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_clauses",
			mcp.WithDescription("Semantically search the mapped QSP clauses and return the closest matches."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchClauses(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_impact",
			mcp.WithDescription("Match regulatory change deltas against the clause index and persist an analysis run."),
			mcp.WithString("deltas", mcp.Description("JSON array of {clause_id, change_type, old_text, new_text} delta objects"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Matches per delta (default from config)")),
		),
		mcpAnalyzeImpact(deps),
	)

	s.AddTool(
		mcp.NewTool("get_run",
			mcp.WithDescription("Retrieve a stored analysis run with its impact findings."),
			mcp.WithString("run_id", mcp.Description("Analysis run id"), mcp.Required()),
		),
		mcpGetRun(deps),
	)

	return s
}

func mcpSearchClauses(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		vec, err := deps.Embedder.Embed(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding failed: %v", err)), nil
		}

		scored, err := deps.App.Index.Search(ctx, mcpTenant, vec, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(scored) == 0 {
			return mcpText("[]"), nil
		}

		type clauseResult struct {
			DocumentNumber string  `json:"document_number"`
			ClauseNumber   string  `json:"clause_number"`
			Title          string  `json:"title"`
			Text           string  `json:"text"`
			Score          float32 `json:"score"`
		}

		results := make([]clauseResult, len(scored))
		for i, s := range scored {
			results[i] = clauseResult{
				DocumentNumber: s.DocumentNumber,
				ClauseNumber:   s.ClauseNumber,
				Title:          s.Title,
				Text:           s.Text,
				Score:          s.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAnalyzeImpact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deltasJSON, err := req.RequireString("deltas")
		if err != nil {
			return mcpError("deltas is required"), nil
		}

		var deltas []regdiff.Delta
		if err := json.Unmarshal([]byte(deltasJSON), &deltas); err != nil {
			return mcpError(fmt.Sprintf("invalid deltas JSON: %v", err)), nil
		}

		topK := req.GetInt("top_k", deps.App.TopK)
		if topK <= 0 {
			topK = deps.App.TopK
		}

		runID, result, warning, err := runAnalysis(ctx, deps.App, mcpTenant, deltas, topK, "")
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		resp := map[string]any{
			"run_id":              runID,
			"total_impacts_found": result.TotalImpactsFound,
			"impacts":             result.Impacts,
		}
		if warning != "" {
			resp["warning"] = warning
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetRun(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}

		run, err := deps.App.Store.GetAnalysisRun(mcpTenant, runID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("run %s not found", runID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get run: %v", err)), nil
		}

		out, err := storage.ExportRunJSON(run)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to render run: %v", err)), nil
		}
		return mcpText(string(out)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
