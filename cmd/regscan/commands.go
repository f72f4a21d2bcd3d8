package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mhollis/regscan/internal/config"
)

var cmdCtx = context.Background()

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a QSP document and parse it into clauses",
	Long: `Upload a QSP document and parse it into clauses.

The document number and revision are taken from the filename,
e.g. QSP_7.3-3_R9_Design_Control.docx.

Examples:
  regscan upload ./QSP_7.3-3_R9_Design_Control.docx
  regscan upload ./QSP_4.2-1_R12.pdf --tenant acme`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		req := map[string]any{
			"filename":       filepath.Base(args[0]),
			"content_base64": base64.StdEncoding.EncodeToString(data),
		}
		resp, err := client.post(cmdCtx, "/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			DocumentNumber string `json:"document_number"`
			Revision       string `json:"revision"`
			TotalClauses   int    `json:"total_clauses"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Uploaded %s %s (%d clauses)", result.DocumentNumber, result.Revision, result.TotalClauses)
		return nil
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage uploaded QSP documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/documents")
		if err != nil {
			return err
		}

		var docs []struct {
			DocumentNumber string `json:"document_number"`
			Revision       string `json:"revision"`
			Filename       string `json:"filename"`
			ClauseCount    int    `json:"clause_count"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents uploaded.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %s  %d clauses  (%s)\n",
				colorize(colorBold, d.DocumentNumber),
				d.Revision,
				d.ClauseCount,
				d.Filename,
			)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <document-number>",
	Short: "Delete a document and its mapped clauses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.delete(cmdCtx, "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var documentsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all documents and mapped clauses for the tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL documents for the tenant. Use --confirm to proceed.")
			return nil
		}

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.delete(cmdCtx, "/documents")
		if err != nil {
			return err
		}

		var result map[string]int64
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d documents", result["deleted_count"])
		return nil
	},
}

func init() {
	documentsPurgeCmd.Flags().Bool("confirm", false, "confirm deletion")
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
	documentsCmd.AddCommand(documentsPurgeCmd)
}

// --- map ---

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Embed and index the clauses of all uploaded documents",
	Long: `Embed and index the clauses of all uploaded documents.

Rebuilds the tenant's clause index from scratch. Run it after uploading
or re-uploading documents; running it again is harmless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		printStep("Mapping clauses...")
		resp, err := client.post(cmdCtx, "/clause-map", nil)
		if err != nil {
			return err
		}

		var result struct {
			TotalQSPDocuments  int `json:"total_qsp_documents"`
			TotalClausesMapped int `json:"total_clauses_mapped"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Mapped %d clauses from %d documents", result.TotalClausesMapped, result.TotalQSPDocuments)
		return nil
	},
}

// --- diff ---

var diffCmd = &cobra.Command{
	Use:   "diff <old-file> <new-file>",
	Short: "Compare two revisions of a regulatory text",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldData, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading old file: %w", err)
		}
		newData, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading new file: %w", err)
		}

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		req := map[string]any{
			"old_filename":       filepath.Base(args[0]),
			"old_content_base64": base64.StdEncoding.EncodeToString(oldData),
			"new_filename":       filepath.Base(args[1]),
			"new_content_base64": base64.StdEncoding.EncodeToString(newData),
		}
		resp, err := client.post(cmdCtx, "/diff", req)
		if err != nil {
			return err
		}

		var result struct {
			DiffID       string `json:"diff_id"`
			TotalChanges int    `json:"total_changes"`
			Summary      struct {
				Added    int `json:"added"`
				Modified int `json:"modified"`
				Deleted  int `json:"deleted"`
			} `json:"summary"`
			Deltas []struct {
				ClauseID   string `json:"clause_id"`
				ChangeType string `json:"change_type"`
				Title      string `json:"title"`
			} `json:"deltas"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Diff %s: %d changes (%d added, %d modified, %d deleted)",
			result.DiffID, result.TotalChanges,
			result.Summary.Added, result.Summary.Modified, result.Summary.Deleted)
		for _, d := range result.Deltas {
			fmt.Printf("  %s %s  %s\n", changeMarker(d.ChangeType), colorize(colorBold, d.ClauseID), d.Title)
		}
		return nil
	},
}

func changeMarker(changeType string) string {
	switch changeType {
	case "added":
		return colorize(colorGreen, "+")
	case "deleted":
		return colorize(colorRed, "-")
	default:
		return colorize(colorYellow, "~")
	}
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Match regulatory change deltas against the clause index",
	Long: `Match regulatory change deltas against the clause index.

Examples:
  regscan analyze --diff 6e0d8c2a-...
  regscan analyze --deltas ./deltas.json --top-k 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diffID, _ := cmd.Flags().GetString("diff")
		deltasFile, _ := cmd.Flags().GetString("deltas")
		topK, _ := cmd.Flags().GetInt("top-k")

		if diffID == "" && deltasFile == "" {
			return fmt.Errorf("one of --diff or --deltas is required")
		}

		req := map[string]any{}
		if diffID != "" {
			req["diff_id"] = diffID
		}
		if deltasFile != "" {
			data, err := os.ReadFile(deltasFile)
			if err != nil {
				return fmt.Errorf("reading deltas file: %w", err)
			}
			var deltas []json.RawMessage
			if err := json.Unmarshal(data, &deltas); err != nil {
				return fmt.Errorf("invalid deltas JSON: %w", err)
			}
			req["deltas"] = deltas
		}
		if topK > 0 {
			req["top_k"] = topK
		}

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		printStep("Analyzing impact...")
		resp, err := client.post(cmdCtx, "/analyze", req)
		if err != nil {
			return err
		}

		var result struct {
			RunID             string `json:"run_id"`
			TotalImpactsFound int    `json:"total_impacts_found"`
			Warning           string `json:"warning"`
			Impacts           []struct {
				RegClause       string  `json:"reg_clause"`
				ChangeType      string  `json:"change_type"`
				QSPDoc          string  `json:"qsp_doc"`
				QSPClause       string  `json:"qsp_clause"`
				QSPTitle        string  `json:"qsp_title"`
				Rationale       string  `json:"rationale"`
				SimilarityScore float32 `json:"similarity_score"`
			} `json:"impacts"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Warning != "" {
			printWarning("%s", result.Warning)
		}
		printSuccess("Run %s: %d impacts", result.RunID, result.TotalImpactsFound)
		for _, im := range result.Impacts {
			fmt.Printf("\n%s %s -> QSP %s §%s %s [%.3f]\n",
				changeMarker(im.ChangeType),
				colorize(colorBold, im.RegClause),
				im.QSPDoc, im.QSPClause, im.QSPTitle,
				im.SimilarityScore,
			)
			fmt.Printf("  %s\n", im.Rationale)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("diff", "", "analyze the deltas of a stored diff run")
	analyzeCmd.Flags().String("deltas", "", "path to a JSON file with delta objects")
	analyzeCmd.Flags().Int("top-k", 0, "matches per delta (default from config)")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and export analysis runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent analysis runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, fmt.Sprintf("/runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var runs []struct {
			ID           string `json:"id"`
			CreatedAt    string `json:"created_at"`
			TotalImpacts int    `json:"total_impacts_found"`
			Warning      string `json:"warning"`
		}
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No analysis runs found.")
			return nil
		}

		for _, r := range runs {
			line := fmt.Sprintf("%s  %s  %d impacts",
				colorize(colorCyan, r.ID[:8]),
				r.CreatedAt,
				r.TotalImpacts,
			)
			if r.Warning != "" {
				line += "  " + colorize(colorYellow, "(warning)")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a single analysis run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/runs/"+args[0])
		if err != nil {
			return err
		}

		var run any
		if err := decodeJSON(resp, &run); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export an analysis run as CSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, fmt.Sprintf("/runs/%s/export?format=%s", args[0], format))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		var writer *os.File
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		} else {
			writer = os.Stdout
		}

		if _, err := io.Copy(writer, resp.Body); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported run to %s", output)
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsExportCmd.Flags().String("format", "csv", "export format: csv or json")
	runsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
}

// --- hierarchy ---

var hierarchyCmd = &cobra.Command{
	Use:   "hierarchy",
	Short: "Manage the form and work instruction hierarchy",
}

var hierarchyLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load the artifact hierarchy from a JSON file",
	Long: `Load the artifact hierarchy from a JSON file.

The file holds an "artifacts" array of {id, name, type, parent} objects
where type is "form" or "work_instruction". Loading replaces the
tenant's entire hierarchy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		var req struct {
			Artifacts []json.RawMessage `json:"artifacts"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("invalid hierarchy JSON: %w", err)
		}

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.put(cmdCtx, "/hierarchy", req)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Loaded %d artifacts", result["loaded"])
		return nil
	},
}

func init() {
	hierarchyCmd.AddCommand(hierarchyLoadCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: fmt.Sprintf(`Set a configuration value.

Valid keys:
  %s`, strings.Join(config.ValidKeys(), "\n  ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
