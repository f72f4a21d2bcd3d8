package index

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mhollis/regscan/internal/clause"
)

// ClauseEmbedder generates embeddings for clause text.
type ClauseEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Ingestor embeds clause records and writes them into the Index.
type Ingestor struct {
	index    *Index
	embedder ClauseEmbedder
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor with the given dependencies.
func NewIngestor(ix *Index, embedder ClauseEmbedder) *Ingestor {
	return &Ingestor{
		index:    ix,
		embedder: embedder,
		logger:   slog.Default(),
	}
}

// IngestDocument replaces the index entries for one document with freshly
// embedded entries for the given clauses. A clause whose embedding call
// fails is logged and skipped; the rest of the batch continues. Returns the
// number of clauses actually mapped.
func (g *Ingestor) IngestDocument(ctx context.Context, tenantID, documentNumber string, clauses []clause.Record) (int, error) {
	entries := g.buildEntries(ctx, tenantID, clauses)
	if err := g.index.ReplaceDocument(ctx, tenantID, documentNumber, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// IngestTenant clears the tenant's whole index and re-ingests every given
// clause. Running it N times in a row yields identical index state.
func (g *Ingestor) IngestTenant(ctx context.Context, tenantID string, clauses []clause.Record) (int, error) {
	entries := g.buildEntries(ctx, tenantID, clauses)
	if err := g.index.ReplaceTenant(ctx, tenantID, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (g *Ingestor) buildEntries(ctx context.Context, tenantID string, clauses []clause.Record) []Entry {
	entries := make([]Entry, 0, len(clauses))
	for _, c := range clauses {
		vec, err := g.embedder.Embed(ctx, c.Title+"\n"+c.Text)
		if err != nil {
			g.logger.Warn("skipping clause: embedding failed",
				"document", c.DocumentNumber, "clause", c.ClauseNumber, "error", err)
			continue
		}

		refs := "[]"
		if len(c.References) > 0 {
			if b, err := json.Marshal(c.References); err == nil {
				refs = string(b)
			}
		}

		entries = append(entries, Entry{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			DocumentNumber: c.DocumentNumber,
			ClauseNumber:   c.ClauseNumber,
			Title:          c.Title,
			Text:           c.Text,
			ReferencesJSON: refs,
			Embedding:      vec,
			CreatedAt:      time.Now().UTC(),
		})
	}
	return entries
}
