// Package cascade resolves clause references to downstream document
// artifacts (forms, work instructions) using the tenant's document
// hierarchy.
package cascade

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Artifact types stored in the hierarchy.
const (
	TypeForm            = "form"
	TypeWorkInstruction = "work_instruction"
)

// Impact classifications. A directly referenced artifact is "direct";
// its children picked up by the walk are "downstream".
const (
	ImpactDirect     = "direct"
	ImpactDownstream = "downstream"
)

// Artifact is one node of the document hierarchy.
type Artifact struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Parent     string `json:"parent,omitempty"`
	ImpactType string `json:"impact_type,omitempty"`
}

// Downstream groups resolved artifacts by kind for finding output.
type Downstream struct {
	Forms            []Artifact `json:"forms,omitempty"`
	WorkInstructions []Artifact `json:"work_instructions,omitempty"`
}

// Empty reports whether resolution found nothing.
func (d *Downstream) Empty() bool {
	return d == nil || (len(d.Forms) == 0 && len(d.WorkInstructions) == 0)
}

// Resolver looks up hierarchy artifacts by reference id.
type Resolver struct {
	db *sql.DB
}

// New creates a Resolver over the given database.
func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve maps clause references to hierarchy artifacts and walks one
// level down to their children. References with no hierarchy entry are
// skipped; an unmapped reference is expected, not an error. Output is
// deduplicated by artifact id and sorted for stable responses.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, refs []string) (*Downstream, error) {
	if len(refs) == 0 {
		return &Downstream{}, nil
	}

	seen := make(map[string]Artifact)
	for _, ref := range refs {
		a, err := r.lookup(ctx, tenantID, ref)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving reference %s: %w", ref, err)
		}
		a.ImpactType = ImpactDirect
		seen[a.ID] = a

		children, err := r.children(ctx, tenantID, a.ID)
		if err != nil {
			return nil, fmt.Errorf("resolving children of %s: %w", a.ID, err)
		}
		for _, c := range children {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			c.ImpactType = ImpactDownstream
			seen[c.ID] = c
		}
	}

	out := &Downstream{}
	for _, a := range seen {
		switch a.Type {
		case TypeForm:
			out.Forms = append(out.Forms, a)
		case TypeWorkInstruction:
			out.WorkInstructions = append(out.WorkInstructions, a)
		}
	}
	sortArtifacts(out.Forms)
	sortArtifacts(out.WorkInstructions)
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, tenantID, id string) (Artifact, error) {
	var a Artifact
	var parent sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, type, parent FROM hierarchy_artifacts WHERE tenant_id = ? AND id = ?`,
		tenantID, id).Scan(&a.ID, &a.Name, &a.Type, &parent)
	if err != nil {
		return Artifact{}, err
	}
	a.Parent = parent.String
	return a, nil
}

func (r *Resolver) children(ctx context.Context, tenantID, parentID string) ([]Artifact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, type, parent FROM hierarchy_artifacts WHERE tenant_id = ? AND parent = ?`,
		tenantID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var parent sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &parent); err != nil {
			return nil, err
		}
		a.Parent = parent.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func sortArtifacts(as []Artifact) {
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
}
