// Package lineage computes derived groupings over definition version
// chains. It never mutates entities.
package lineage

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/pkg/models"
)

// AncestorFetcher loads definitions by id. Missing ids are simply absent
// from the returned slice, not an error.
type AncestorFetcher interface {
	GetDefinitionsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Definition, error)
}

// Resolver resolves lineage roots over a known set of definitions.
type Resolver struct {
	known map[uuid.UUID]*models.Definition
}

// NewResolver builds a resolver over the given definitions.
func NewResolver(definitions []*models.Definition) *Resolver {
	known := make(map[uuid.UUID]*models.Definition, len(definitions))
	for _, d := range definitions {
		known[d.ID] = d
	}
	return &Resolver{known: known}
}

// Add merges more definitions into the known set.
func (r *Resolver) Add(definitions []*models.Definition) {
	for _, d := range definitions {
		r.known[d.ID] = d
	}
}

// RootOf walks parent pointers from d and returns the lineage root id.
// The walk stops at a missing parent pointer, a parent not in the known
// set, or a previously visited node (cycle guard). The last valid node's
// id is the root, so every definition in one chain maps to the same id.
func (r *Resolver) RootOf(d *models.Definition) uuid.UUID {
	visited := map[uuid.UUID]bool{d.ID: true}
	current := d
	for current.ParentID != nil {
		parent, ok := r.known[*current.ParentID]
		if !ok || visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		current = parent
	}
	return current.ID
}

// MissingParentIDs returns parent ids referenced by the known set but not
// themselves known.
func (r *Resolver) MissingParentIDs() []uuid.UUID {
	var missing []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, d := range r.known {
		if d.ParentID == nil {
			continue
		}
		if _, ok := r.known[*d.ParentID]; ok || seen[*d.ParentID] {
			continue
		}
		seen[*d.ParentID] = true
		missing = append(missing, *d.ParentID)
	}
	return missing
}

// HydrateAncestors fetches unknown ancestors until every parent pointer
// either resolves within the known set or is confirmed absent from the
// store. Each round either shrinks the missing set or fetches nothing
// new, so the loop terminates.
func (r *Resolver) HydrateAncestors(ctx context.Context, fetcher AncestorFetcher) error {
	unresolvable := map[uuid.UUID]bool{}
	for {
		missing := r.MissingParentIDs()
		var toFetch []uuid.UUID
		for _, id := range missing {
			if !unresolvable[id] {
				toFetch = append(toFetch, id)
			}
		}
		if len(toFetch) == 0 {
			return nil
		}

		fetched, err := fetcher.GetDefinitionsByIDs(ctx, toFetch)
		if err != nil {
			return fmt.Errorf("hydrate ancestors: %w", err)
		}

		got := map[uuid.UUID]bool{}
		for _, d := range fetched {
			got[d.ID] = true
		}
		r.Add(fetched)
		for _, id := range toFetch {
			if !got[id] {
				unresolvable[id] = true
			}
		}
	}
}

// Newer reports whether a should win over b when picking the most current
// definition of a lineage. Higher version wins; ties fall to the later
// update timestamp, then the later creation timestamp, then the id so the
// order is strict regardless of iteration order.
func Newer(a, b *models.Definition) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

// LatestPerLineage groups the given definitions by lineage root and keeps
// the winner of Newer within each group. Results are sorted by root id
// for stable output.
func (r *Resolver) LatestPerLineage(definitions []*models.Definition) []*models.Definition {
	latest := map[uuid.UUID]*models.Definition{}
	for _, d := range definitions {
		root := r.RootOf(d)
		if best, ok := latest[root]; !ok || Newer(d, best) {
			latest[root] = d
		}
	}

	roots := make([]uuid.UUID, 0, len(latest))
	for root := range latest {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].String() < roots[j].String()
	})

	result := make([]*models.Definition, 0, len(latest))
	for _, root := range roots {
		result = append(result, latest[root])
	}
	return result
}
