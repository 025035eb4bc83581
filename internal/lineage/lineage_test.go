package lineage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/pkg/models"
)

func def(id uuid.UUID, parent *uuid.UUID, version int, updated time.Time) *models.Definition {
	return &models.Definition{
		ID:        id,
		ParentID:  parent,
		Version:   version,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

// --- RootOf tests ---

func TestRootOf_Chain(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rootID := uuid.New()
	midID := uuid.New()
	tipID := uuid.New()

	root := def(rootID, nil, 1, base)
	mid := def(midID, &rootID, 2, base.Add(time.Hour))
	tip := def(tipID, &midID, 3, base.Add(2*time.Hour))

	r := NewResolver([]*models.Definition{root, mid, tip})

	for _, d := range []*models.Definition{root, mid, tip} {
		if got := r.RootOf(d); got != rootID {
			t.Errorf("RootOf(%s) = %s, want %s", d.ID, got, rootID)
		}
	}
}

func TestRootOf_UnknownParentStopsWalk(t *testing.T) {
	missing := uuid.New()
	d := def(uuid.New(), &missing, 2, time.Now())

	r := NewResolver([]*models.Definition{d})

	// The parent is unknown, so the definition is its own root.
	if got := r.RootOf(d); got != d.ID {
		t.Errorf("RootOf = %s, want %s", got, d.ID)
	}
}

func TestRootOf_CycleTerminates(t *testing.T) {
	aID := uuid.New()
	bID := uuid.New()
	a := def(aID, &bID, 1, time.Now())
	b := def(bID, &aID, 1, time.Now())

	r := NewResolver([]*models.Definition{a, b})

	// A corrupt cycle must not hang. Both members resolve to a member of
	// the cycle.
	got := r.RootOf(a)
	if got != aID && got != bID {
		t.Errorf("RootOf in cycle = %s, want %s or %s", got, aID, bID)
	}
}

// --- Newer tests ---

func TestNewer(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lowID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	highID := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	tests := []struct {
		name string
		a, b *models.Definition
		want bool
	}{
		{
			name: "higher version wins over later timestamp",
			a:    def(lowID, nil, 3, base),
			b:    def(highID, nil, 2, base.Add(time.Hour)),
			want: true,
		},
		{
			name: "equal version falls to updated at",
			a:    def(lowID, nil, 2, base.Add(time.Hour)),
			b:    def(highID, nil, 2, base),
			want: true,
		},
		{
			name: "full tie falls to id",
			a:    def(highID, nil, 2, base),
			b:    def(lowID, nil, 2, base),
			want: true,
		},
		{
			name: "lower version loses",
			a:    def(highID, nil, 1, base.Add(time.Hour)),
			b:    def(lowID, nil, 2, base),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Newer(tt.a, tt.b); got != tt.want {
				t.Errorf("Newer = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewer_StrictOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := def(uuid.New(), nil, 2, base)
	b := def(uuid.New(), nil, 2, base)

	// Exactly one direction may report newer for distinct definitions.
	if Newer(a, b) == Newer(b, a) {
		t.Errorf("Newer is not a strict order: Newer(a,b)=%v Newer(b,a)=%v",
			Newer(a, b), Newer(b, a))
	}
}

// --- LatestPerLineage tests ---

func TestLatestPerLineage_PicksTipPerChain(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Lineage 1: root1 <- v2 <- v3.
	root1ID := uuid.New()
	v2ID := uuid.New()
	v3ID := uuid.New()
	root1 := def(root1ID, nil, 1, base)
	v2 := def(v2ID, &root1ID, 2, base.Add(time.Hour))
	v3 := def(v3ID, &v2ID, 3, base.Add(2*time.Hour))

	// Lineage 2: a single definition.
	solo := def(uuid.New(), nil, 1, base)

	r := NewResolver([]*models.Definition{root1, v2, v3, solo})
	latest := r.LatestPerLineage([]*models.Definition{v2, solo, root1, v3})

	if len(latest) != 2 {
		t.Fatalf("got %d lineages, want 2", len(latest))
	}
	ids := map[uuid.UUID]bool{}
	for _, d := range latest {
		ids[d.ID] = true
	}
	if !ids[v3ID] {
		t.Errorf("expected chain tip %s in result", v3ID)
	}
	if !ids[solo.ID] {
		t.Errorf("expected solo definition %s in result", solo.ID)
	}
}

func TestLatestPerLineage_StableOutput(t *testing.T) {
	base := time.Now()
	defs := []*models.Definition{
		def(uuid.New(), nil, 1, base),
		def(uuid.New(), nil, 1, base),
		def(uuid.New(), nil, 1, base),
	}
	r := NewResolver(defs)

	first := r.LatestPerLineage(defs)
	second := r.LatestPerLineage([]*models.Definition{defs[2], defs[0], defs[1]})

	if len(first) != len(second) {
		t.Fatalf("result lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("position %d differs: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

// --- HydrateAncestors tests ---

type fakeFetcher struct {
	defs  map[uuid.UUID]*models.Definition
	calls int
	err   error
}

func (f *fakeFetcher) GetDefinitionsByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Definition, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Definition
	for _, id := range ids {
		if d, ok := f.defs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestHydrateAncestors_FetchesChain(t *testing.T) {
	base := time.Now()
	rootID := uuid.New()
	midID := uuid.New()
	tipID := uuid.New()

	root := def(rootID, nil, 1, base)
	mid := def(midID, &rootID, 2, base)
	tip := def(tipID, &midID, 3, base)

	fetcher := &fakeFetcher{defs: map[uuid.UUID]*models.Definition{
		rootID: root,
		midID:  mid,
	}}

	// Only the tip is known up front. Hydration must walk back two levels.
	r := NewResolver([]*models.Definition{tip})
	if err := r.HydrateAncestors(context.Background(), fetcher); err != nil {
		t.Fatalf("HydrateAncestors: %v", err)
	}

	if got := r.RootOf(tip); got != rootID {
		t.Errorf("RootOf after hydration = %s, want %s", got, rootID)
	}
	if fetcher.calls != 2 {
		t.Errorf("fetcher called %d times, want 2", fetcher.calls)
	}
}

func TestHydrateAncestors_UnresolvableParentTerminates(t *testing.T) {
	gone := uuid.New()
	orphan := def(uuid.New(), &gone, 2, time.Now())

	fetcher := &fakeFetcher{defs: map[uuid.UUID]*models.Definition{}}
	r := NewResolver([]*models.Definition{orphan})

	if err := r.HydrateAncestors(context.Background(), fetcher); err != nil {
		t.Fatalf("HydrateAncestors: %v", err)
	}
	// The store returned nothing for the parent. One fetch, then stop.
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", fetcher.calls)
	}
	if got := r.RootOf(orphan); got != orphan.ID {
		t.Errorf("orphan should be its own root, got %s", got)
	}
}

func TestHydrateAncestors_FetchError(t *testing.T) {
	missing := uuid.New()
	d := def(uuid.New(), &missing, 2, time.Now())
	fetchErr := errors.New("db down")

	r := NewResolver([]*models.Definition{d})
	err := r.HydrateAncestors(context.Background(), &fakeFetcher{err: fetchErr})
	if !errors.Is(err, fetchErr) {
		t.Errorf("expected wrapped fetch error, got %v", err)
	}
}
