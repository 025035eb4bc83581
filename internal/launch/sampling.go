package launch

import (
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
)

// SampleScenarios deterministically selects max(1, round(N*P/100))
// scenarios. The same (scenario set, percentage, seed) always yields the
// same selection; percentage 100 selects everything regardless of seed.
func SampleScenarios(scenarioIDs []uuid.UUID, percentage int, seed int64) []uuid.UUID {
	// Canonical order first so selection is independent of input order.
	sorted := make([]uuid.UUID, len(scenarioIDs))
	copy(sorted, scenarioIDs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	if percentage >= 100 || len(sorted) == 0 {
		return sorted
	}

	count := int(math.Round(float64(len(sorted)) * float64(percentage) / 100))
	if count < 1 {
		count = 1
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(sorted))

	selected := make([]uuid.UUID, 0, count)
	for _, idx := range perm[:count] {
		selected = append(selected, sorted[idx])
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].String() < selected[j].String()
	})
	return selected
}
