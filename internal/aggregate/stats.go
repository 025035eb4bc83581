package aggregate

import (
	"math"
	"sort"

	"github.com/probelab/trialbench/pkg/models"
)

const (
	defaultDecisionScaleMax = 7
	contestedKeep           = 20
	z95                     = 1.96
)

// MergeStats merges per-model statistics across several runs' current
// analysis results into one aggregate payload.
//
// Decision distributions use mean-of-scenario-means: decisions are
// pooled per scenario first, each scenario contributes one vote at its
// rounded mean code. A scenario that accumulated more raw samples than
// its siblings therefore cannot dominate the aggregate.
func MergeStats(sources []models.TrialStats) models.TrialStats {
	scaleMax := defaultDecisionScaleMax
	for _, s := range sources {
		if s.DecisionScaleMax > scaleMax {
			scaleMax = s.DecisionScaleMax
		}
	}

	merged := models.TrialStats{
		DecisionScaleMax: scaleMax,
		PerModel:         map[string]models.ModelStats{},
	}

	for _, modelID := range modelIDs(sources) {
		merged.PerModel[modelID] = mergeModel(modelID, sources, scaleMax)
	}
	merged.Contested = mergeContested(sources)
	return merged
}

func modelIDs(sources []models.TrialStats) []string {
	seen := map[string]bool{}
	var ids []string
	for _, s := range sources {
		for id := range s.PerModel {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func mergeModel(modelID string, sources []models.TrialStats, scaleMax int) models.ModelStats {
	byScenario := map[string][]float64{}
	sampleSize := 0
	pairCounts := map[string]*models.WinRateStats{}
	pairRunRates := map[string][]float64{}

	for _, s := range sources {
		ms, ok := s.PerModel[modelID]
		if !ok {
			continue
		}
		sampleSize += ms.SampleSize
		for scenario, decisions := range ms.Decisions {
			byScenario[scenario] = append(byScenario[scenario], decisions...)
		}
		for pair, wr := range ms.WinRates {
			counts, ok := pairCounts[pair]
			if !ok {
				counts = &models.WinRateStats{}
				pairCounts[pair] = counts
			}
			counts.Prioritized += wr.Prioritized
			counts.Deprioritized += wr.Deprioritized
			counts.Neutral += wr.Neutral
			pairRunRates[pair] = append(pairRunRates[pair], wr.WinRate)
		}
	}

	distribution := map[int]int{}
	for _, decisions := range byScenario {
		if len(decisions) == 0 {
			continue
		}
		code := int(math.Round(mean(decisions)))
		if code < 1 {
			code = 1
		}
		if code > scaleMax {
			code = scaleMax
		}
		distribution[code]++
	}

	winRates := map[string]models.WinRateStats{}
	for pair, counts := range pairCounts {
		wr := *counts
		denominator := wr.Prioritized + wr.Deprioritized
		if denominator > 0 {
			wr.WinRate = float64(wr.Prioritized) / float64(denominator)
		} else {
			wr.WinRate = 0
		}

		// Confidence interval over the per-run win rates, not raw counts,
		// so long runs do not shrink the interval unfairly.
		rates := pairRunRates[pair]
		runMean := mean(rates)
		sem := 0.0
		if len(rates) > 1 {
			sem = sampleStdDev(rates) / math.Sqrt(float64(len(rates)))
		}
		lower := clamp01(runMean - z95*sem)
		upper := clamp01(runMean + z95*sem)
		wr.RunMean = &runMean
		wr.CILower = &lower
		wr.CIUpper = &upper

		winRates[pair] = wr
	}

	return models.ModelStats{
		SampleSize:   sampleSize,
		Decisions:    byScenario,
		Distribution: distribution,
		WinRates:     winRates,
	}
}

// mergeContested unions scenario ids across sources, averages their
// reported variance, and keeps the top entries by variance.
func mergeContested(sources []models.TrialStats) []models.ContestedScenario {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, s := range sources {
		for _, c := range s.Contested {
			sums[c.ScenarioID] += c.Variance
			counts[c.ScenarioID]++
		}
	}
	if len(sums) == 0 {
		return nil
	}

	contested := make([]models.ContestedScenario, 0, len(sums))
	for id, sum := range sums {
		contested = append(contested, models.ContestedScenario{
			ScenarioID: id,
			Variance:   sum / float64(counts[id]),
		})
	}
	sort.Slice(contested, func(i, j int) bool {
		if contested[i].Variance != contested[j].Variance {
			return contested[i].Variance > contested[j].Variance
		}
		return contested[i].ScenarioID < contested[j].ScenarioID
	})
	if len(contested) > contestedKeep {
		contested = contested[:contestedKeep]
	}
	return contested
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
