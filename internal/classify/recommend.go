package classify

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/abelbrown/sightline/internal/model"
)

// Recommend ranks the catalog entries effective against class for an
// incident at loc whose equipment reaches rangeKm (0 when unknown).
// Ordering is score descending, then name.
func Recommend(catalog []model.CounterMeasure, class model.OperationalClass, rangeKm float64, loc model.GeoPoint, w Weights) []model.Recommendation {
	var candidates []model.CounterMeasure
	for _, cm := range catalog {
		if cm.Targets(class) {
			candidates = append(candidates, cm)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	minCost := math.Inf(1)
	for _, cm := range candidates {
		if cm.Cost > 0 && cm.Cost < minCost {
			minCost = cm.Cost
		}
	}

	recs := make([]model.Recommendation, len(candidates))
	for i, cm := range candidates {
		costFactor := 1.0
		if cm.Cost > 0 {
			costFactor = minCost / cm.Cost // 1 / (cost / minCost)
		}
		rangeFactor := 1.0
		if cm.RangeKm < rangeKm {
			rangeFactor = w.RangeShortfall
		}
		score := w.Effectiveness*cm.Effectiveness + w.Cost*costFactor + w.Range*rangeFactor
		score = math.Round(score*1e9) / 1e9

		rec := model.Recommendation{
			CounterMeasure: cm.Name,
			Score:          score,
			Effectiveness:  cm.Effectiveness,
			Reasoning:      reasoning(cm, class, costFactor, rangeKm),
		}
		if cm.Mobile {
			at := loc
			rec.Deploy = &at
		} else {
			rec.Informational = true
		}
		recs[i] = rec
	}

	slices.SortStableFunc(recs, func(a, b model.Recommendation) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.CounterMeasure, b.CounterMeasure)
	})

	scores := make([]float64, len(recs))
	for i, r := range recs {
		scores[i] = r.Score
	}
	q1, med, q3 := quartiles(scores)
	for i := range recs {
		recs[i].Tier = tier(recs[i].Score, q1, med, q3)
	}
	return recs
}

func tier(score, q1, med, q3 float64) model.Tier {
	switch {
	case score >= q3:
		return model.TierCritical
	case score >= med:
		return model.TierHigh
	case score >= q1:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// quartiles returns Q1, median and Q3 using linear interpolation between
// closest ranks.
func quartiles(xs []float64) (q1, med, q3 float64) {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return quantile(sorted, 0.25), quantile(sorted, 0.5), quantile(sorted, 0.75)
}

func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func reasoning(cm model.CounterMeasure, class model.OperationalClass, costFactor, rangeKm float64) string {
	cover := "range unknown"
	switch {
	case rangeKm > 0 && cm.RangeKm >= rangeKm:
		cover = fmt.Sprintf("covers %.0f km equipment range", rangeKm)
	case rangeKm > 0:
		cover = fmt.Sprintf("%.0f km reach short of %.0f km equipment range", cm.RangeKm, rangeKm)
	}
	s := fmt.Sprintf("%s %s against %s: effectiveness %.2f, relative cost %.2f, %s",
		cm.Type, cm.Name, class, cm.Effectiveness, costFactor, cover)
	if cm.RequiresAuthorization {
		s += "; requires authorization"
	}
	if !cm.Mobile {
		s += "; fixed asset, informational only"
	}
	return s
}
