package risk

// AggregateCategory combines one category's normalized metrics into a
// weighted mean. Weights are renormalized over the metrics actually present,
// so they need not sum to 1. It reports false when no metrics are present:
// an absent category is never scored.
func AggregateCategory(category string, metrics []NormalizedMetric) (CategoryScore, bool) {
	var weighted, total float64
	var present []NormalizedMetric
	for _, m := range metrics {
		if m.Category != category {
			continue
		}
		weighted += m.Score * m.Weight
		total += m.Weight
		present = append(present, m)
	}
	if len(present) == 0 || total <= 0 {
		return CategoryScore{}, false
	}

	return CategoryScore{
		Category:     category,
		Score:        clamp01(weighted / total),
		Coverage:     len(present),
		MetricWeight: total,
		Metrics:      present,
	}, true
}

// Composite combines present category scores into an overall score using
// the model's category weights, renormalized over the categories present.
// The returned slice carries each category's effective weight. Categories
// unknown to the model are ignored.
func Composite(categories []CategoryScore, model Model) (float64, []CategoryScore, bool) {
	var total float64
	used := make([]CategoryScore, 0, len(categories))
	for _, c := range categories {
		w, ok := model.Weight(c.Category)
		if !ok || w <= 0 {
			continue
		}
		total += w
		used = append(used, c)
	}
	if len(used) == 0 || total <= 0 {
		return 0, nil, false
	}

	var overall float64
	for i := range used {
		w, _ := model.Weight(used[i].Category)
		used[i].EffectiveWeight = w / total
		overall += used[i].Score * used[i].EffectiveWeight
	}
	return clamp01(overall), used, true
}
