package risk

import (
	"fmt"
	"math"
)

// Normalize rescales value from [min, max] into a [0,1] health score.
// Values outside the range are clamped. For LowerIsBetter the value is
// mirrored inside the range first, so the result is always
// "higher = healthier".
func Normalize(value, min, max float64, orientation Orientation) (float64, error) {
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return 0, fmt.Errorf("%w: non-finite bounds [%v, %v]", ErrMetricConfiguration, min, max)
	}
	if max <= min {
		return 0, fmt.Errorf("%w: max %.6g must exceed min %.6g", ErrMetricConfiguration, max, min)
	}
	if math.IsNaN(value) {
		return 0, fmt.Errorf("%w: value is NaN", ErrMetricConfiguration)
	}

	switch orientation {
	case HigherIsBetter, "":
	case LowerIsBetter:
		value = max + min - value
	default:
		return 0, fmt.Errorf("%w: unknown orientation %q", ErrMetricConfiguration, orientation)
	}

	return clamp01((value - min) / (max - min)), nil
}

// NormalizeMetric validates a metric and computes its normalized score.
func NormalizeMetric(m Metric) (NormalizedMetric, error) {
	if m.Category == "" || m.Name == "" {
		return NormalizedMetric{}, fmt.Errorf("%w: category and name are required", ErrMetricConfiguration)
	}
	if !(m.Weight > 0) || math.IsInf(m.Weight, 0) {
		return NormalizedMetric{}, fmt.Errorf("%w: weight %v must be positive", ErrMetricConfiguration, m.Weight)
	}
	score, err := Normalize(m.Value, m.Min, m.Max, m.Orientation)
	if err != nil {
		return NormalizedMetric{}, err
	}
	return NormalizedMetric{Metric: m, Score: score}, nil
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
