package service

import "math"

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bounded rejects non-finite values and clamps finite ones into [lo, hi]
func bounded(field string, v, lo, hi float64) (float64, error) {
	if !finite(v) {
		return 0, &InvalidInputError{Field: field, Value: v}
	}
	return clamp(v, lo, hi), nil
}

// required dereferences p, reporting which group and field were missing
func required(group, field string, p *float64, lo, hi float64) (float64, error) {
	if p == nil {
		return 0, &MissingModalityInputError{Modality: group, Field: field}
	}
	return bounded(group+"."+field, *p, lo, hi)
}

// populationStdDev of xs; zero for fewer than two values
func populationStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}
