package ingest

import "math"

// MaxConfidence is the ceiling for every confidence score; certainty is never claimed.
const MaxConfidence = 0.999

// confidenceEpsilon absorbs float noise from subtracting discounts (0.8-0.02 != 0.78 exactly).
const confidenceEpsilon = 1e-9

// ClampConfidence bounds x to [0, MaxConfidence]. NaN maps to 0.
func ClampConfidence(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < 0:
		return 0
	case x > MaxConfidence:
		return MaxConfidence
	default:
		return x
	}
}

// AtLeast reports x >= threshold, tolerant of float rounding at the boundary.
func AtLeast(x, threshold float64) bool {
	return x >= threshold-confidenceEpsilon
}

// AtMost reports x <= threshold, tolerant of float rounding at the boundary.
func AtMost(x, threshold float64) bool {
	return x <= threshold+confidenceEpsilon
}

// MaxOf returns the larger confidence, clamped.
func MaxOf(a, b float64) float64 {
	return ClampConfidence(math.Max(ClampConfidence(a), ClampConfidence(b)))
}
