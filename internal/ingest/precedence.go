package ingest

import "strings"

// FirstNonEmpty returns the first value that is non-blank after trimming, in argument order.
// Callers list candidates from most to least authoritative.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// FirstPresent returns the first non-zero value and whether one was found.
func FirstPresent[T comparable](values ...T) (T, bool) {
	var zero T
	for _, v := range values {
		if v != zero {
			return v, true
		}
	}
	return zero, false
}

// ResolveSport picks a document's sport: explicit source metadata, then detection over the text.
// It returns "" when neither yields a known sport.
func ResolveSport(sourceHint, title, description string) string {
	return FirstNonEmpty(NormalizeSport(sourceHint), DetectSport(title+" "+description))
}
