package ingest

import "strings"

// Attribution is one provenance record linking a fact back to the document that produced it.
type Attribution struct {
	DocumentID string `json:"document_id,omitempty"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	Author     string `json:"author,omitempty"`
}

func (a Attribution) key() string {
	if k := NormalizeURL(a.URL); k != "" {
		return "url:" + k
	}
	return "doc:" + strings.TrimSpace(a.DocumentID)
}

// MergeAttribution appends incoming records to existing ones, preserving order and dropping any
// record whose URL is already present. Merging a deduplicated list with itself returns it unchanged.
func MergeAttribution(existing, incoming []Attribution) []Attribution {
	out := make([]Attribution, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, list := range [][]Attribution{existing, incoming} {
		for _, a := range list {
			k := a.key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
