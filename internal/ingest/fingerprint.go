package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Fingerprint is the stable dedup hash of a document's normalized url, title, and description.
// Fields are length-prefixed so distinct triples never serialize to the same input.
func Fingerprint(rawURL, title, description string) string {
	h := sha256.New()
	for _, part := range []string{NormalizeURL(rawURL), normalizeText(title), normalizeText(description)} {
		h.Write([]byte{byte(len(part) >> 24), byte(len(part) >> 16), byte(len(part) >> 8), byte(len(part))})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL lowercases scheme and host, drops fragments and a trailing slash, and sorts the query.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.ToLower(trimmed)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
