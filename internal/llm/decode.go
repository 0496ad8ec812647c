package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DecodeJSON unmarshals model output, tolerating code fences and prose around the object.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	sanitized := sanitizeJSON(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, snippet(sanitized))
	}
	return nil
}

func sanitizeJSON(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
}

func snippet(s string) string {
	const limit = 200
	if len(s) <= limit {
		return strconv.Quote(s)
	}
	return strconv.Quote(s[:limit] + "...")
}

// flexFloat accepts a JSON number, a numeric string, or null.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*f = flexFloat{}
		return nil
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil {
		// Unparseable numbers are treated as absent rather than failing the whole payload.
		*f = flexFloat{}
		return nil //nolint:nilerr
	}
	if strings.HasSuffix(raw, "%") {
		v /= 100
	}
	*f = flexFloat{Value: v, Set: true}
	return nil
}

// intPtr rounds a set value to a non-negative int pointer.
func (f flexFloat) intPtr() *int {
	if !f.Set || f.Value < 0 {
		return nil
	}
	n := int(f.Value + 0.5)
	return &n
}

// mention is a name given either as a bare string or as an object.
type mention struct {
	Name     string
	Sport    string
	Category string
}

func (m *mention) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = mention{Name: strings.TrimSpace(s)}
		return nil
	}
	var obj struct {
		Name     string `json:"name"`
		Exercise string `json:"exercise"`
		Athlete  string `json:"athlete"`
		Sport    string `json:"sport"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode mention: %w", err)
	}
	name := obj.Name
	for _, alt := range []string{obj.Exercise, obj.Athlete} {
		if name == "" {
			name = alt
		}
	}
	*m = mention{Name: strings.TrimSpace(name), Sport: strings.TrimSpace(obj.Sport), Category: strings.TrimSpace(obj.Category)}
	return nil
}
