package ingest

import "sort"

// Counters are the aggregate outcome of one stage invocation.
type Counters struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Failed    int
	// Malformed counts provider items dropped at the boundary; they are not folded into Skipped.
	Malformed int
	Extra     map[string]int
}

// Inc bumps a stage-specific counter.
func (c *Counters) Inc(name string) {
	if c.Extra == nil {
		c.Extra = make(map[string]int)
	}
	c.Extra[name]++
}

// AddExtra bumps a stage-specific counter by n. Zero is a no-op.
func (c *Counters) AddExtra(name string, n int) {
	if n == 0 {
		return
	}
	if c.Extra == nil {
		c.Extra = make(map[string]int)
	}
	c.Extra[name] += n
}

// Add folds other into c.
func (c *Counters) Add(other Counters) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Failed += other.Failed
	c.Malformed += other.Malformed
	for k, v := range other.Extra {
		if c.Extra == nil {
			c.Extra = make(map[string]int)
		}
		c.Extra[k] += v
	}
}

// ExtraKeys returns the stage-specific counter names in stable order.
func (c Counters) ExtraKeys() []string {
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
