package telemetry

import "sync"

// DefaultAttrValueLimit bounds the distinct values recorded per metric
// attribute when no explicit limit is configured.
const DefaultAttrValueLimit = 200

// CardinalityOverflow replaces attribute values once their attribute has
// seen its limit of distinct values.
const CardinalityOverflow = "other"

// cardinalityLimiter caps the number of distinct values per metric
// attribute so a caller minting event names from user data cannot create
// unbounded timeseries at the backend. Slots are first come first served;
// a full attribute keeps reporting known values under their own name and
// collapses everything new to CardinalityOverflow.
type cardinalityLimiter struct {
	limit int

	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func newCardinalityLimiter(limit int) *cardinalityLimiter {
	if limit <= 0 {
		limit = DefaultAttrValueLimit
	}
	return &cardinalityLimiter{
		limit: limit,
		seen:  make(map[string]map[string]struct{}),
	}
}

// admit returns the value to record for attr: the value itself while attr
// has capacity or already knows it, CardinalityOverflow otherwise.
func (c *cardinalityLimiter) admit(attr, value string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, ok := c.seen[attr]
	if !ok {
		values = make(map[string]struct{})
		c.seen[attr] = values
	}
	if _, known := values[value]; known {
		return value
	}
	if len(values) >= c.limit {
		return CardinalityOverflow
	}
	values[value] = struct{}{}
	return value
}

// used reports the distinct values tracked across all attributes.
func (c *cardinalityLimiter) used() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, values := range c.seen {
		total += len(values)
	}
	return total
}
