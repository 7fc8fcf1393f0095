// Package audience caches per-channel audience sizes and decides when the
// daily digest is due. Both concerns share one lock-guarded singleton that
// lives for the process lifetime.
package audience

import (
	"sync"
	"time"
)

// Cache maps channel identity to audience size with explicit invalidation:
// a full refresh is required when the cache is empty or the window end
// crosses a calendar day; otherwise only missing channels are topped up.
type Cache struct {
	mu sync.Mutex

	sizes          map[int64]int
	rangeFrom      time.Time
	rangeTo        time.Time
	lastDigestDate time.Time

	loc *time.Location
}

func NewCache(loc *time.Location) *Cache {
	if loc == nil {
		loc = time.UTC
	}

	return &Cache{
		sizes: make(map[int64]int),
		loc:   loc,
	}
}

// ShouldRefresh reports whether a full audience refresh is needed for a
// window ending at to.
func (c *Cache) ShouldRefresh(to time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sizes) == 0 {
		return true
	}

	lastY, lastM, lastD := c.rangeTo.In(c.loc).Date()
	toY, toM, toD := to.In(c.loc).Date()

	return lastY != toY || lastM != toM || lastD != toD
}

// MissingChannels returns the subset of ids without a cached audience size.
func (c *Cache) MissingChannels(ids []int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var missing []int64

	for _, id := range ids {
		if _, ok := c.sizes[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing
}

// Set stores the audience size of one channel. Failed fetches are recorded
// as zero so they are not retried within the same window.
func (c *Cache) Set(id int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sizes[id] = size
}

// Get returns the cached audience size of one channel.
func (c *Cache) Get(id int64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size, ok := c.sizes[id]

	return size, ok
}

// Reset clears all cached sizes before a full refresh.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sizes = make(map[int64]int)
}

// SetDateRange records the window covered by the most recent full refresh.
func (c *Cache) SetDateRange(from, to time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rangeFrom = from
	c.rangeTo = to
}

// Len returns the number of cached channels.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sizes)
}
