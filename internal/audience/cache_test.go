package audience

import (
	"testing"
	"time"
)

func TestShouldRefreshEmpty(t *testing.T) {
	c := NewCache(time.UTC)

	if !c.ShouldRefresh(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)) {
		t.Error("ShouldRefresh() = false on empty cache, want true")
	}
}

func TestShouldRefreshSameDay(t *testing.T) {
	c := NewCache(time.UTC)
	c.Set(1, 100)
	c.SetDateRange(
		time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	)

	if c.ShouldRefresh(time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)) {
		t.Error("ShouldRefresh() = true within the same day, want false")
	}

	if !c.ShouldRefresh(time.Date(2025, 6, 3, 1, 0, 0, 0, time.UTC)) {
		t.Error("ShouldRefresh() = false on the next day, want true")
	}
}

func TestMissingChannels(t *testing.T) {
	c := NewCache(time.UTC)
	c.Set(1, 100)
	c.Set(2, 0)

	missing := c.MissingChannels([]int64{1, 2, 3, 4})
	if len(missing) != 2 || missing[0] != 3 || missing[1] != 4 {
		t.Errorf("MissingChannels() = %v, want [3 4]", missing)
	}
}

func TestZeroSizeCounts(t *testing.T) {
	c := NewCache(time.UTC)
	c.Set(5, 0)

	size, ok := c.Get(5)
	if !ok || size != 0 {
		t.Errorf("Get(5) = %d, %v, want 0, true", size, ok)
	}

	if missing := c.MissingChannels([]int64{5}); len(missing) != 0 {
		t.Errorf("MissingChannels() = %v, want empty", missing)
	}
}

func TestResetClears(t *testing.T) {
	c := NewCache(time.UTC)
	c.Set(1, 100)
	c.Reset()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", c.Len())
	}
}
