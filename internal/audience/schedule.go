package audience

import "time"

const digestHour = 12

// ShouldSendDigest reports whether the daily digest is due for a processing
// window [from, to]. The trigger is noon (in the configured location) of
// to's calendar day; the digest covers the previous day and fires at most
// once for it. The returned bounds are the start and the last microsecond
// of that previous day.
func (c *Cache) ShouldSendDigest(from, to time.Time) (time.Time, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	toLocal := to.In(c.loc)
	trigger := time.Date(toLocal.Year(), toLocal.Month(), toLocal.Day(), digestHour, 0, 0, 0, c.loc)

	if trigger.Before(from) || trigger.After(to) {
		return time.Time{}, time.Time{}, false
	}

	yesterday := trigger.AddDate(0, 0, -1)
	if sameDay(c.lastDigestDate, yesterday) {
		return time.Time{}, time.Time{}, false
	}

	dayStart := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, c.loc)
	dayEnd := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 23, 59, 59, 999999000, c.loc)

	return dayStart, dayEnd, true
}

// MarkDigestSent records that the digest covering day has been posted.
func (c *Cache) MarkDigestSent(day time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastDigestDate = day.In(c.loc)
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() && b.IsZero()
	}

	aY, aM, aD := a.Date()
	bY, bM, bD := b.Date()

	return aY == bY && aM == bM && aD == bD
}
