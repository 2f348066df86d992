package domain

import "time"

// DayFormat is the calendar-date key for daily usage rows.
const DayFormat = "2006-01-02"

// DailyUsage tracks send attempts against the provider's daily quota.
// One row per calendar day, created lazily on the first attempt and retained
// for audit. Attempted always equals Succeeded + Failed.
type DailyUsage struct {
	Day       string
	Attempted int
	Succeeded int
	Failed    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DayKey returns the usage row key for the given instant, in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}
