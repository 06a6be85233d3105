package common

import (
	"time"
)

// QueryWindow describes how far back a polling run reaches. The window start
// is derived from the local wall clock at job start: the date is moved back by
// DaysBack days and the clock is pinned to StartHour:00:00.000 local time.
type QueryWindow struct {
	DaysBack  int
	StartHour int
}

// Start returns the window start in UTC. The calendar arithmetic happens in
// now's own location; callers pass the local wall clock.
func (w QueryWindow) Start(now time.Time) time.Time {
	local := now.AddDate(0, 0, -w.DaysBack)
	start := time.Date(local.Year(), local.Month(), local.Day(), w.StartHour, 0, 0, 0, local.Location())
	return start.UTC()
}

// FromUnix returns the window start as unix seconds (Stack Exchange fromdate).
func (w QueryWindow) FromUnix(now time.Time) int64 {
	return w.Start(now).Unix()
}

// FromISO returns the window start as ISO-8601 without sub-second precision
// (the form the SCM search qualifier `created:>` accepts).
func (w QueryWindow) FromISO(now time.Time) string {
	return w.Start(now).Format("2006-01-02T15:04:05Z")
}
