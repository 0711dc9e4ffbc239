// Package markethours provides the trading calendar used by the weekly
// breakout strategy: week boundaries anchored to a configurable weekday and
// hour in the bot's timezone, and whole-day elapsed checks for cooldowns.
package markethours

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Day is the cooldown unit: a whole 24h day.
const Day = 24 * time.Hour

// Week describes where a trading week begins.
type Week struct {
	StartDay  time.Weekday
	StartHour int // 0-23, local to Location
	Location  *time.Location
}

// NewWeek creates a Week. A nil location means UTC.
func NewWeek(day time.Weekday, hour int, loc *time.Location) Week {
	if loc == nil {
		loc = time.UTC
	}
	return Week{StartDay: day, StartHour: hour, Location: loc}
}

// Start returns the most recent week boundary at or before t.
func (w Week) Start(t time.Time) time.Time {
	local := t.In(w.Location)
	back := (int(local.Weekday()) - int(w.StartDay) + 7) % 7
	start := time.Date(local.Year(), local.Month(), local.Day()-back, w.StartHour, 0, 0, 0, w.Location)
	if start.After(local) {
		// Same weekday but before the start hour: the week began 7 days ago.
		start = start.AddDate(0, 0, -7)
	}
	return start
}

// Next returns the first week boundary strictly after t.
func (w Week) Next(t time.Time) time.Time {
	return w.Start(t).AddDate(0, 0, 7)
}

// Previous returns the start of the week preceding the week containing t.
func (w Week) Previous(t time.Time) time.Time {
	return w.Start(t).AddDate(0, 0, -7)
}

// SameWeek reports whether a and b fall in the same trading week.
func (w Week) SameWeek(a, b time.Time) bool {
	return w.Start(a).Equal(w.Start(b))
}

// ElapsedDays returns the number of whole days between since and now.
// A zero since means "never" and yields math.MaxInt.
func ElapsedDays(since, now time.Time) int {
	if since.IsZero() {
		return math.MaxInt
	}
	return int(now.Sub(since) / Day)
}

// CooldownElapsed reports whether at least one whole day has passed since
// the entry time. A zero entry time always passes.
func CooldownElapsed(entry, now time.Time) bool {
	return ElapsedDays(entry, now) >= 1
}

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// ParseWeekday accepts "MON", "monday", "Mon" and similar.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if len(key) >= 3 {
		if wd, ok := weekdayNames[key[:3]]; ok {
			return wd, nil
		}
	}
	return time.Sunday, fmt.Errorf("markethours: unknown weekday %q", s)
}

// StatusString returns a human-readable week status.
func (w Week) StatusString(t time.Time) string {
	start := w.Start(t)
	next := w.Next(t)
	return fmt.Sprintf("week started %s %s, next in %s",
		start.Weekday().String()[:3], start.Format("2006-01-02 15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
