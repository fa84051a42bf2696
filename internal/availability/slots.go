package availability

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
)

// DefaultGranularityMinutes is the candidate step when the caller passes none.
const DefaultGranularityMinutes = 30

// Window is one concrete working range on a given date.
type Window struct {
	Start time.Time
	End   time.Time
}

// Generate returns the free start times inside windows for a service lasting
// duration. Candidates step by granularity from each window start and are kept
// while start+duration <= window end. When after is non-zero, starts at or
// before it are dropped. Any candidate overlapping busy is rejected.
func Generate(windows []Window, busy []appointment.Interval, duration, granularity time.Duration, after time.Time) []time.Time {
	if duration <= 0 {
		return nil
	}
	if granularity <= 0 {
		granularity = DefaultGranularityMinutes * time.Minute
	}
	var out []time.Time
	for _, w := range windows {
		for t := w.Start; !t.Add(duration).After(w.End); t = t.Add(granularity) {
			if !after.IsZero() && !t.After(after) {
				continue
			}
			if appointment.ConflictsWith(busy, t, t.Add(duration), uuid.Nil) {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// WindowsOn expands weekday rules into concrete windows for the calendar day
// of date in loc.
func WindowsOn(date time.Time, loc *time.Location, rules []WorkingHours) []Window {
	y, m, d := date.Date()
	out := make([]Window, 0, len(rules))
	for _, r := range rules {
		if r.EndMinute <= r.StartMinute {
			continue
		}
		out = append(out, Window{
			Start: time.Date(y, m, d, r.StartMinute/60, r.StartMinute%60, 0, 0, loc),
			End:   time.Date(y, m, d, r.EndMinute/60, r.EndMinute%60, 0, 0, loc),
		})
	}
	return out
}

// Weekday maps a date to the stored weekday index where Monday is 0.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
