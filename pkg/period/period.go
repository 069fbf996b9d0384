package period

import (
	"time"

	"github.com/quotakit/quotakit/pkg/feature"
)

// Window is a half-open accounting interval [Start, End). Usage for a
// feature accumulates against the window that contains the evaluation
// instant and resets when a new window begins.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Current computes the accounting window containing now for the given
// cadence. The anchor is the subscription's quota reset anchor (normally
// its start date); subStart and subEnd bound the subscription's lifetime.
//
// Rules:
//   - daily: midnight-to-midnight of the evaluation date.
//   - monthly: anchored to the anchor's day-of-month, so a subscription
//     started on the 15th resets on the 15th of each subsequent month.
//     When now precedes this month's anchor day the window is the
//     previous anchor-to-anchor span.
//   - lifetime: [subStart, subEnd], one window for the whole subscription.
//
// The window end is always clamped to subEnd: quota cannot be used past
// expiration.
func Current(c feature.Cadence, anchor, subStart, subEnd, now time.Time) Window {
	var w Window

	switch c {
	case feature.CadenceDaily:
		start := midnight(now)
		w = Window{Start: start, End: start.AddDate(0, 0, 1)}

	case feature.CadenceMonthly:
		start := monthlyAnchorStart(anchor, now)
		w = Window{Start: start, End: nextAnchorStart(start, anchor.Day())}

	default: // lifetime
		w = Window{Start: subStart, End: subEnd}
	}

	if w.End.After(subEnd) {
		w.End = subEnd
	}
	return w
}

// NextReset returns the instant the feature's counter next resets, which
// is the end of the current window. Lifetime features never reset within
// a subscription, so nil is returned for them.
func NextReset(c feature.Cadence, anchor, subStart, subEnd, now time.Time) *time.Time {
	if c == feature.CadenceLifetime {
		return nil
	}
	w := Current(c, anchor, subStart, subEnd, now)
	end := w.End
	return &end
}

// monthlyAnchorStart returns the start of the anchor-to-anchor month
// window containing now. Anchor days beyond a month's length clamp to
// that month's last day (a subscription anchored on the 31st resets on
// Feb 28/29, Apr 30, and so on).
func monthlyAnchorStart(anchor, now time.Time) time.Time {
	anchor = midnight(anchor)

	months := (now.Year()-anchor.Year())*12 + int(now.Month()-anchor.Month())
	if now.Day() < anchorDayIn(now.Year(), now.Month(), anchor.Day(), now.Location()) {
		months--
	}
	if months < 0 {
		months = 0
	}

	y, m := addMonths(anchor.Year(), anchor.Month(), months)
	day := anchorDayIn(y, m, anchor.Day(), anchor.Location())
	return time.Date(y, m, day, 0, 0, 0, 0, anchor.Location())
}

// nextAnchorStart advances a window start by one month using the
// original anchor day, so a clamped start (anchor day 31 landing on
// Feb 28) still ends on the true anchor day of the next month.
func nextAnchorStart(start time.Time, anchorDay int) time.Time {
	y, m := addMonths(start.Year(), start.Month(), 1)
	day := anchorDayIn(y, m, anchorDay, start.Location())
	return time.Date(y, m, day, 0, 0, 0, 0, start.Location())
}

func addMonths(year int, month time.Month, n int) (int, time.Month) {
	total := year*12 + int(month) - 1 + n
	return total / 12, time.Month(total%12 + 1)
}

// anchorDayIn clamps an anchor day to the number of days in the target month.
func anchorDayIn(year int, month time.Month, day int, loc *time.Location) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		return last
	}
	return day
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
