package schedule

import (
	"fmt"
	"time"
)

// ViewType selects how much of the calendar is visible at once.
type ViewType string

const (
	ViewDay   ViewType = "day"
	ViewWeek  ViewType = "week"
	ViewMonth ViewType = "month"
)

// Direction is the argument to Navigate.
type Direction string

const (
	DirPrev Direction = "prev"
	DirNext Direction = "next"
)

// DateRange is an inclusive window of wall-clock time.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ViewState is the single source of truth for which window of time the
// calendar is showing. It holds the current view type and an anchor date;
// everything else (range, title, navigation stepping) is derived. It is
// ephemeral per session and never persisted.
type ViewState struct {
	viewType ViewType
	anchor   time.Time
}

func NewViewState(anchor time.Time) *ViewState {
	return &ViewState{viewType: ViewWeek, anchor: anchor}
}

func (v *ViewState) View() ViewType    { return v.viewType }
func (v *ViewState) Anchor() time.Time { return v.anchor }

// SetView switches the view type without moving the anchor.
func (v *ViewState) SetView(t ViewType) {
	switch t {
	case ViewDay, ViewWeek, ViewMonth:
		v.viewType = t
	}
}

// Navigate moves the anchor by one unit of the current view: a day, a week,
// or a calendar month. Month steps clamp the day-of-month so that e.g.
// Jan 31 -> Feb 28 rather than overflowing into March.
func (v *ViewState) Navigate(dir Direction) {
	step := 1
	if dir == DirPrev {
		step = -1
	}

	switch v.viewType {
	case ViewDay:
		v.anchor = v.anchor.AddDate(0, 0, step)
	case ViewWeek:
		v.anchor = v.anchor.AddDate(0, 0, 7*step)
	case ViewMonth:
		v.anchor = addMonthClamped(v.anchor, step)
	}
}

func (v *ViewState) GoToToday() { v.anchor = time.Now() }

func (v *ViewState) GoToDate(d time.Time) { v.anchor = d }

// DateRange derives the visible window from the view type and anchor:
// the anchor's day, its ISO week (Monday through Sunday), or its calendar
// month. Boundaries are full-day bounds (00:00:00.000 to 23:59:59.999).
func (v *ViewState) DateRange() DateRange {
	switch v.viewType {
	case ViewDay:
		return DateRange{Start: startOfDay(v.anchor), End: endOfDay(v.anchor)}
	case ViewWeek:
		monday := startOfISOWeek(v.anchor)
		return DateRange{Start: monday, End: endOfDay(monday.AddDate(0, 0, 6))}
	default:
		first := time.Date(v.anchor.Year(), v.anchor.Month(), 1, 0, 0, 0, 0, v.anchor.Location())
		last := first.AddDate(0, 1, -1)
		return DateRange{Start: first, End: endOfDay(last)}
	}
}

// IsDateInView reports whether the given date falls inside the visible
// window, inclusive of both boundary days. Comparison is at day
// granularity: time-of-day on either side is ignored.
func (v *ViewState) IsDateInView(d time.Time) bool {
	r := v.DateRange()
	day := startOfDay(d)
	return !day.Before(startOfDay(r.Start)) && !day.After(startOfDay(r.End))
}

// ViewTitle produces a display label for the current window, derived from
// DateRange rather than recomputed independently.
func (v *ViewState) ViewTitle() string {
	r := v.DateRange()
	switch v.viewType {
	case ViewDay:
		return r.Start.Format("Monday, January 2, 2006")
	case ViewWeek:
		switch {
		case r.Start.Year() != r.End.Year():
			return fmt.Sprintf("%s – %s", r.Start.Format("January 2, 2006"), r.End.Format("January 2, 2006"))
		case r.Start.Month() != r.End.Month():
			return fmt.Sprintf("%s – %s, %d", r.Start.Format("January 2"), r.End.Format("January 2"), r.End.Year())
		default:
			return fmt.Sprintf("%s – %d, %d", r.Start.Format("January 2"), r.End.Day(), r.End.Year())
		}
	default:
		return r.Start.Format("January 2006")
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// startOfISOWeek returns the Monday of t's week, regardless of locale.
func startOfISOWeek(t time.Time) time.Time {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	return startOfDay(t.AddDate(0, 0, -daysSinceMonday))
}

// addMonthClamped steps the date by whole calendar months, clamping the
// day-of-month to the last day of the target month when needed.
func addMonthClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	day := t.Day()
	if last := daysInMonth(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
