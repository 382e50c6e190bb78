package schedule

import (
	"math"
	"time"
)

// GridConfig describes the geometry of the rendered time grid so pointer
// coordinates can be converted back into times. It is supplied explicitly
// by the caller - never read from ambient viewport state.
type GridConfig struct {
	StartHour           int     // earliest hour represented at the grid's top edge
	EndHour             int     // clamp bound for pointer positions below the grid
	HourHeight          float64 // pixels representing one hour
	HeaderOffset        float64 // pixel offset of the grid's time-zero row
	MinDurationMinutes  int
	SnapIntervalMinutes int
}

// DefaultGridConfig matches the rendered day grid: a full 24h column with
// 60px hours, a 30 minute minimum booking and 15 minute snapping.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		StartHour:           0,
		EndHour:             24,
		HourHeight:          60,
		HeaderOffset:        0,
		MinDurationMinutes:  30,
		SnapIntervalMinutes: 15,
	}
}

func (c GridConfig) withDefaults() GridConfig {
	if c.EndHour <= c.StartHour {
		c.EndHour = 24
	}
	if c.HourHeight <= 0 {
		c.HourHeight = 60
	}
	if c.MinDurationMinutes <= 0 {
		c.MinDurationMinutes = 30
	}
	if c.SnapIntervalMinutes <= 0 {
		c.SnapIntervalMinutes = 15
	}
	return c
}

// CellContext is the resource/date metadata the rendering layer attaches
// to grid cells so a drag knows what it is creating a booking against.
type CellContext struct {
	ResourceID string
	Date       string // YYYY-MM-DD
}

// CreationIntent is the finalized payload of a completed drag: a request,
// not a guarantee, to create a booking. It is handed to the booking
// creation interface, which owns persistence and server-side validation.
type CreationIntent struct {
	ResourceID string    `json:"resourceId"`
	Date       string    `json:"date"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

// DragPreview is the in-progress span shown while dragging. It starts
// hidden, is populated on pointer-down, tracks pointer-move, and always
// returns to the hidden zero state when the interaction ends.
type DragPreview struct {
	Visible    bool
	ResourceID string
	Date       string
	StartTime  time.Time
	EndTime    time.Time
}

// IntentSink receives the creation intent of a completed drag.
type IntentSink func(CreationIntent)

// DragScheduler turns pointer drags over the time grid into candidate
// booking intervals. It is a two-state machine (idle/dragging) that owns
// its preview exclusively and runs synchronously on the caller's thread.
type DragScheduler struct {
	cfg      GridConfig
	sink     IntentSink
	dragging bool
	preview  DragPreview
}

func NewDragScheduler(cfg GridConfig, sink IntentSink) *DragScheduler {
	return &DragScheduler{cfg: cfg.withDefaults(), sink: sink}
}

func (d *DragScheduler) IsDragging() bool     { return d.dragging }
func (d *DragScheduler) Preview() DragPreview { return d.preview }

// PointerDown starts a drag at the given Y coordinate (relative to the
// grid container) within the cell's resource/date context. A pointer-down
// while already dragging starts over: the in-progress drag is discarded
// without emitting an intent.
func (d *DragScheduler) PointerDown(cell CellContext, y float64) {
	start := d.timeForY(cell.Date, y)
	d.dragging = true
	d.preview = DragPreview{
		Visible:    true,
		ResourceID: cell.ResourceID,
		Date:       cell.Date,
		StartTime:  start,
		EndTime:    start.Add(time.Duration(d.cfg.SnapIntervalMinutes) * time.Minute),
	}
}

// PointerMove recomputes the snapped end time from the new Y coordinate.
// The minimum duration is a floor: however small (or backwards) the raw
// drag is, the end is clamped forward to start + MinDurationMinutes.
func (d *DragScheduler) PointerMove(y float64) {
	if !d.dragging {
		return
	}
	end := d.timeForY(d.preview.Date, y)
	if floor := d.preview.StartTime.Add(time.Duration(d.cfg.MinDurationMinutes) * time.Minute); end.Before(floor) {
		end = floor
	}
	d.preview.EndTime = end
}

// PointerUp finalizes the drag into a creation intent, hands it to the
// sink, and clears the preview. A pointer-up without a drag in progress is
// a no-op.
func (d *DragScheduler) PointerUp() {
	if !d.dragging {
		return
	}
	end := d.preview.EndTime
	if floor := d.preview.StartTime.Add(time.Duration(d.cfg.MinDurationMinutes) * time.Minute); end.Before(floor) {
		// The preview may still be at its initial one-snap span if the
		// pointer never moved; the duration floor applies here too.
		end = floor
	}
	intent := CreationIntent{
		ResourceID: d.preview.ResourceID,
		Date:       d.preview.Date,
		StartTime:  d.preview.StartTime,
		EndTime:    end,
	}
	d.clear()
	if d.sink != nil {
		d.sink(intent)
	}
}

// PointerLeave cancels the drag silently, but only when the pointer left
// the grid container itself. Transitions onto child elements report
// leftContainer == false and are ignored.
func (d *DragScheduler) PointerLeave(leftContainer bool) {
	if !leftContainer {
		return
	}
	d.clear()
}

// Reset unconditionally cancels any drag and clears the preview. Used for
// external cancellation such as an escape key or modal dismissal.
func (d *DragScheduler) Reset() { d.clear() }

func (d *DragScheduler) clear() {
	d.dragging = false
	d.preview = DragPreview{}
}

// timeForY converts a pointer Y coordinate (relative to the grid
// container) into a snapped time on the cell's date. Positions above or
// below the grid clamp to StartHour/EndHour.
func (d *DragScheduler) timeForY(date string, y float64) time.Time {
	elapsedHours := (y - d.cfg.HeaderOffset) / d.cfg.HourHeight
	minutes := float64(d.cfg.StartHour)*60 + elapsedHours*60

	snap := float64(d.cfg.SnapIntervalMinutes)
	snapped := math.Round(minutes/snap) * snap

	if min := float64(d.cfg.StartHour) * 60; snapped < min {
		snapped = min
	}
	if max := float64(d.cfg.EndHour) * 60; snapped > max {
		snapped = max
	}

	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		day = startOfDay(time.Now())
	}
	return day.Add(time.Duration(snapped) * time.Minute)
}
