package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid() GridConfig {
	return GridConfig{
		StartHour:           7,
		EndHour:             22,
		HourHeight:          60,
		HeaderOffset:        48,
		MinDurationMinutes:  30,
		SnapIntervalMinutes: 15,
	}
}

func collectIntents(intents *[]CreationIntent) IntentSink {
	return func(i CreationIntent) { *intents = append(*intents, i) }
}

func localTime(day string, h, m int) time.Time {
	d, _ := time.ParseInLocation("2006-01-02", day, time.Local)
	return d.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestDragPixelToTime(t *testing.T) {
	// startHour=7, hourHeight=60, headerOffset=48: Y=168 is 2h past 7 => 09:00
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 168)
	require.True(t, d.IsDragging())

	p := d.Preview()
	assert.True(t, p.Visible)
	assert.Equal(t, "room-1", p.ResourceID)
	assert.Equal(t, "2026-03-10", p.Date)
	assert.Equal(t, localTime("2026-03-10", 9, 0), p.StartTime)
	assert.Equal(t, localTime("2026-03-10", 9, 15), p.EndTime) // one snap interval
}

func TestDragSnapping(t *testing.T) {
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	// Y=200 => (200-48)/60 = 2.533h past 7 => 9:32 raw, snaps to 9:30
	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 200)
	assert.Equal(t, localTime("2026-03-10", 9, 30), d.Preview().StartTime)

	// Y=215 => 9:47 raw, snaps to 9:45
	d.Reset()
	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 215)
	assert.Equal(t, localTime("2026-03-10", 9, 45), d.Preview().StartTime)
}

func TestDragMinDurationFloor(t *testing.T) {
	// Drag start 10:00, raw end 10:10, min 30 => finalized end is 10:30
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 228) // 10:00
	d.PointerMove(238)                                                       // 10:10 raw
	d.PointerUp()

	require.Len(t, intents, 1)
	assert.Equal(t, localTime("2026-03-10", 10, 0), intents[0].StartTime)
	assert.Equal(t, localTime("2026-03-10", 10, 30), intents[0].EndTime)
}

func TestDragBackwardsClampsToFloor(t *testing.T) {
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 228) // 10:00
	d.PointerMove(100)                                                       // well above the start
	d.PointerUp()

	require.Len(t, intents, 1)
	assert.Equal(t, localTime("2026-03-10", 10, 0), intents[0].StartTime)
	assert.Equal(t, localTime("2026-03-10", 10, 30), intents[0].EndTime)
}

func TestDragCompletedPropertiesHold(t *testing.T) {
	// Every completed drag snaps its start and respects the duration floor
	var intents []CreationIntent
	cfg := testGrid()
	d := NewDragScheduler(cfg, collectIntents(&intents))

	for y := float64(0); y < 1000; y += 37 {
		d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, y)
		d.PointerMove(y + 13)
		d.PointerUp()
	}

	require.NotEmpty(t, intents)
	for _, intent := range intents {
		assert.Zero(t, intent.StartTime.Minute()%cfg.SnapIntervalMinutes)
		assert.GreaterOrEqual(t, intent.EndTime.Sub(intent.StartTime), 30*time.Minute)
	}
}

func TestDragClampsToGridBounds(t *testing.T) {
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	// Far above the grid clamps to StartHour
	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, -500)
	assert.Equal(t, localTime("2026-03-10", 7, 0), d.Preview().StartTime)

	// Far below clamps the end to EndHour
	d.PointerMove(100000)
	assert.Equal(t, localTime("2026-03-10", 22, 0), d.Preview().EndTime)
}

func TestDragPointerUpWithImmediateRelease(t *testing.T) {
	// No pointer movement: the one-snap preview is widened to the minimum
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 168)
	d.PointerUp()

	require.Len(t, intents, 1)
	assert.Equal(t, 30*time.Minute, intents[0].EndTime.Sub(intents[0].StartTime))
}

func TestDragPointerLeave(t *testing.T) {
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 168)

	// Leaving onto a child element does not cancel
	d.PointerLeave(false)
	assert.True(t, d.IsDragging())

	// Leaving the container itself cancels silently
	d.PointerLeave(true)
	assert.False(t, d.IsDragging())
	assert.False(t, d.Preview().Visible)
	assert.Empty(t, intents)

	// Pointer-up after cancellation emits nothing
	d.PointerUp()
	assert.Empty(t, intents)
}

func TestDragRestartWhileDragging(t *testing.T) {
	// A second pointer-down overwrites the in-progress drag; no intent is
	// emitted for the abandoned one.
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 168)
	d.PointerDown(CellContext{ResourceID: "room-2", Date: "2026-03-11"}, 228)
	assert.Empty(t, intents)

	d.PointerUp()
	require.Len(t, intents, 1)
	assert.Equal(t, "room-2", intents[0].ResourceID)
	assert.Equal(t, "2026-03-11", intents[0].Date)
}

func TestDragReset(t *testing.T) {
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	// Reset from idle is fine
	d.Reset()
	assert.False(t, d.IsDragging())

	d.PointerDown(CellContext{ResourceID: "room-1", Date: "2026-03-10"}, 168)
	d.Reset()
	assert.False(t, d.IsDragging())
	assert.Equal(t, DragPreview{}, d.Preview())
	assert.Empty(t, intents)
}

func TestDragMoveWhileIdle(t *testing.T) {
	var intents []CreationIntent
	d := NewDragScheduler(testGrid(), collectIntents(&intents))

	d.PointerMove(168)
	assert.False(t, d.IsDragging())
	assert.Equal(t, DragPreview{}, d.Preview())
}

func TestGridConfigDefaults(t *testing.T) {
	cfg := GridConfig{}.withDefaults()
	assert.Equal(t, 24, cfg.EndHour)
	assert.Equal(t, float64(60), cfg.HourHeight)
	assert.Equal(t, 30, cfg.MinDurationMinutes)
	assert.Equal(t, 15, cfg.SnapIntervalMinutes)
}
