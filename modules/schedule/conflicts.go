package schedule

import "time"

// ScheduledEvent is a read-only snapshot of a booking as handed to the
// detector by the query layer. The detector never mutates or stores these
// beyond a single detection pass.
type ScheduledEvent struct {
	ID         string
	ResourceID string
	StartTime  time.Time
	EndTime    time.Time
	Title      string
	Status     string
}

// timesValid reports whether both instants resolved. Events whose
// timestamps failed to parse arrive as zero times and must be treated as
// conflict-free rather than crashing detection.
func (e *ScheduledEvent) timesValid() bool {
	return !e.StartTime.IsZero() && !e.EndTime.IsZero()
}

// ConflictResult lists the events overlapping a given event.
type ConflictResult struct {
	EventID           string
	ConflictingEvents []ScheduledEvent
}

// ConflictSet is the result of one detection pass over an event snapshot.
// It is derived data: recompute it whenever the snapshot or the enabled
// flag changes, never mutate it in place.
type ConflictSet struct {
	results map[string]*ConflictResult
}

// DetectConflicts computes pairwise time-overlap conflicts, scoped per
// resource: two events on different resources never conflict regardless of
// their times. When enabled is false the result is empty for any input.
//
// The comparison is O(n²) within each resource group, which is fine for
// the handful of events visible in a calendar window at once.
func DetectConflicts(events []ScheduledEvent, enabled bool) *ConflictSet {
	set := &ConflictSet{results: map[string]*ConflictResult{}}
	if !enabled {
		return set
	}

	byResource := map[string][]ScheduledEvent{}
	for _, e := range events {
		if !e.timesValid() {
			continue
		}
		byResource[e.ResourceID] = append(byResource[e.ResourceID], e)
	}

	for _, group := range byResource {
		for i, a := range group {
			for j, b := range group {
				if i == j {
					continue
				}
				if Overlaps(a.StartTime, a.EndTime, b.StartTime, b.EndTime) {
					set.add(a, b)
				}
			}
		}
	}
	return set
}

// Overlaps returns true if two time ranges overlap.
// Two ranges [s1, e1) and [s2, e2) overlap if s1 < e2 AND s2 < e1.
// Ranges that only touch at a boundary do not overlap.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}

func (s *ConflictSet) add(event, conflicting ScheduledEvent) {
	r := s.results[event.ID]
	if r == nil {
		r = &ConflictResult{EventID: event.ID}
		s.results[event.ID] = r
	}
	r.ConflictingEvents = append(r.ConflictingEvents, conflicting)
}

// HasConflict reports whether the given event overlaps any other event on
// its resource.
func (s *ConflictSet) HasConflict(eventID string) bool {
	return s.results[eventID] != nil
}

// Conflicts returns the conflict detail for an event, or nil when the
// event has no conflicts or does not exist.
func (s *ConflictSet) Conflicts(eventID string) *ConflictResult {
	return s.results[eventID]
}

// ConflictingEventIDs returns the ids of every event participating in at
// least one conflicting pair.
func (s *ConflictSet) ConflictingEventIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.results))
	for id := range s.results {
		ids[id] = struct{}{}
	}
	return ids
}

// ConflictCount counts conflict participation: a single overlapping pair
// contributes 2 (each member counts its own membership), not 1.
func (s *ConflictSet) ConflictCount() int {
	return len(s.results)
}

func (s *ConflictSet) HasAnyConflicts() bool {
	return len(s.results) > 0
}
