package engine

import (
	"fmt"
	"time"
)

// LocalTime scans sqlite epoch-second columns into local wall-clock time.
type LocalTime struct {
	Time time.Time
}

func (l *LocalTime) Scan(src any) error {
	epochUTC, ok := src.(int64)
	if !ok {
		return fmt.Errorf("expected int64, got %T", src)
	}

	l.Time = time.Unix(epochUTC, 0).In(time.Local)
	return nil
}
