package mission

import "time"

const dateLayout = "2006-01-02"

// Clock supplies mission time. Injected so time-window, dwell and stamp
// verification stay deterministic under test.
type Clock interface {
	Now() time.Time
	// Today returns the current date as YYYY-MM-DD in the clock's location.
	Today() string
}

type locationClock struct {
	loc *time.Location
}

// NewClock returns a wall clock evaluating in loc. The default deployment
// location is the store's local timezone (Asia/Seoul).
func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return locationClock{loc: loc}
}

func (c locationClock) Now() time.Time { return time.Now().In(c.loc) }
func (c locationClock) Today() string  { return c.Now().Format(dateLayout) }
