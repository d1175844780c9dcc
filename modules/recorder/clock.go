package recorder

import "time"

// Clock supplies the monotonic time used to stamp frames
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
