package chrono

import (
	"context"
	"time"
)

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in the configured location.
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case ctx.Err() is returned.
	Sleep(ctx context.Context, d time.Duration) error
	// Location is the timezone portal timestamps are interpreted in.
	Location() *time.Location
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct {
	location *time.Location
}

// NewStandardTime is the constructor of StandardTime, an empty name means the local timezone.
func NewStandardTime(name string) (StandardTime, error) {
	if name == "" {
		return StandardTime{location: time.Local}, nil
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return StandardTime{}, err
	}
	return StandardTime{location: location}, nil
}

func (s StandardTime) Now() time.Time {
	return time.Now().In(s.Location())
}

func (s StandardTime) Location() *time.Location {
	if s.location == nil {
		return time.Local
	}
	return s.location
}

func (s StandardTime) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
