package timezone

import (
	"time"
	_ "time/tzdata"
)

const DefaultTimezone = "America/Sao_Paulo"

func IsValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// LocationOr resolves tz, falling back to fallback and then DefaultTimezone.
func LocationOr(tz, fallback string) *time.Location {
	for _, name := range []string{tz, fallback, DefaultTimezone} {
		if !IsValid(name) {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

func Location(tz string) *time.Location {
	return LocationOr(tz, DefaultTimezone)
}

// Clock is the time source consumed by the scheduling services.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always reports At.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

func NowIn(clock Clock, tz string) time.Time {
	return clock.Now().In(Location(tz))
}
