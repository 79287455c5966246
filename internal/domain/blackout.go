package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BlackoutRecurrence string

const (
	BlackoutRecurrenceDaily   BlackoutRecurrence = "daily"
	BlackoutRecurrenceWeekly  BlackoutRecurrence = "weekly"
	BlackoutRecurrenceMonthly BlackoutRecurrence = "monthly"
	BlackoutRecurrenceYearly  BlackoutRecurrence = "yearly"
)

// BlackoutDate marks time a barber, a location or the whole organisation
// cannot be booked. An empty BarberID covers every barber at LocationID; both
// empty covers everyone. Date, EndDate and RecurrenceEndDate are civil dates
// interpreted in the local zone of whoever is being checked. StartTime and
// EndTime ("HH:MM") narrow each covered day to a sub-range.
type BlackoutDate struct {
	bun.BaseModel `bun:"table:blackout_dates"`

	ID                          uuid.UUID          `bun:"id,pk,type:uuid"`
	LocationID                  string             `bun:"location_id,notnull"`
	BarberID                    string             `bun:"barber_id,notnull"`
	Date                        time.Time          `bun:"date,notnull,type:date"`
	EndDate                     *time.Time         `bun:"end_date,type:date"`
	StartTime                   string             `bun:"start_time,nullzero"`
	EndTime                     string             `bun:"end_time,nullzero"`
	IsRecurring                 bool               `bun:"is_recurring,notnull"`
	RecurrencePattern           BlackoutRecurrence `bun:"recurrence_pattern,nullzero"`
	RecurrenceEndDate           *time.Time         `bun:"recurrence_end_date,type:date"`
	AllowEmergencyBookings      bool               `bun:"allow_emergency_bookings,notnull"`
	AffectsExistingAppointments bool               `bun:"affects_existing_appointments,notnull"`
	AutoReschedule              bool               `bun:"auto_reschedule,notnull"`
	AffectedResolvedAt          *time.Time         `bun:"affected_resolved_at"`
	Reason                      string             `bun:"reason"`
	IsActive                    bool               `bun:"is_active,notnull"`
	CreatedAt                   time.Time          `bun:"created_at,notnull"`
	UpdatedAt                   time.Time          `bun:"updated_at,notnull"`
}

func (b *BlackoutDate) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// AppliesTo reports whether the blackout's scope covers the barber.
func (b BlackoutDate) AppliesTo(barberID, locationID string) bool {
	if !b.IsActive {
		return false
	}
	if b.BarberID != "" {
		return b.BarberID == barberID
	}
	return b.LocationID == "" || b.LocationID == locationID
}

func (b BlackoutDate) FullDay() bool {
	return b.StartTime == "" || b.EndTime == ""
}

// spanDays is how many days after an anchor date the blackout still covers.
func (b BlackoutDate) spanDays() int {
	if b.EndDate == nil {
		return 0
	}
	days := int(CivilDate(*b.EndDate).Sub(CivilDate(b.Date)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func (b BlackoutDate) isAnchor(day time.Time) bool {
	first := CivilDate(b.Date)
	if day.Before(first) {
		return false
	}
	if !b.IsRecurring {
		return day.Equal(first)
	}
	if b.RecurrenceEndDate != nil && day.After(CivilDate(*b.RecurrenceEndDate)) {
		return false
	}
	switch b.RecurrencePattern {
	case BlackoutRecurrenceDaily:
		return true
	case BlackoutRecurrenceWeekly:
		return day.Weekday() == first.Weekday()
	case BlackoutRecurrenceMonthly:
		return day.Day() == first.Day()
	case BlackoutRecurrenceYearly:
		return day.Day() == first.Day() && day.Month() == first.Month()
	}
	return false
}

// CoversDay reports whether the civil date falls inside any occurrence of
// the blackout, expanding recurrence lazily for that one day.
func (b BlackoutDate) CoversDay(day time.Time) bool {
	day = CivilDate(day)
	span := b.spanDays()
	for k := 0; k <= span; k++ {
		if b.isAnchor(day.AddDate(0, 0, -k)) {
			return true
		}
	}
	return false
}

// BlockedWindow is a resolved blackout interval on one local day.
type BlockedWindow struct {
	Start          time.Time
	End            time.Time
	BlackoutID     uuid.UUID
	Reason         string
	AllowEmergency bool
	AutoReschedule bool
}

func (w BlockedWindow) Overlaps(start, end time.Time) bool {
	return Overlaps(w.Start, w.End, start, end)
}

// WindowsBetween resolves the blackout into the windows it blocks on the
// local days (in loc) that intersect [from, to).
func (b BlackoutDate) WindowsBetween(loc *time.Location, from, to time.Time) ([]BlockedWindow, error) {
	if !to.After(from) {
		return nil, nil
	}

	startMin, endMin := 0, 24*60
	if !b.FullDay() {
		s, err := ParseClock(b.StartTime)
		if err != nil {
			return nil, err
		}
		e, err := ParseClock(b.EndTime)
		if err != nil {
			return nil, err
		}
		if e <= s {
			return nil, nil
		}
		startMin, endMin = s, e
	}

	firstDay := CivilDate(from.In(loc))
	lastDay := CivilDate(to.Add(-time.Nanosecond).In(loc))

	var out []BlockedWindow
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		if !b.CoversDay(day) {
			continue
		}
		w := BlockedWindow{
			Start:          AtClock(day, startMin, loc),
			End:            AtClock(day, endMin, loc),
			BlackoutID:     b.ID,
			Reason:         b.Reason,
			AllowEmergency: b.AllowEmergencyBookings,
			AutoReschedule: b.AutoReschedule,
		}
		if w.Overlaps(from, to) {
			out = append(out, w)
		}
	}
	return out, nil
}
