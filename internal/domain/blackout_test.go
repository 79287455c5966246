package domain

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBlackoutDate_AppliesTo(t *testing.T) {
	tests := []struct {
		name     string
		blackout BlackoutDate
		barber   string
		location string
		want     bool
	}{
		{name: "barber match", blackout: BlackoutDate{BarberID: "b1", IsActive: true}, barber: "b1", location: "l1", want: true},
		{name: "other barber", blackout: BlackoutDate{BarberID: "b2", IsActive: true}, barber: "b1", location: "l1", want: false},
		{name: "location wide", blackout: BlackoutDate{LocationID: "l1", IsActive: true}, barber: "b1", location: "l1", want: true},
		{name: "other location", blackout: BlackoutDate{LocationID: "l2", IsActive: true}, barber: "b1", location: "l1", want: false},
		{name: "organisation wide", blackout: BlackoutDate{IsActive: true}, barber: "b1", location: "l1", want: true},
		{name: "inactive", blackout: BlackoutDate{BarberID: "b1"}, barber: "b1", location: "l1", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.blackout.AppliesTo(tt.barber, tt.location); got != tt.want {
				t.Fatalf("AppliesTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlackoutDate_CoversDayRecurrence(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		blackout BlackoutDate
		day      time.Time
		want     bool
	}{
		{name: "single day", blackout: BlackoutDate{Date: d(2026, 3, 10)}, day: d(2026, 3, 10), want: true},
		{name: "single day miss", blackout: BlackoutDate{Date: d(2026, 3, 10)}, day: d(2026, 3, 11), want: false},
		{name: "multi day inside", blackout: BlackoutDate{Date: d(2026, 3, 10), EndDate: timePtr(d(2026, 3, 12))}, day: d(2026, 3, 12), want: true},
		{name: "multi day after", blackout: BlackoutDate{Date: d(2026, 3, 10), EndDate: timePtr(d(2026, 3, 12))}, day: d(2026, 3, 13), want: false},
		{name: "weekly", blackout: BlackoutDate{Date: d(2026, 3, 2), IsRecurring: true, RecurrencePattern: BlackoutRecurrenceWeekly}, day: d(2026, 3, 23), want: true},
		{name: "weekly other weekday", blackout: BlackoutDate{Date: d(2026, 3, 2), IsRecurring: true, RecurrencePattern: BlackoutRecurrenceWeekly}, day: d(2026, 3, 24), want: false},
		{name: "weekly before start", blackout: BlackoutDate{Date: d(2026, 3, 2), IsRecurring: true, RecurrencePattern: BlackoutRecurrenceWeekly}, day: d(2026, 2, 23), want: false},
		{name: "monthly", blackout: BlackoutDate{Date: d(2026, 1, 15), IsRecurring: true, RecurrencePattern: BlackoutRecurrenceMonthly}, day: d(2026, 6, 15), want: true},
		{name: "yearly", blackout: BlackoutDate{Date: d(2025, 12, 25), IsRecurring: true, RecurrencePattern: BlackoutRecurrenceYearly}, day: d(2027, 12, 25), want: true},
		{
			name:     "recurrence ended",
			blackout: BlackoutDate{Date: d(2026, 1, 1), IsRecurring: true, RecurrencePattern: BlackoutRecurrenceDaily, RecurrenceEndDate: timePtr(d(2026, 1, 31))},
			day:      d(2026, 2, 1),
			want:     false,
		},
		{
			name:     "recurring multi day span",
			blackout: BlackoutDate{Date: d(2026, 3, 2), EndDate: timePtr(d(2026, 3, 3)), IsRecurring: true, RecurrencePattern: BlackoutRecurrenceWeekly},
			day:      d(2026, 3, 10),
			want:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.blackout.CoversDay(tt.day); got != tt.want {
				t.Fatalf("CoversDay(%s) = %v, want %v", tt.day.Format(time.DateOnly), got, tt.want)
			}
		})
	}
}

func TestBlackoutDate_WindowsBetweenPartialDayInLocalZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}
	b := BlackoutDate{
		ID:        uuid.MustParse("00000000-0000-0000-0000-0000000000b1"),
		Date:      time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		StartTime: "12:00",
		EndTime:   "13:30",
		Reason:    "staff meeting",
		IsActive:  true,
	}

	from := time.Date(2026, 5, 4, 0, 0, 0, 0, loc)
	windows, err := b.WindowsBetween(loc, from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("WindowsBetween error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("len(windows) = %d, want 1", len(windows))
	}
	w := windows[0]
	if !w.Start.Equal(time.Date(2026, 5, 4, 12, 0, 0, 0, loc)) || !w.End.Equal(time.Date(2026, 5, 4, 13, 30, 0, 0, loc)) {
		t.Fatalf("window = [%v, %v)", w.Start, w.End)
	}
	if w.BlackoutID != b.ID || w.Reason != "staff meeting" {
		t.Fatalf("window metadata = %+v", w)
	}

	if w.Overlaps(time.Date(2026, 5, 4, 11, 30, 0, 0, loc), time.Date(2026, 5, 4, 12, 0, 0, 0, loc)) {
		t.Fatalf("touching range must not overlap")
	}
}

func TestBlackoutDate_WindowsBetweenFullDay(t *testing.T) {
	b := BlackoutDate{Date: time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), IsActive: true}
	from := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	windows, err := b.WindowsBetween(time.UTC, from, from.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("WindowsBetween error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("len(windows) = %d, want 1", len(windows))
	}
	if windows[0].End.Sub(windows[0].Start) != 24*time.Hour {
		t.Fatalf("full day window = %v", windows[0].End.Sub(windows[0].Start))
	}
}

func TestBlackoutDate_OptionalColumnsWriteNull(t *testing.T) {
	typ := reflect.TypeOf(BlackoutDate{})
	for _, name := range []string{"StartTime", "EndTime", "RecurrencePattern"} {
		f, ok := typ.FieldByName(name)
		if !ok {
			t.Fatalf("field %s missing", name)
		}
		if tag := f.Tag.Get("bun"); !strings.Contains(tag, ",nullzero") {
			t.Fatalf("%s bun tag = %q, want nullzero so empty values satisfy the column checks", name, tag)
		}
	}
}
