package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

type Barber struct {
	bun.BaseModel `bun:"table:barbers"`

	ID                  string    `bun:"id,pk"`
	LocationID          string    `bun:"location_id,notnull"`
	Name                string    `bun:"name"`
	Timezone            string    `bun:"timezone,notnull"`
	MinLeadMinutes      *int      `bun:"min_lead_minutes"`
	BufferBeforeMinutes int       `bun:"buffer_before_minutes,notnull"`
	BufferAfterMinutes  int       `bun:"buffer_after_minutes,notnull"`
	Active              bool      `bun:"active,notnull"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
	UpdatedAt           time.Time `bun:"updated_at,notnull"`
}

func (b *Barber) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
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

// LeadMinutes returns the barber's own lead time when configured, otherwise fallback.
func (b Barber) LeadMinutes(fallback int) int {
	if b.MinLeadMinutes != nil && *b.MinLeadMinutes >= 0 {
		return *b.MinLeadMinutes
	}
	return fallback
}

// WorkingHours is one weekday's shift. Weekday follows time.Weekday
// (0 = Sunday). A lunch break splits the shift into two windows.
type WorkingHours struct {
	bun.BaseModel `bun:"table:working_hours"`

	ID         int64  `bun:"id,pk,autoincrement"`
	BarberID   string `bun:"barber_id,notnull"`
	Weekday    int    `bun:"weekday,notnull"`
	StartTime  string `bun:"start_time,notnull"`
	EndTime    string `bun:"end_time,notnull"`
	LunchStart string `bun:"lunch_start"`
	LunchEnd   string `bun:"lunch_end"`
	Active     bool   `bun:"active,notnull"`
}

// Windows resolves the shift on a civil date into local working windows.
func (w WorkingHours) Windows(date time.Time, loc *time.Location) ([]TimeRange, error) {
	if !w.Active {
		return nil, nil
	}
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := ParseClock(w.EndTime)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, fmt.Errorf("working hours %s-%s: end must be after start", w.StartTime, w.EndTime)
	}

	spans := [][2]int{{start, end}}
	if w.LunchStart != "" && w.LunchEnd != "" {
		ls, err := ParseClock(w.LunchStart)
		if err != nil {
			return nil, err
		}
		le, err := ParseClock(w.LunchEnd)
		if err != nil {
			return nil, err
		}
		if ls > start && le < end && le > ls {
			spans = [][2]int{{start, ls}, {le, end}}
		}
	}

	out := make([]TimeRange, 0, len(spans))
	for _, s := range spans {
		out = append(out, TimeRange{
			Start: AtClock(date, s[0], loc),
			End:   AtClock(date, s[1], loc),
		})
	}
	return out, nil
}

// WorkingWindows merges the windows of every shift for the date, ordered by start.
func WorkingWindows(hours []WorkingHours, date time.Time, loc *time.Location) ([]TimeRange, error) {
	var out []TimeRange
	for _, h := range hours {
		if h.Weekday != int(date.Weekday()) {
			continue
		}
		ws, err := h.Windows(date, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, ws...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
