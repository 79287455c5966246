package domain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RecurrenceFrequency string

const (
	RecurrenceFrequencyDaily    RecurrenceFrequency = "daily"
	RecurrenceFrequencyWeekly   RecurrenceFrequency = "weekly"
	RecurrenceFrequencyBiweekly RecurrenceFrequency = "biweekly"
	RecurrenceFrequencyMonthly  RecurrenceFrequency = "monthly"
)

// SeriesHorizon bounds how far ahead a series is materialised.
const SeriesHorizon = 366 * 24 * time.Hour

type RecurrencePattern struct {
	bun.BaseModel `bun:"table:recurrence_patterns"`

	ID              uuid.UUID           `bun:"id,pk,type:uuid"`
	Frequency       RecurrenceFrequency `bun:"frequency,notnull"`
	Interval        int                 `bun:"interval,notnull"`
	Weekdays        []int16             `bun:"weekdays,array"`
	EndDate         *time.Time          `bun:"end_date"`
	OccurrenceCount *int                `bun:"occurrence_count"`
	Timezone        string              `bun:"timezone,notnull"`
	CreatedAt       time.Time           `bun:"created_at,notnull"`
}

func (p *RecurrencePattern) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if p.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			p.ID = id
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (p RecurrencePattern) Validate() error {
	switch p.Frequency {
	case RecurrenceFrequencyDaily, RecurrenceFrequencyWeekly, RecurrenceFrequencyBiweekly, RecurrenceFrequencyMonthly:
	default:
		return errors.New("unsupported recurrence frequency")
	}
	if p.Interval < 0 {
		return errors.New("interval must be positive")
	}
	if p.EndDate == nil && p.OccurrenceCount == nil {
		return errors.New("end_date or occurrence_count is required")
	}
	if p.OccurrenceCount != nil && *p.OccurrenceCount < 1 {
		return errors.New("occurrence_count must be at least 1")
	}
	for _, wd := range p.Weekdays {
		if wd < 1 || wd > 7 {
			return errors.New("invalid weekday")
		}
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return errors.New("invalid time_zone")
		}
	}
	return nil
}

// Occurrence is one planned start of a series; Sequence starts at 1.
type Occurrence struct {
	Sequence int
	Start    time.Time
}

// GenerateOccurrences lists the starts produced by p from first onwards,
// keeping first's local wall-clock time across DST changes. Generation stops
// at EndDate, OccurrenceCount or the horizon, whichever comes first. Monthly
// patterns skip months that lack first's day of month.
func GenerateOccurrences(p RecurrencePattern, first time.Time, horizon time.Duration) ([]Occurrence, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if first.IsZero() {
		return nil, errors.New("first occurrence is required")
	}
	if horizon <= 0 {
		horizon = SeriesHorizon
	}

	loc := time.UTC
	if p.Timezone != "" {
		l, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, errors.New("invalid time_zone")
		}
		loc = l
	}

	interval := p.Interval
	if interval < 1 {
		interval = 1
	}

	firstUTC := first.UTC()
	firstLocal := first.In(loc)
	horizonEnd := firstUTC.Add(horizon)
	maxCount := -1
	if p.OccurrenceCount != nil {
		maxCount = *p.OccurrenceCount
	}

	out := make([]Occurrence, 0, 16)
	// emit reports false once generation must stop.
	emit := func(start time.Time) bool {
		startUTC := start.UTC()
		if startUTC.Before(firstUTC) {
			return true
		}
		if p.EndDate != nil && startUTC.After(p.EndDate.UTC()) {
			return false
		}
		if !startUTC.Before(horizonEnd) {
			return false
		}
		if maxCount >= 0 && len(out) >= maxCount {
			return false
		}
		out = append(out, Occurrence{Sequence: len(out) + 1, Start: startUTC})
		return true
	}

	wallClock := func(date time.Time) time.Time {
		return time.Date(
			date.Year(),
			date.Month(),
			date.Day(),
			firstLocal.Hour(),
			firstLocal.Minute(),
			firstLocal.Second(),
			firstLocal.Nanosecond(),
			loc,
		)
	}

	switch p.Frequency {
	case RecurrenceFrequencyDaily:
		firstDate := CivilDate(firstLocal)
		for i := 0; ; i++ {
			if !emit(wallClock(firstDate.AddDate(0, 0, i*interval))) {
				break
			}
		}

	case RecurrenceFrequencyWeekly, RecurrenceFrequencyBiweekly:
		step := interval
		if p.Frequency == RecurrenceFrequencyBiweekly {
			step = interval * 2
		}
		weekdays := normalizeWeekdays(p.Weekdays)
		if len(weekdays) == 0 {
			weekdays = []int16{ISOWeekday(firstLocal)}
		}
		startWeekMonday := mondayDateUTC(firstLocal)
	weeks:
		for week := 0; ; week++ {
			weekMonday := startWeekMonday.AddDate(0, 0, week*step*7)
			for _, wd := range weekdays {
				if !emit(wallClock(weekMonday.AddDate(0, 0, weekdayOffsetFromMonday(wd)))) {
					break weeks
				}
			}
		}

	case RecurrenceFrequencyMonthly:
		day := firstLocal.Day()
		for i := 0; ; i++ {
			monthStart := time.Date(firstLocal.Year(), firstLocal.Month()+time.Month(i*interval), 1, 0, 0, 0, 0, loc)
			if !monthStart.UTC().Before(horizonEnd) {
				break
			}
			candidate := time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, time.UTC)
			if candidate.Month() != monthStart.Month() {
				continue
			}
			if !emit(wallClock(candidate)) {
				break
			}
		}
	}

	return out, nil
}

func normalizeWeekdays(in []int16) []int16 {
	seen := make(map[int16]struct{}, len(in))
	out := make([]int16, 0, len(in))
	for _, wd := range in {
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func mondayDateUTC(t time.Time) time.Time {
	wd := t.Weekday()
	offset := 0
	if wd == time.Sunday {
		offset = 6
	} else {
		offset = int(wd) - 1
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -offset)
}

func weekdayOffsetFromMonday(weekday int16) int {
	if weekday == 7 {
		return 6
	}
	return int(weekday) - 1
}
