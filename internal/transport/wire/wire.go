// Package wire holds the JSON shapes shared by the gRPC and HTTP
// transports and their conversions to service inputs.
package wire

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/availability"
	"barbercal/backend/internal/service/blackouts"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/service/calendarsync"
	"barbercal/backend/internal/service/series"
)

const DateLayout = "2006-01-02"

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotsRequest struct {
	BarberID               string `json:"barber_id"`
	Date                   string `json:"date"`
	ServiceDurationMinutes int    `json:"service_duration_minutes"`
	BufferBeforeMinutes    *int   `json:"buffer_before_minutes,omitempty"`
	BufferAfterMinutes     *int   `json:"buffer_after_minutes,omitempty"`
}

type SlotsResponse struct {
	Slots []Slot `json:"slots"`
}

type NextAvailableRequest struct {
	BarberID               string `json:"barber_id"`
	ServiceDurationMinutes int    `json:"service_duration_minutes"`
	SearchHorizonDays      int    `json:"search_horizon_days"`
}

type NextAvailableResponse struct {
	Slot *Slot `json:"slot"`
}

type IsBlockedRequest struct {
	BarberID        string    `json:"barber_id"`
	LocationID      string    `json:"location_id,omitempty"`
	Instant         time.Time `json:"instant"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

type IsBlockedResponse struct {
	Blocked        bool   `json:"blocked"`
	Reason         string `json:"reason,omitempty"`
	BlackoutID     string `json:"blackout_id,omitempty"`
	AllowEmergency bool   `json:"allow_emergency,omitempty"`
}

type CreateBookingRequest struct {
	BarberID            string    `json:"barber_id"`
	ClientID            string    `json:"client_id"`
	ServiceID           string    `json:"service_id"`
	LocationID          string    `json:"location_id,omitempty"`
	StartTime           time.Time `json:"start_time"`
	DurationMinutes     int       `json:"duration_minutes"`
	BufferBeforeMinutes *int      `json:"buffer_before_minutes,omitempty"`
	BufferAfterMinutes  *int      `json:"buffer_after_minutes,omitempty"`
	IdempotencyKey      string    `json:"idempotency_key,omitempty"`
	Notes               string    `json:"notes,omitempty"`
}

type UpdateBookingRequest struct {
	AppointmentID   string     `json:"appointment_id"`
	ExpectedVersion int        `json:"expected_version"`
	Status          *string    `json:"status,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	ServiceID       *string    `json:"service_id,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	NeedsReschedule *bool      `json:"needs_reschedule,omitempty"`
}

type AppointmentResponse struct {
	Appointment Appointment `json:"appointment"`
}

type Appointment struct {
	ID                    string     `json:"id"`
	BarberID              string     `json:"barber_id"`
	LocationID            string     `json:"location_id"`
	ClientID              string     `json:"client_id"`
	ServiceID             string     `json:"service_id"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               time.Time  `json:"end_time"`
	DurationMinutes       int        `json:"duration_minutes"`
	Timezone              string     `json:"timezone"`
	Status                string     `json:"status"`
	Version               int        `json:"version"`
	IdempotencyKey        string     `json:"idempotency_key"`
	RecurringSeriesID     string     `json:"recurring_series_id,omitempty"`
	IsRecurringInstance   bool       `json:"is_recurring_instance"`
	OriginalScheduledDate *time.Time `json:"original_scheduled_date,omitempty"`
	RecurrenceSequence    *int       `json:"recurrence_sequence,omitempty"`
	NeedsReschedule       bool       `json:"needs_reschedule"`
	Notes                 string     `json:"notes,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type Pattern struct {
	Frequency       string     `json:"frequency"`
	Interval        int        `json:"interval,omitempty"`
	Weekdays        []int      `json:"weekdays,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	OccurrenceCount *int       `json:"occurrence_count,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
}

type GenerateSeriesRequest struct {
	UserID          string    `json:"user_id"`
	Pattern         Pattern   `json:"pattern"`
	FirstOccurrence time.Time `json:"first_occurrence"`
	BarberID        string    `json:"barber_id"`
	ClientID        string    `json:"client_id,omitempty"`
	ServiceID       string    `json:"service_id"`
	LocationID      string    `json:"location_id,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
}

type Series struct {
	ID                   string  `json:"id"`
	PatternID            string  `json:"pattern_id"`
	UserID               string  `json:"user_id"`
	BarberID             string  `json:"barber_id"`
	TotalPlanned         int     `json:"total_planned"`
	TotalCompleted       int     `json:"total_completed"`
	TotalCancelled       int     `json:"total_cancelled"`
	TotalRescheduled     int     `json:"total_rescheduled"`
	Status               string  `json:"status"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

type Occurrence struct {
	Sequence       int       `json:"sequence"`
	ScheduledStart time.Time `json:"scheduled_start"`
	Outcome        string    `json:"outcome"`
	AppointmentID  string    `json:"appointment_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

type SeriesResponse struct {
	Series      Series       `json:"series"`
	Occurrences []Occurrence `json:"occurrences,omitempty"`
}

type ReconcileRequest struct {
	AppointmentID   string     `json:"appointment_id"`
	NewStart        *time.Time `json:"new_start,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Cancelled       bool       `json:"cancelled,omitempty"`
}

type FlagAffectedResponse struct {
	Flagged int `json:"flagged"`
}

// ErrorBody is the HTTP error payload.
type ErrorBody struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	ConflictingIDs []string `json:"conflicting_ids,omitempty"`
	CurrentVersion int      `json:"current_version,omitempty"`
}

func ParseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.Validationf(apperr.CodeInvalidInput, "%s must be a UUID", field)
	}
	return id, nil
}

func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.Validation(apperr.CodeInvalidInput, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func (r SlotsRequest) Query() (availability.Query, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return availability.Query{}, err
	}
	return availability.Query{
		BarberID:               r.BarberID,
		Date:                   date,
		ServiceDurationMinutes: r.ServiceDurationMinutes,
		BufferBeforeMinutes:    r.BufferBeforeMinutes,
		BufferAfterMinutes:     r.BufferAfterMinutes,
	}, nil
}

func (r IsBlockedRequest) Query() blackouts.Query {
	return blackouts.Query{
		BarberID:        r.BarberID,
		LocationID:      r.LocationID,
		Instant:         r.Instant,
		DurationMinutes: r.DurationMinutes,
	}
}

func (r CreateBookingRequest) Input(caller booking.Caller) booking.CreateInput {
	return booking.CreateInput{
		Caller:              caller,
		BarberID:            r.BarberID,
		ClientID:            r.ClientID,
		ServiceID:           r.ServiceID,
		LocationID:          r.LocationID,
		StartTime:           r.StartTime,
		DurationMinutes:     r.DurationMinutes,
		BufferBeforeMinutes: r.BufferBeforeMinutes,
		BufferAfterMinutes:  r.BufferAfterMinutes,
		IdempotencyKey:      r.IdempotencyKey,
		Notes:               r.Notes,
	}
}

func (r UpdateBookingRequest) Input(caller booking.Caller) (booking.UpdateInput, error) {
	id, err := ParseID("appointment_id", r.AppointmentID)
	if err != nil {
		return booking.UpdateInput{}, err
	}
	p := booking.Patch{
		StartTime:       r.StartTime,
		DurationMinutes: r.DurationMinutes,
		ServiceID:       r.ServiceID,
		Notes:           r.Notes,
		NeedsReschedule: r.NeedsReschedule,
	}
	if r.Status != nil {
		st := domain.AppointmentStatus(strings.ToLower(strings.TrimSpace(*r.Status)))
		p.Status = &st
	}
	in := booking.UpdateInput{
		Caller:          caller,
		AppointmentID:   id,
		ExpectedVersion: r.ExpectedVersion,
		Patch:           p,
	}
	if err := in.Authorize(); err != nil {
		return booking.UpdateInput{}, err
	}
	return in, nil
}

func (r GenerateSeriesRequest) Input(caller booking.Caller) series.GenerateInput {
	weekdays := make([]int16, 0, len(r.Pattern.Weekdays))
	for _, wd := range r.Pattern.Weekdays {
		weekdays = append(weekdays, int16(wd))
	}
	clientID := r.ClientID
	if clientID == "" {
		clientID = r.UserID
	}
	return series.GenerateInput{
		Pattern: domain.RecurrencePattern{
			Frequency:       domain.RecurrenceFrequency(strings.ToLower(strings.TrimSpace(r.Pattern.Frequency))),
			Interval:        r.Pattern.Interval,
			Weekdays:        weekdays,
			EndDate:         r.Pattern.EndDate,
			OccurrenceCount: r.Pattern.OccurrenceCount,
			Timezone:        r.Pattern.Timezone,
		},
		UserID:          r.UserID,
		FirstOccurrence: r.FirstOccurrence,
		Template: booking.CreateInput{
			Caller:          caller,
			BarberID:        r.BarberID,
			ClientID:        clientID,
			ServiceID:       r.ServiceID,
			LocationID:      r.LocationID,
			DurationMinutes: r.DurationMinutes,
			Notes:           r.Notes,
		},
	}
}

func (r ReconcileRequest) Change() (calendarsync.Change, error) {
	id, err := ParseID("appointment_id", r.AppointmentID)
	if err != nil {
		return calendarsync.Change{}, err
	}
	return calendarsync.Change{
		AppointmentID:   id,
		NewStart:        r.NewStart,
		DurationMinutes: r.DurationMinutes,
		Cancelled:       r.Cancelled,
	}, nil
}

func FromSlots(slots []availability.Slot) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, Slot{Start: s.Start, End: s.End})
	}
	return out
}

func FromSlot(s *availability.Slot) *Slot {
	if s == nil {
		return nil
	}
	return &Slot{Start: s.Start, End: s.End}
}

func FromBlockResult(res blackouts.BlockResult) IsBlockedResponse {
	out := IsBlockedResponse{Blocked: res.Blocked, Reason: res.Reason, AllowEmergency: res.AllowEmergency}
	if res.BlackoutID != uuid.Nil {
		out.BlackoutID = res.BlackoutID.String()
	}
	return out
}

func FromAppointment(a domain.Appointment) Appointment {
	out := Appointment{
		ID:                    a.ID.String(),
		BarberID:              a.BarberID,
		LocationID:            a.LocationID,
		ClientID:              a.ClientID,
		ServiceID:             a.ServiceID,
		StartTime:             a.StartTime,
		EndTime:               a.EndTime,
		DurationMinutes:       a.DurationMinutes,
		Timezone:              a.Timezone,
		Status:                string(a.Status),
		Version:               a.Version,
		IdempotencyKey:        a.IdempotencyKey,
		IsRecurringInstance:   a.IsRecurringInstance,
		OriginalScheduledDate: a.OriginalScheduledDate,
		RecurrenceSequence:    a.RecurrenceSequence,
		NeedsReschedule:       a.NeedsReschedule,
		Notes:                 a.Notes,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
	if a.RecurringSeriesID != nil {
		out.RecurringSeriesID = a.RecurringSeriesID.String()
	}
	return out
}

func FromSeries(s domain.RecurringSeries) Series {
	return Series{
		ID:                   s.ID.String(),
		PatternID:            s.PatternID.String(),
		UserID:               s.UserID,
		BarberID:             s.BarberID,
		TotalPlanned:         s.TotalPlanned,
		TotalCompleted:       s.TotalCompleted,
		TotalCancelled:       s.TotalCancelled,
		TotalRescheduled:     s.TotalRescheduled,
		Status:               string(s.Status),
		CompletionPercentage: s.CompletionPercentage,
	}
}

func FromOccurrences(occs []domain.SeriesOccurrence) []Occurrence {
	out := make([]Occurrence, 0, len(occs))
	for _, o := range occs {
		occ := Occurrence{
			Sequence:       o.Sequence,
			ScheduledStart: o.ScheduledStart,
			Outcome:        string(o.Outcome),
			Reason:         o.Reason,
		}
		if o.AppointmentID != nil {
			occ.AppointmentID = o.AppointmentID.String()
		}
		out = append(out, occ)
	}
	return out
}

// Describe flattens a service error into the payload both transports send.
func Describe(err error) ErrorBody {
	var (
		cErr *apperr.ConflictError
		sErr *apperr.ConcurrencyError
		vErr *apperr.ValidationError
		nErr *apperr.NotFoundError
		fErr *apperr.ForbiddenError
	)
	switch {
	case errors.As(err, &vErr):
		return ErrorBody{Code: strings.ToUpper(vErr.Code), Message: vErr.Msg}
	case errors.As(err, &cErr):
		ids := make([]string, 0, len(cErr.ConflictingIDs))
		for _, id := range cErr.ConflictingIDs {
			ids = append(ids, id.String())
		}
		return ErrorBody{Code: "CONFLICT", Message: cErr.Error(), ConflictingIDs: ids}
	case errors.As(err, &sErr):
		return ErrorBody{Code: "VERSION_MISMATCH", Message: sErr.Error(), CurrentVersion: sErr.CurrentVersion}
	case errors.As(err, &nErr):
		return ErrorBody{Code: "NOT_FOUND", Message: nErr.Error()}
	case errors.As(err, &fErr):
		return ErrorBody{Code: "FORBIDDEN", Message: fErr.Msg}
	case apperr.IsTransient(err):
		return ErrorBody{Code: "UNAVAILABLE", Message: "scheduling store is temporarily unavailable, retry shortly"}
	default:
		return ErrorBody{Code: "INTERNAL", Message: "internal error"}
	}
}
