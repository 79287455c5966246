package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/auth"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/transport/wire"
)

type SchedulingServer struct {
	backend wire.Backend
	log     *slog.Logger
}

var _ SchedulingService = (*SchedulingServer)(nil)

func NewSchedulingServer(backend wire.Backend, log *slog.Logger) *SchedulingServer {
	if log == nil {
		log = slog.Default()
	}
	if backend.RetryAfter <= 0 {
		backend.RetryAfter = time.Second
	}
	return &SchedulingServer{
		backend: backend,
		log:     log.With(slog.String("component", "grpc.scheduling")),
	}
}

// fail logs err at a level matching its kind and converts it to a status.
func (s *SchedulingServer) fail(log *slog.Logger, msg string, err error) error {
	switch {
	case apperr.IsTransient(err):
		log.Error(msg, slog.Any("err", err))
	case apperr.IsValidation(err):
		log.Warn(msg, slog.Any("err", err))
	case apperr.Typed(err):
		log.Info(msg, slog.Any("err", err))
	default:
		log.Error(msg, slog.Any("err", err))
	}
	return statusFor(err, s.backend.RetryAfter).Err()
}

func caller(ctx context.Context) booking.Caller {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return booking.Caller{}
	}
	return wire.CallerFrom(p)
}

func nilRequest(log *slog.Logger) error {
	log.Warn("invalid request", slog.String("reason", "nil_request"))
	return status.Error(codes.InvalidArgument, "request is required")
}

func (s *SchedulingServer) GetAvailableSlots(ctx context.Context, req *wire.SlotsRequest) (*wire.SlotsResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAvailableSlots"))
	if req == nil {
		return nil, nilRequest(log)
	}
	log = log.With(slog.String("barber_id", req.BarberID), slog.String("date", req.Date))

	q, err := req.Query()
	if err != nil {
		return nil, s.fail(log, "invalid request", err)
	}
	slots, err := s.backend.Slots.GetAvailableSlots(ctx, q)
	if err != nil {
		return nil, s.fail(log, "slots lookup failed", err)
	}

	log.Debug("slots listed", slog.Int("count", len(slots)))
	return &wire.SlotsResponse{Slots: wire.FromSlots(slots)}, nil
}

func (s *SchedulingServer) GetNextAvailable(ctx context.Context, req *wire.NextAvailableRequest) (*wire.NextAvailableResponse, error) {
	log := s.log.With(slog.String("rpc", "GetNextAvailable"))
	if req == nil {
		return nil, nilRequest(log)
	}
	log = log.With(slog.String("barber_id", req.BarberID))

	horizon := req.SearchHorizonDays
	if horizon <= 0 {
		horizon = s.backend.NextAvailableHorizonDays
	}
	slot, err := s.backend.Slots.GetNextAvailable(ctx, req.BarberID, req.ServiceDurationMinutes, horizon)
	if err != nil {
		return nil, s.fail(log, "next available lookup failed", err)
	}

	log.Debug("next available resolved", slog.Bool("found", slot != nil))
	return &wire.NextAvailableResponse{Slot: wire.FromSlot(slot)}, nil
}

func (s *SchedulingServer) IsBlocked(ctx context.Context, req *wire.IsBlockedRequest) (*wire.IsBlockedResponse, error) {
	log := s.log.With(slog.String("rpc", "IsBlocked"))
	if req == nil {
		return nil, nilRequest(log)
	}
	log = log.With(slog.String("barber_id", req.BarberID))

	res, err := s.backend.Blackouts.IsBlocked(ctx, req.Query())
	if err != nil {
		if !apperr.Typed(err) {
			err = apperr.Transient("check blackouts", err)
		}
		return nil, s.fail(log, "blackout check failed", err)
	}
	out := wire.FromBlockResult(res)
	return &out, nil
}

func (s *SchedulingServer) CreateBooking(ctx context.Context, req *wire.CreateBookingRequest) (*wire.AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))
	if req == nil {
		return nil, nilRequest(log)
	}
	if key := idempotencyKey(ctx); key != "" {
		req.IdempotencyKey = key
	}
	log = log.With(slog.String("barber_id", req.BarberID), slog.String("client_id", req.ClientID))

	appt, err := s.backend.Bookings.CreateBooking(ctx, req.Input(caller(ctx)))
	if err != nil {
		return nil, s.fail(log, "booking create failed", err)
	}

	log.Info(
		"booking created",
		slog.String("appointment_id", appt.ID.String()),
		slog.Time("start_time", appt.StartTime),
		slog.Time("end_time", appt.EndTime),
	)
	return &wire.AppointmentResponse{Appointment: wire.FromAppointment(appt)}, nil
}

func (s *SchedulingServer) UpdateBooking(ctx context.Context, req *wire.UpdateBookingRequest) (*wire.AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateBooking"))
	if req == nil {
		return nil, nilRequest(log)
	}
	log = log.With(slog.String("appointment_id", req.AppointmentID))

	in, err := req.Input(caller(ctx))
	if err != nil {
		return nil, s.fail(log, "invalid request", err)
	}
	appt, err := s.backend.Bookings.UpdateBooking(ctx, in)
	if err != nil {
		return nil, s.fail(log, "booking update failed", err)
	}

	log.Info("booking updated", slog.String("status", string(appt.Status)), slog.Int("version", appt.Version))
	return &wire.AppointmentResponse{Appointment: wire.FromAppointment(appt)}, nil
}

func (s *SchedulingServer) GenerateSeries(ctx context.Context, req *wire.GenerateSeriesRequest) (*wire.SeriesResponse, error) {
	log := s.log.With(slog.String("rpc", "GenerateSeries"))
	if req == nil {
		return nil, nilRequest(log)
	}
	log = log.With(slog.String("barber_id", req.BarberID), slog.String("user_id", req.UserID))

	series, err := s.backend.Series.GenerateSeries(ctx, req.Input(caller(ctx)))
	if err != nil {
		return nil, s.fail(log, "series generation failed", err)
	}
	occs, err := s.backend.Series.ListOccurrences(ctx, series.ID)
	if err != nil {
		log.Warn("occurrence listing failed", slog.Any("err", err))
	}

	log.Info(
		"series generated",
		slog.String("series_id", series.ID.String()),
		slog.Int("planned", series.TotalPlanned),
		slog.Int("completed", series.TotalCompleted),
	)
	return &wire.SeriesResponse{Series: wire.FromSeries(series), Occurrences: wire.FromOccurrences(occs)}, nil
}

func (s *SchedulingServer) ReconcileCalendarChange(ctx context.Context, req *wire.ReconcileRequest) (*wire.AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "ReconcileCalendarChange"))
	if req == nil {
		return nil, nilRequest(log)
	}
	log = log.With(slog.String("appointment_id", req.AppointmentID))

	ch, err := req.Change()
	if err != nil {
		return nil, s.fail(log, "invalid request", err)
	}
	appt, err := s.backend.Calendar.Reconcile(ctx, ch)
	if err != nil {
		return nil, s.fail(log, "calendar reconcile failed", err)
	}

	log.Info("calendar change reconciled", slog.Int("version", appt.Version))
	return &wire.AppointmentResponse{Appointment: wire.FromAppointment(appt)}, nil
}
