// Package httpapi exposes the scheduling operations over HTTP with gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/auth"
	"barbercal/backend/internal/transport/wire"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Health   map[string]HealthCheck
}

type handler struct {
	backend wire.Backend
	opts    Options
	log     *slog.Logger
}

func NewRouter(backend wire.Backend, authn *auth.Authenticator, opts Options, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "http"))
	if backend.RetryAfter <= 0 {
		backend.RetryAfter = time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	h := &handler{backend: backend, opts: opts, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLog(log))

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1", Authenticate(authn, log))
	{
		api.GET("/barbers/:id/slots", Require(auth.CapViewAvailability), h.slots)
		api.GET("/barbers/:id/next-available", Require(auth.CapViewAvailability), h.nextAvailable)
		api.GET("/barbers/:id/blocked", Require(auth.CapViewAvailability), h.blocked)

		api.POST("/appointments", Require(auth.CapBook), h.createBooking)
		api.PATCH("/appointments/:id", Require(auth.CapBook, auth.CapManageBookings), h.updateBooking)
		api.POST("/appointments/:id/reconcile", Require(auth.CapCalendarSync), h.reconcile)

		api.POST("/series", Require(auth.CapManageSeries), h.generateSeries)
		api.GET("/series/:id", Require(auth.CapManageSeries), h.getSeries)

		api.POST("/blackouts/:id/flag-affected", Require(auth.CapManageBlackouts), h.flagAffected)
	}
	return r
}

func (h *handler) health(c *gin.Context) {
	checks := make(map[string]string, len(h.opts.Health))
	healthy := true
	for name, check := range h.opts.Health {
		if err := check(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

func queryInt(c *gin.Context, name string) (int, bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, apperr.Validationf(apperr.CodeInvalidInput, "%s must be an integer", name)
	}
	return v, true, nil
}

func optionalInt(c *gin.Context, name string) (*int, error) {
	v, ok, err := queryInt(c, name)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (h *handler) slots(c *gin.Context) {
	dur, _, err := queryInt(c, "duration")
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	before, err := optionalInt(c, "buffer_before")
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	after, err := optionalInt(c, "buffer_after")
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	q, err := wire.SlotsRequest{
		BarberID:               c.Param("id"),
		Date:                   c.Query("date"),
		ServiceDurationMinutes: dur,
		BufferBeforeMinutes:    before,
		BufferAfterMinutes:     after,
	}.Query()
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}

	slots, err := h.backend.Slots.GetAvailableSlots(c.Request.Context(), q)
	if err != nil {
		h.fail(c, "slots lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, wire.SlotsResponse{Slots: wire.FromSlots(slots)})
}

func (h *handler) nextAvailable(c *gin.Context) {
	dur, _, err := queryInt(c, "duration")
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	horizon, ok, err := queryInt(c, "horizon_days")
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	if !ok {
		horizon = h.backend.NextAvailableHorizonDays
	}

	slot, err := h.backend.Slots.GetNextAvailable(c.Request.Context(), c.Param("id"), dur, horizon)
	if err != nil {
		h.fail(c, "next available lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, wire.NextAvailableResponse{Slot: wire.FromSlot(slot)})
}

func (h *handler) blocked(c *gin.Context) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("at")))
	if err != nil {
		h.fail(c, "invalid request", apperr.Validation(apperr.CodeInvalidInput, "at must be an RFC 3339 timestamp"))
		return
	}
	dur, _, err := queryInt(c, "duration")
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}

	req := wire.IsBlockedRequest{BarberID: c.Param("id"), LocationID: c.Query("location_id"), Instant: at, DurationMinutes: dur}
	res, err := h.backend.Blackouts.IsBlocked(c.Request.Context(), req.Query())
	if err != nil {
		if !apperr.Typed(err) {
			err = apperr.Transient("check blackouts", err)
		}
		h.fail(c, "blackout check failed", err)
		return
	}
	c.JSON(http.StatusOK, wire.FromBlockResult(res))
}

func (h *handler) createBooking(c *gin.Context) {
	var req wire.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "invalid request", apperr.Validation(apperr.CodeInvalidInput, "malformed JSON body"))
		return
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}

	appt, err := h.backend.Bookings.CreateBooking(c.Request.Context(), req.Input(wire.CallerFrom(principal(c))))
	if err != nil {
		h.fail(c, "booking create failed", err)
		return
	}
	h.log.Info("booking created", slog.String("appointment_id", appt.ID.String()), slog.String("barber_id", appt.BarberID))
	c.JSON(http.StatusCreated, wire.AppointmentResponse{Appointment: wire.FromAppointment(appt)})
}

func (h *handler) updateBooking(c *gin.Context) {
	var req wire.UpdateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "invalid request", apperr.Validation(apperr.CodeInvalidInput, "malformed JSON body"))
		return
	}
	req.AppointmentID = c.Param("id")
	if req.ExpectedVersion == 0 {
		if v, err := strconv.Atoi(strings.Trim(c.GetHeader("If-Match"), `"`)); err == nil {
			req.ExpectedVersion = v
		}
	}

	in, err := req.Input(wire.CallerFrom(principal(c)))
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	appt, err := h.backend.Bookings.UpdateBooking(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "booking update failed", err)
		return
	}
	c.JSON(http.StatusOK, wire.AppointmentResponse{Appointment: wire.FromAppointment(appt)})
}

func (h *handler) reconcile(c *gin.Context) {
	var req wire.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "invalid request", apperr.Validation(apperr.CodeInvalidInput, "malformed JSON body"))
		return
	}
	req.AppointmentID = c.Param("id")

	ch, err := req.Change()
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	appt, err := h.backend.Calendar.Reconcile(c.Request.Context(), ch)
	if err != nil {
		h.fail(c, "calendar reconcile failed", err)
		return
	}
	c.JSON(http.StatusOK, wire.AppointmentResponse{Appointment: wire.FromAppointment(appt)})
}

func (h *handler) generateSeries(c *gin.Context) {
	var req wire.GenerateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "invalid request", apperr.Validation(apperr.CodeInvalidInput, "malformed JSON body"))
		return
	}

	series, err := h.backend.Series.GenerateSeries(c.Request.Context(), req.Input(wire.CallerFrom(principal(c))))
	if err != nil {
		h.fail(c, "series generation failed", err)
		return
	}
	occs, err := h.backend.Series.ListOccurrences(c.Request.Context(), series.ID)
	if err != nil {
		h.log.Warn("occurrence listing failed", slog.String("series_id", series.ID.String()), slog.Any("err", err))
	}
	c.JSON(http.StatusCreated, wire.SeriesResponse{Series: wire.FromSeries(series), Occurrences: wire.FromOccurrences(occs)})
}

func (h *handler) getSeries(c *gin.Context) {
	id, err := wire.ParseID("id", c.Param("id"))
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	series, err := h.backend.Series.GetSeries(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "series lookup failed", err)
		return
	}
	occs, err := h.backend.Series.ListOccurrences(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "occurrence listing failed", err)
		return
	}
	c.JSON(http.StatusOK, wire.SeriesResponse{Series: wire.FromSeries(series), Occurrences: wire.FromOccurrences(occs)})
}

func (h *handler) flagAffected(c *gin.Context) {
	id, err := wire.ParseID("id", c.Param("id"))
	if err != nil {
		h.fail(c, "invalid request", err)
		return
	}
	n, err := h.backend.Blackouts.FlagAffected(c.Request.Context(), id, h.backend.Flagger)
	if err != nil {
		h.fail(c, "blackout resolution failed", err)
		return
	}
	h.log.Info("blackout resolved", slog.String("blackout_id", id.String()), slog.Int("flagged", n))
	c.JSON(http.StatusOK, wire.FlagAffectedResponse{Flagged: n})
}
