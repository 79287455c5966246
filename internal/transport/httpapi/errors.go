package httpapi

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/transport/wire"
)

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, wire.ErrorBody{Code: code, Message: message})
}

func statusOf(err error) int {
	var vErr *apperr.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity
	case apperr.IsConflict(err):
		return http.StatusConflict
	case apperr.IsConcurrency(err):
		return http.StatusPreconditionFailed
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsForbidden(err):
		return http.StatusForbidden
	case apperr.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error payload for a service error and logs it at a level
// matching its kind.
func (h *handler) fail(c *gin.Context, msg string, err error) {
	status := statusOf(err)
	switch {
	case status >= http.StatusInternalServerError:
		h.log.Error(msg, slog.String("route", c.FullPath()), slog.Any("err", err))
	case apperr.IsValidation(err):
		h.log.Warn(msg, slog.String("route", c.FullPath()), slog.Any("err", err))
	default:
		h.log.Info(msg, slog.String("route", c.FullPath()), slog.Any("err", err))
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(h.backend.RetryAfter.Seconds()))))
	}
	c.JSON(status, wire.Describe(err))
}
