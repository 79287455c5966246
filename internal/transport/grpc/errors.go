package grpc

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/transport/wire"
)

const errorDomain = "barbercal.scheduling"

// statusFor maps a service error to a gRPC status carrying ErrorInfo, and
// RetryInfo for transient failures.
func statusFor(err error, retryAfter time.Duration) *status.Status {
	body := wire.Describe(err)

	var (
		code    codes.Code
		vErr    *apperr.ValidationError
		details = map[string]string{}
	)
	switch {
	case errors.As(err, &vErr):
		code = codes.InvalidArgument
		switch vErr.Code {
		case apperr.CodeInPast, apperr.CodeLeadTime, apperr.CodeOutsideWorkingHours, apperr.CodeBlackout, apperr.CodeInvalidTransition:
			code = codes.FailedPrecondition
		}
		if vErr.Blackout != nil {
			details["blackout_id"] = vErr.Blackout.ID.String()
		}
	case apperr.IsConflict(err):
		code = codes.Aborted
		for i, id := range body.ConflictingIDs {
			details["conflicting_id_"+strconv.Itoa(i)] = id
		}
	case apperr.IsConcurrency(err):
		code = codes.Aborted
		details["current_version"] = strconv.Itoa(body.CurrentVersion)
	case apperr.IsNotFound(err):
		code = codes.NotFound
	case apperr.IsForbidden(err):
		code = codes.PermissionDenied
	case apperr.IsTransient(err):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}

	st := status.New(code, body.Message)
	info := &errdetails.ErrorInfo{Reason: body.Code, Domain: errorDomain}
	if len(details) > 0 {
		info.Metadata = details
	}
	var withDetails *status.Status
	var dErr error
	if code == codes.Unavailable && retryAfter > 0 {
		withDetails, dErr = st.WithDetails(info, &errdetails.RetryInfo{RetryDelay: durationpb.New(retryAfter)})
	} else {
		withDetails, dErr = st.WithDetails(info)
	}
	if dErr != nil {
		slog.Default().Warn("attach error details failed", slog.Any("err", dErr))
		return st
	}
	return withDetails
}
