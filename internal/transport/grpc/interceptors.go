package grpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"barbercal/backend/internal/auth"
)

// methodCapabilities lists, per RPC, the capabilities of which the caller
// needs at least one.
var methodCapabilities = map[string][]auth.Capability{
	"GetAvailableSlots":       {auth.CapViewAvailability},
	"GetNextAvailable":        {auth.CapViewAvailability},
	"IsBlocked":               {auth.CapViewAvailability},
	"CreateBooking":           {auth.CapBook},
	"UpdateBooking":           {auth.CapBook, auth.CapManageBookings},
	"GenerateSeries":          {auth.CapManageSeries},
	"ReconcileCalendarChange": {auth.CapCalendarSync},
}

// DefaultRequestTimeoutInterceptor bounds requests that arrive without a
// deadline.
func DefaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// AuthInterceptor resolves the bearer token once and checks the method's
// capability before the handler runs.
func AuthInterceptor(a *auth.Authenticator, log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.auth"))

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		p, err := a.Authenticate(firstMetadata(ctx, "authorization"))
		if err != nil {
			log.Info("unauthenticated request", slog.String("method", info.FullMethod), slog.Any("err", err))
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		method := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
		if required, ok := methodCapabilities[method]; ok && !canAny(p, required) {
			log.Info(
				"permission denied",
				slog.String("method", info.FullMethod),
				slog.String("subject", p.Subject),
				slog.String("role", string(p.Role)),
			)
			return nil, status.Error(codes.PermissionDenied, "caller may not "+required[0].String())
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}

func canAny(p auth.Principal, caps []auth.Capability) bool {
	for _, c := range caps {
		if p.Can(c) {
			return true
		}
	}
	return false
}

func firstMetadata(ctx context.Context, keys ...string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, key := range keys {
		if values := md.Get(key); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func idempotencyKey(ctx context.Context) string {
	return firstMetadata(ctx, "idempotency-key", "x-idempotency-key")
}
