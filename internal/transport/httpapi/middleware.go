package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"barbercal/backend/internal/auth"
	"barbercal/backend/internal/metrics"
)

const principalKey = "principal"

// Authenticate resolves the bearer token once per request.
func Authenticate(a *auth.Authenticator, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			log.Info("unauthenticated request", slog.String("path", c.FullPath()), slog.Any("err", err))
			writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			c.Abort()
			return
		}
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// Require lets the request through when the caller holds any of caps.
func Require(caps ...auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		for _, want := range caps {
			if p.Can(want) {
				c.Next()
				return
			}
		}
		writeError(c, http.StatusForbidden, "FORBIDDEN", "caller may not "+caps[0].String())
		c.Abort()
	}
}

func principal(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Principal{}
}

// RequestLog records latency per route and logs failed requests.
func RequestLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(began)
		metrics.ObserveHTTPRequest(c.Request.Method, route, status, elapsed.Seconds())

		if status >= http.StatusInternalServerError {
			log.Error("request failed", slog.String("method", c.Request.Method), slog.String("route", route), slog.Int("status", status), slog.Duration("elapsed", elapsed))
		} else {
			log.Debug("request served", slog.String("method", c.Request.Method), slog.String("route", route), slog.Int("status", status), slog.Duration("elapsed", elapsed))
		}
	}
}
