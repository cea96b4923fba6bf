package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/internal/platform/auth"
)

// Logger emits one structured line per request. Authenticated requests carry
// the portal identity fields, so a lab staffer's activity is separable from a
// patient's in the same stream.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			// Inner middleware swaps the request to attach identity, so read
			// the context again after the chain has run.
			ctx := c.Request().Context()
			if userID := auth.UserIDFromContext(ctx); userID != "" {
				evt = evt.Str("user_id", userID)
				if role := auth.RoleFromContext(ctx); role != "" {
					evt = evt.Str("role", role)
				}
				if labID := auth.LabIDFromContext(ctx); labID != "" {
					evt = evt.Str("lab_id", labID)
				}
			}

			evt.Msg("request")
			return err
		}
	}
}
