package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "RunGuard/pkg/logger"
)

// RequestLogging logs each request at debug level. Server errors are
// logged at warn so they show up with the default level.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.Int("status", status),
				applogger.Duration("latency", time.Since(start)),
			}
			if id := c.Param("id"); id != "" {
				fields = append(fields, applogger.String("session", id))
			}
			if status >= 500 {
				l.Warn("http request failed", append(fields, applogger.String("remote", c.RealIP()))...)
				return err
			}
			l.Debug("http request", fields...)
			return err
		}
	}
}
