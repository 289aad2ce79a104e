package middleware

import (
	"time"

	"RSIndex/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging writes one structured line per request. 5xx responses log at error
// level, requests slower than slow at warn.
func RequestLogging(log *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", routeOf(c)),
				logger.String("uri", c.Request().RequestURI),
				logger.Int("status", status),
				logger.Int64("bytes", c.Response().Size),
				logger.Duration("latency", time.Since(start)),
				logger.String("remote_ip", c.RealIP()),
			}
			switch {
			case status >= 500:
				log.Error("http request failed", fields...)
			case slow > 0 && time.Since(start) >= slow:
				log.Warn("http request slow", fields...)
			default:
				log.Debug("http request", fields...)
			}
			return nil
		}
	}
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
