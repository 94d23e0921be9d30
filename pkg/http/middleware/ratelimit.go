package middleware

import (
	"net/http"
	"strings"

	"OhlcvAPI/pkg/ratelimit"

	"github.com/labstack/echo/v4"
)

// RateLimit rejects requests with 429 once the client IP's bucket is empty.
// Routes ending in one of skip (e.g. the health check, under any mount prefix) are never limited.
func RateLimit(l *ratelimit.Limiter, skip ...string) echo.MiddlewareFunc {
	skipped := func(route string) bool {
		for _, p := range skip {
			if strings.HasSuffix(route, p) {
				return true
			}
		}
		return false
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipped(c.Path()) {
				return next(c)
			}
			if !l.Allow(c.RealIP()) {
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status":  http.StatusTooManyRequests,
					"message": "Rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}
