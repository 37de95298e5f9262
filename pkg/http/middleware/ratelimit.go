package middleware

import (
	"net/http"
	"strings"

	"FluxDash/pkg/http/envelope"

	"github.com/labstack/echo/v4"
)

// Allower decides whether a request identified by key may proceed.
type Allower interface {
	Allow(key string) bool
}

// RateLimit rejects requests whose path starts with prefix once the client
// (keyed by real IP) runs out of tokens.
func RateLimit(limiter Allower, prefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, prefix) {
				return next(c)
			}
			if limiter.Allow(c.RealIP()) {
				return next(c)
			}
			c.Response().Header().Set("Retry-After", "1")
			return c.JSON(http.StatusTooManyRequests, envelope.New(
				http.StatusTooManyRequests,
				http.StatusText(http.StatusTooManyRequests),
				[]envelope.FieldError{{Code: envelope.CodeRateLimited, Message: "too many requests"}},
			))
		}
	}
}
