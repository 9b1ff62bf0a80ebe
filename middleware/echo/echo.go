// Package echo provides Echo middleware for entitlement gating
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager is the subscription manager instance
	Manager *subsync.Manager

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// NotEntitledStatusCode is the HTTP status code to return when the user
	// has no entitling subscription
	// Default: 402 (Payment Required)
	NotEntitledStatusCode int

	// OnNotEntitled is called when the user has no entitling subscription
	// If nil, uses default JSON response
	OnNotEntitled func(c echo.Context) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that admits only entitled users
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("subsync/echo: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/echo: Config.GetUserID is required")
	}
	if cfg.NotEntitledStatusCode == 0 {
		cfg.NotEntitledStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			entitled, err := cfg.Manager.IsEntitled(c.Request().Context(), userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if !entitled {
				if cfg.OnNotEntitled != nil {
					return cfg.OnNotEntitled(c)
				}
				return c.JSON(cfg.NotEntitledStatusCode, map[string]string{"error": "Subscription required"})
			}

			return next(c)
		}
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val, ok := c.Get(key).(string); ok {
			return val
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
