// Package fiber provides Fiber middleware for entitlement gating
package fiber

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnNotEntitled func(c *fiber.Ctx) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that admits only entitled users
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("subsync/fiber: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/fiber: Config.GetUserID is required")
	}
	if cfg.NotEntitledStatusCode == 0 {
		cfg.NotEntitledStatusCode = http.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		entitled, err := cfg.Manager.IsEntitled(c.UserContext(), userID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if !entitled {
			if cfg.OnNotEntitled != nil {
				return cfg.OnNotEntitled(c)
			}
			return c.Status(cfg.NotEntitledStatusCode).JSON(fiber.Map{"error": "Subscription required"})
		}

		return c.Next()
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Fiber locals
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val, ok := c.Locals(key).(string); ok {
			return val
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
