// Package gin provides Gin middleware for entitlement gating
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

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
	OnNotEntitled func(c *gongin.Context)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits only entitled users
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("subsync/gin: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/gin: Config.GetUserID is required")
	}
	if cfg.NotEntitledStatusCode == 0 {
		cfg.NotEntitledStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		entitled, err := cfg.Manager.IsEntitled(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if !entitled {
			if cfg.OnNotEntitled != nil {
				cfg.OnNotEntitled(c)
			} else {
				c.JSON(cfg.NotEntitledStatusCode, gongin.H{"error": "Subscription required"})
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
