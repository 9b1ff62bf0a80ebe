// Package http provides HTTP middleware for entitlement gating
package http

import (
	"net/http"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Manager is the subscription manager instance
	Manager *subsync.Manager

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// NotEntitledStatusCode is the HTTP status code to return when the user
	// has no entitling subscription
	// Default: 402 (Payment Required)
	NotEntitledStatusCode int

	// OnNotEntitled is called when the user has no entitling subscription
	// If nil, returns NotEntitledStatusCode
	OnNotEntitled func(w http.ResponseWriter, r *http.Request)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that admits only entitled users.
// The entitlement check reads the locally synced record; it never calls the
// billing provider, so it stays on the request hot path.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Manager == nil {
		panic("subsync/http: Config.Manager is required")
	}
	if config.GetUserID == nil {
		panic("subsync/http: Config.GetUserID is required")
	}
	if config.NotEntitledStatusCode == 0 {
		config.NotEntitledStatusCode = http.StatusPaymentRequired
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			entitled, err := config.Manager.IsEntitled(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !entitled {
				if config.OnNotEntitled != nil {
					config.OnNotEntitled(w, r)
				} else {
					http.Error(w, "Subscription required", config.NotEntitledStatusCode)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that admits only entitled users (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Common extractors for convenience

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a UserIDExtractor that gets user ID from the request
// context. Use this when an auth middleware upstream has already resolved the
// user.
func FromContext(key any) UserIDExtractor {
	return func(r *http.Request) string {
		if val, ok := r.Context().Value(key).(string); ok {
			return val
		}
		return ""
	}
}
