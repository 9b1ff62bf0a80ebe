package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
	"github.com/Av3ksi/psychedu4-sub000/storage/memory"
)

func newManager(t *testing.T) *subsync.Manager {
	t.Helper()

	store := memory.New()
	manager, err := subsync.NewManager(store, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	rec := &subsync.SubscriptionRecord{
		UserID:                 "active-user",
		ExternalSubscriptionID: "sub_active",
		Status:                 subsync.StatusTrialing,
		ObservedAt:             time.Now().UTC(),
	}
	if err := store.Upsert(context.Background(), rec, time.Time{}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	return manager
}

func runRequest(t *testing.T, mw echo.MiddlewareFunc, userID string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	e.GET("/premium", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, mw)

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestMiddleware_EntitledUser(t *testing.T) {
	mw := Middleware(Config{
		Manager:   newManager(t),
		GetUserID: FromHeader("X-User-ID"),
	})

	w := runRequest(t, mw, "active-user")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestMiddleware_UnknownUser(t *testing.T) {
	mw := Middleware(Config{
		Manager:   newManager(t),
		GetUserID: FromHeader("X-User-ID"),
	})

	w := runRequest(t, mw, "stranger")
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", w.Code)
	}
}

func TestMiddleware_Unauthenticated(t *testing.T) {
	mw := Middleware(Config{
		Manager:   newManager(t),
		GetUserID: FromHeader("X-User-ID"),
	})

	w := runRequest(t, mw, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestMiddleware_CustomStatusCode(t *testing.T) {
	mw := Middleware(Config{
		Manager:               newManager(t),
		GetUserID:             FromHeader("X-User-ID"),
		NotEntitledStatusCode: http.StatusForbidden,
	})

	w := runRequest(t, mw, "stranger")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}
