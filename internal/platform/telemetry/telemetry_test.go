package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBooking(t *testing.T) {
	p := NewProvider()
	p.ObserveBooking(OutcomeBooked)
	p.ObserveBooking(OutcomeBooked)
	p.ObserveBooking(OutcomeConflict)

	if got := testutil.ToFloat64(p.bookings.WithLabelValues(OutcomeBooked)); got != 2 {
		t.Errorf("expected 2 booked, got %v", got)
	}
	if got := testutil.ToFloat64(p.bookings.WithLabelValues(OutcomeConflict)); got != 1 {
		t.Errorf("expected 1 conflict, got %v", got)
	}
}

func TestObserveTransitionAndEvent(t *testing.T) {
	p := NewProvider()
	p.ObserveTransition("pending", "confirmed")
	p.ObserveEvent("appointment.created", nil)
	p.ObserveEvent("appointment.created", errors.New("broker down"))

	if got := testutil.ToFloat64(p.transitions.WithLabelValues("pending", "confirmed")); got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
	if got := testutil.ToFloat64(p.events.WithLabelValues("appointment.created", "error")); got != 1 {
		t.Errorf("expected 1 failed event, got %v", got)
	}
}

func TestObserveLockWait(t *testing.T) {
	p := NewProvider()
	p.ObserveLockWait("memory", true, 2*time.Millisecond)
	p.ObserveLockWait("redis", false, time.Second)

	if n := testutil.CollectAndCount(p.lockWait); n != 2 {
		t.Errorf("expected 2 lock wait series, got %d", n)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	p := NewProvider()
	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/api/v1/doctors/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/missing/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	})

	for _, path := range []string{"/api/v1/doctors/a", "/api/v1/doctors/b", "/api/v1/missing/c"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if n := testutil.CollectAndCount(p.httpDuration); n != 2 {
		t.Errorf("expected 2 series (one per route/status), got %d", n)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	p := NewProvider()
	p.ObserveBooking(OutcomeBooked)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)
	if err := p.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `medbook_bookings_total{outcome="booked"} 1`) {
		t.Error("expected bookings counter in exposition output")
	}
}
