package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lab-device-reservation/internal/config"
	"github.com/iliyamo/lab-device-reservation/internal/credential"
	"github.com/iliyamo/lab-device-reservation/internal/database"
	"github.com/iliyamo/lab-device-reservation/internal/handler"
	"github.com/iliyamo/lab-device-reservation/internal/logging"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
	"github.com/iliyamo/lab-device-reservation/internal/service"
)

func newServer(t *testing.T, limits Limits) *echo.Echo {
	t.Helper()
	db, err := database.Open(context.Background(), database.Options{Driver: database.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logging.Discard()

	reservations := repository.NewReservationRepo(db)
	registry := service.NewDeviceRegistry(repository.NewDeviceRepo(db), []string{"PC1"}, nil, log)
	engine := service.NewReservationEngine(registry, reservations, credential.NewGenerator(4), nil, log)

	d := handler.NewDeviceHandler(engine, registry, log)
	a := handler.NewAdminHandler(service.NewAdminQuery(reservations, registry, time.UTC), registry, log)
	auth := handler.NewAuthHandler(config.Config{JWTSecret: "secret", AccessTTLMin: 5}, repository.NewAdminRepo(db), log)

	e := New(log)
	RegisterRoutes(e, db)
	RegisterDevices(e, d, "", limits)
	RegisterAdmin(e, auth, a, d, "secret", limits)
	return e
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestProbesAndPublicRoutes(t *testing.T) {
	e := newServer(t, Limits{})
	for _, path := range []string{"/healthz", "/readyz", "/status"} {
		rec := serve(e, http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		if rec.Header().Get(echo.HeaderXRequestID) == "" {
			t.Fatalf("%s has no request id", path)
		}
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	e := newServer(t, Limits{})
	cases := []struct{ method, path string }{
		{http.MethodPost, "/shutdown"},
		{http.MethodGet, "/reservations"},
		{http.MethodGet, "/admin/me"},
		{http.MethodGet, "/admin/statistics"},
		{http.MethodGet, "/admin/reservations/1"},
		{http.MethodGet, "/admin/devices"},
		{http.MethodGet, "/admin/devices/PC1/occupant"},
		{http.MethodPost, "/admin/devices/PC1/state"},
	}
	for _, tc := range cases {
		if rec := serve(e, tc.method, tc.path); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func TestLimitsAreApplied(t *testing.T) {
	blocked := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return c.JSON(http.StatusTooManyRequests, echo.Map{"message": "slow down"})
		}
	}
	e := newServer(t, Limits{Reserve: blocked, VerifyPIN: blocked, Login: blocked})

	if rec := serve(e, http.MethodPost, "/reserve"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("/reserve status = %d", rec.Code)
	}
	if rec := serve(e, http.MethodPost, "/verify_pin"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("/verify_pin status = %d", rec.Code)
	}
	if rec := serve(e, http.MethodPost, "/admin/login"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("/admin/login status = %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/status"); rec.Code != http.StatusOK {
		t.Fatalf("/status status = %d", rec.Code)
	}
}
