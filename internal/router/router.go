package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/lab-device-reservation/internal/middleware" // JWT, role, agent key, rate limit and cache middleware
)

// Limits carries the optional Redis-backed middleware.  A nil field is
// treated as pass-through.
type Limits struct {
	Reserve    echo.MiddlewareFunc // token bucket on POST /reserve
	VerifyPIN  echo.MiddlewareFunc // token bucket on POST /verify_pin
	Login      echo.MiddlewareFunc // token bucket on POST /admin/login
	Statistics echo.MiddlewareFunc // response cache on GET /admin/statistics
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func orPass(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	if mw == nil {
		return passThrough
	}
	return mw
}

// New creates the Echo instance with the request-scoped middleware every
// route shares: request ids, one log line per request and panic recovery.
func New(log logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())
	return e
}

// RegisterRoutes registers the liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterDevices registers the booking page and device agent endpoints.
// These paths are fixed by the deployed clients and carry no version prefix.
// /update_status and /verify_pin require X-Agent-Key when agentKey is set.
func RegisterDevices(e *echo.Echo, d *handler.DeviceHandler, agentKey string, limits Limits) {
	e.GET("/status", d.Status)
	e.POST("/reserve", d.Reserve, orPass(limits.Reserve))

	agent := middleware.AgentKey(agentKey)
	e.POST("/update_status", d.UpdateStatus, agent)
	e.POST("/verify_pin", d.VerifyPIN, orPass(limits.VerifyPIN), agent)
}

// RegisterAdmin registers the admin console.  Login is the only
// unauthenticated admin route; everything else runs JWTAuth and
// RequireAdmin first.  /shutdown and /reservations keep the top-level
// paths the console already calls.
func RegisterAdmin(e *echo.Echo, a *handler.AuthHandler, h *handler.AdminHandler, d *handler.DeviceHandler, jwtSecret string, limits Limits) {
	e.POST("/admin/login", a.Login, orPass(limits.Login))

	guard := []echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret), middleware.RequireAdmin()}

	e.POST("/shutdown", d.Shutdown, guard...)
	e.GET("/reservations", h.Reservations, guard...)

	admin := e.Group("/admin", guard...)
	admin.GET("/me", a.Me)
	admin.GET("/statistics", h.Statistics, orPass(limits.Statistics))
	admin.GET("/reservations/:id", h.Reservation)
	admin.GET("/devices", h.Devices)
	admin.GET("/devices/:id/occupant", h.Occupant)
	admin.POST("/devices/:id/state", h.Override)
}
