package handler // declare the package name; contains HTTP handlers

import (
    "context"      // bounds the readiness ping
    "database/sql" // readiness checks the connection pool
    "net/http"     // net/http provides status codes and response helpers
    "time"

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Health is a simple liveness endpoint used by load balancers and the
// device agents to verify that the service is running.  It returns a
// plain text "ok" with 200.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Ready reports 503 while the database cannot be reached.
func Ready(db *sql.DB) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()
        if err := db.PingContext(ctx); err != nil {
            return c.String(http.StatusServiceUnavailable, "database unavailable")
        }
        return c.String(http.StatusOK, "ready")
    }
}
