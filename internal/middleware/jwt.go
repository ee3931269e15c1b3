package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http" // HTTP status codes for responses
    "strconv"  // formats the admin id for downstream consumers
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/lab-device-reservation/internal/service"
    "github.com/iliyamo/lab-device-reservation/internal/utils"
)

// Context keys set by JWTAuth.
const (
    ctxAuth   = "auth"
    ctxUserID = "user_id"
    ctxRole   = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the admin session in the request context.  Handlers read it
// with AuthFrom; RequireRole and the rate limiter read "role" and
// "user_id".  The provided secret must match the one used when issuing
// tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            // A valid header is "Bearer " followed by the JWT.
            header := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(header, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing bearer token"})
            }
            raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

            // Signature, algorithm and expiry are all checked here.
            claims, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid token"})
            }

            c.Set(ctxAuth, service.AuthContext{
                AdminID:  claims.AdminID,
                Username: claims.Username,
                Role:     claims.Role,
            })
            c.Set(ctxUserID, strconv.FormatUint(claims.AdminID, 10))
            c.Set(ctxRole, claims.Role)
            return next(c)
        }
    }
}

// AuthFrom returns the session stored by JWTAuth, or service.Anonymous.
func AuthFrom(c echo.Context) service.AuthContext {
    if a, ok := c.Get(ctxAuth).(service.AuthContext); ok {
        return a
    }
    return service.Anonymous
}
