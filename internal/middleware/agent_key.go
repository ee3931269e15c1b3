package middleware

import (
    "crypto/subtle"
    "net/http"

    "github.com/labstack/echo/v4"
)

// AgentKeyHeader carries the pre-shared key of the device agents.
const AgentKeyHeader = "X-Agent-Key"

// AgentKey guards the machine-facing endpoints.  With an empty key the
// endpoints stay open, which is how the lab agents were first deployed;
// otherwise the header must match in constant time.
func AgentKey(key string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if key == "" {
                return next(c)
            }
            got := c.Request().Header.Get(AgentKeyHeader)
            if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
                return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid agent key"})
            }
            c.Set(ctxAgent, true)
            return next(c)
        }
    }
}
