package middleware

// identity.go holds the caller identification shared by the rate limiter
// and the request logger: the admin id when a session is present, the
// agent marker for requests authenticated by the agent key, otherwise
// "anon".

import "github.com/labstack/echo/v4"

const ctxAgent = "agent"

func callerID(c echo.Context) string {
    if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
        return s
    }
    if ok, _ := c.Get(ctxAgent).(bool); ok {
        return "agent"
    }
    return "anon"
}
