package middleware

import (
    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "github.com/sirupsen/logrus"
)

// RequestID sets X-Request-ID on the response, reusing the client's value
// when it sent one.
func RequestID() echo.MiddlewareFunc {
    return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
        Generator: uuid.NewString,
    })
}

// RequestLogger writes one structured line per request.  Server errors log
// at error level, client errors at warn.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
    return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
        LogStatus:    true,
        LogURI:       true,
        LogMethod:    true,
        LogLatency:   true,
        LogRemoteIP:  true,
        LogRequestID: true,
        LogError:     true,
        HandleError:  true,
        LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
            entry := log.WithFields(logrus.Fields{
                "request_id": v.RequestID,
                "method":     v.Method,
                "uri":        v.URI,
                "status":     v.Status,
                "latency_ms": v.Latency.Milliseconds(),
                "remote_ip":  v.RemoteIP,
                "caller":     callerID(c),
            })
            switch {
            case v.Error != nil || v.Status >= 500:
                entry.WithError(v.Error).Error("request")
            case v.Status >= 400:
                entry.Warn("request")
            default:
                entry.Info("request")
            }
            return nil
        },
    })
}
