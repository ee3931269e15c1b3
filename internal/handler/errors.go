package handler

import (
    "context"
    "errors"
    "fmt"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/lab-device-reservation/internal/repository"
    "github.com/iliyamo/lab-device-reservation/internal/service"
)

// message writes the {"message": ...} body the device agents expect.
func message(c echo.Context, status int, format string, args ...any) error {
    return c.JSON(status, echo.Map{"message": fmt.Sprintf(format, args...)})
}

// fail maps a service error to a status code.  Storage faults are logged
// with the request id and reported with fallback instead of the cause.
func fail(c echo.Context, log logrus.FieldLogger, err error, fallback string) error {
    var ve *service.ValidationError
    var ue *service.UnavailableError
    switch {
    case errors.As(err, &ve):
        return c.JSON(http.StatusBadRequest, echo.Map{
            "message": fmt.Sprintf("Invalid %s: %s", ve.Field, ve.Reason),
            "field":   ve.Field,
        })
    case errors.As(err, &ue):
        return message(c, http.StatusBadRequest, "Device %s is not available.", ue.Device)
    case errors.Is(err, service.ErrUnauthorized):
        return message(c, http.StatusForbidden, "forbidden")
    case errors.Is(err, repository.ErrReservationNotFound), errors.Is(err, repository.ErrDeviceNotFound):
        return message(c, http.StatusNotFound, "not found")
    case errors.Is(err, context.DeadlineExceeded):
        return message(c, http.StatusServiceUnavailable, "Device is busy, please try again.")
    case errors.Is(err, context.Canceled):
        // client went away while waiting for the device lock
        log.WithField("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).Info("request canceled")
        return message(c, http.StatusServiceUnavailable, "Request canceled.")
    }
    log.WithError(err).WithField("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).Error(fallback)
    return message(c, http.StatusInternalServerError, "%s", fallback)
}
