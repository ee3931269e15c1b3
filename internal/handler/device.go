package handler

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/lab-device-reservation/internal/middleware"
    "github.com/iliyamo/lab-device-reservation/internal/model"
    "github.com/iliyamo/lab-device-reservation/internal/service"
)

const requestTimeout = 5 * time.Second

// DeviceHandler serves the endpoints used by the booking page, the
// device agents and the shutdown button of the admin console.
type DeviceHandler struct {
    Engine   *service.ReservationEngine
    Registry *service.DeviceRegistry
    Log      logrus.FieldLogger
}

func NewDeviceHandler(engine *service.ReservationEngine, registry *service.DeviceRegistry, log logrus.FieldLogger) *DeviceHandler {
    if log == nil {
        log = logrus.StandardLogger()
    }
    return &DeviceHandler{Engine: engine, Registry: registry, Log: log}
}

// ----- DTOs -----

type reserveReq struct {
    Name         string `json:"name"`
    Organization string `json:"organization"`
    School       string `json:"school"` // older booking page
    Email        string `json:"email"`
    Device       string `json:"device"`
    PIN          string `json:"pin"`
    RecordNumber string `json:"record_number"`
}

type reserveResp struct {
    Message       string    `json:"message"`
    PIN           string    `json:"pin"`
    Device        string    `json:"device"`
    ReservationID uint64    `json:"reservation_id"`
    Start         time.Time `json:"start"`
    End           time.Time `json:"end"`
}

type updateStatusReq struct {
    Device string `json:"device"`
    Status string `json:"status"`
}

type verifyPINReq struct {
    Device string `json:"device"`
    PIN    string `json:"pin"`
}

type shutdownReq struct {
    Device string `json:"device"`
}

// Reserve handles POST /reserve.  The plaintext PIN appears in this
// response and nowhere else.
func (h *DeviceHandler) Reserve(c echo.Context) error {
    var req reserveReq
    if err := c.Bind(&req); err != nil {
        return message(c, http.StatusBadRequest, "Invalid request body.")
    }
    org := req.Organization
    if org == "" {
        org = req.School
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Engine.Reserve(ctx, service.ReserveRequest{
        Name:         req.Name,
        Organization: org,
        Email:        req.Email,
        Device:       req.Device,
        PIN:          req.PIN,
        RecordNumber: req.RecordNumber,
    })
    if err != nil {
        return fail(c, h.Log, err, "Reservation failed, please try again.")
    }
    r := res.Reservation
    return c.JSON(http.StatusOK, reserveResp{
        Message:       "Reservation successful! PIN for " + r.Device + ": " + res.PIN,
        PIN:           res.PIN,
        Device:        r.Device,
        ReservationID: r.ID,
        Start:         r.Start(),
        End:           r.End(),
    })
}

// Status handles GET /status: every catalog device mapped to its label.
func (h *DeviceHandler) Status(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    status, err := h.Registry.Status(ctx)
    if err != nil {
        return fail(c, h.Log, err, "Could not read device status.")
    }
    return c.JSON(http.StatusOK, status)
}

// UpdateStatus handles POST /update_status from the device agents.
func (h *DeviceHandler) UpdateStatus(c echo.Context) error {
    var req updateStatusReq
    if err := c.Bind(&req); err != nil {
        return message(c, http.StatusBadRequest, "Invalid request body.")
    }
    state, err := model.ParseDeviceState(req.Status)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid status: " + req.Status, "field": "status"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if _, err := h.Registry.UpdateStatus(ctx, req.Device, state); err != nil {
        return fail(c, h.Log, err, "Failed to update status for "+req.Device)
    }
    return message(c, http.StatusOK, "Status for %s updated to %s", req.Device, state)
}

// VerifyPIN handles POST /verify_pin: agents unlock a Reserved device
// when the occupant types the PIN they were given.
func (h *DeviceHandler) VerifyPIN(c echo.Context) error {
    var req verifyPINReq
    if err := c.Bind(&req); err != nil {
        return message(c, http.StatusBadRequest, "Invalid request body.")
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    ok, err := h.Engine.VerifyPIN(ctx, req.Device, req.PIN)
    if errors.Is(err, service.ErrPINLocked) {
        return message(c, http.StatusTooManyRequests, "Too many wrong PINs for %s.", req.Device)
    }
    if err != nil {
        return fail(c, h.Log, err, "PIN check failed.")
    }
    return c.JSON(http.StatusOK, echo.Map{"device": req.Device, "valid": ok})
}

// Shutdown handles POST /shutdown (admin).  No hardware is contacted; the
// agents act on the retained state message.
func (h *DeviceHandler) Shutdown(c echo.Context) error {
    var req shutdownReq
    if err := c.Bind(&req); err != nil {
        return message(c, http.StatusBadRequest, "Invalid request body.")
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if err := h.Registry.Shutdown(ctx, middleware.AuthFrom(c), req.Device); err != nil {
        return fail(c, h.Log, err, "Failed to send shutdown command to "+req.Device)
    }
    return message(c, http.StatusOK, "Shutdown command sent to %s", req.Device)
}
