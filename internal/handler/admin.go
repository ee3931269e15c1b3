package handler

import (
    "context"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/lab-device-reservation/internal/middleware"
    "github.com/iliyamo/lab-device-reservation/internal/model"
    "github.com/iliyamo/lab-device-reservation/internal/service"
)

// AdminHandler serves the admin console.  All routes sit behind JWTAuth
// and RequireAdmin; the services check the AuthContext again.
type AdminHandler struct {
    Query    *service.AdminQuery
    Registry *service.DeviceRegistry
    Log      logrus.FieldLogger
}

func NewAdminHandler(query *service.AdminQuery, registry *service.DeviceRegistry, log logrus.FieldLogger) *AdminHandler {
    if log == nil {
        log = logrus.StandardLogger()
    }
    return &AdminHandler{Query: query, Registry: registry, Log: log}
}

// Reservations handles GET /reservations?order_by=&direction=&limit=.
func (h *AdminHandler) Reservations(c echo.Context) error {
    limit := 0
    if raw := c.QueryParam("limit"); raw != "" {
        n, err := strconv.Atoi(raw)
        if err != nil {
            return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid limit: must be a number", "field": "limit"})
        }
        limit = n
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    rows, err := h.Query.ListReservations(ctx, middleware.AuthFrom(c), service.ListOptions{
        OrderBy:   c.QueryParam("order_by"),
        Direction: c.QueryParam("direction"),
        Limit:     limit,
    })
    if err != nil {
        return fail(c, h.Log, err, "Could not list reservations.")
    }
    return c.JSON(http.StatusOK, rows)
}

// Reservation handles GET /admin/reservations/:id.
func (h *AdminHandler) Reservation(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid id: must be a positive number", "field": "id"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Query.GetReservation(ctx, middleware.AuthFrom(c), id)
    if err != nil {
        return fail(c, h.Log, err, "Could not read the reservation.")
    }
    return c.JSON(http.StatusOK, res)
}

// Statistics handles GET /admin/statistics?frequency=&time_range=&start=&end=.
func (h *AdminHandler) Statistics(c echo.Context) error {
    g, err := service.ParseGranularity(c.QueryParam("frequency"))
    if err != nil {
        return fail(c, h.Log, err, "")
    }
    loc := h.Query.Location()
    start, err := service.ParseBound("start", c.QueryParam("start"), loc)
    if err != nil {
        return fail(c, h.Log, err, "")
    }
    end, err := service.ParseBound("end", c.QueryParam("end"), loc)
    if err != nil {
        return fail(c, h.Log, err, "")
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    series, err := h.Query.Aggregate(ctx, middleware.AuthFrom(c),
        service.TimeRange{Preset: c.QueryParam("time_range"), Start: start, End: end}, g)
    if err != nil {
        return fail(c, h.Log, err, "Could not compute statistics.")
    }
    return c.JSON(http.StatusOK, series)
}

// Devices handles GET /admin/devices.
func (h *AdminHandler) Devices(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    devices, err := h.Query.ListDevices(ctx, middleware.AuthFrom(c))
    if err != nil {
        return fail(c, h.Log, err, "Could not list devices.")
    }
    return c.JSON(http.StatusOK, devices)
}

// Occupant handles GET /admin/devices/:id/occupant.
func (h *AdminHandler) Occupant(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    occ, err := h.Query.CurrentOccupant(ctx, middleware.AuthFrom(c), c.Param("id"))
    if err != nil {
        return fail(c, h.Log, err, "Could not read the current occupant.")
    }
    return c.JSON(http.StatusOK, occ)
}

type overrideReq struct {
    State string `json:"state"`
}

// Override handles POST /admin/devices/:id/state.  Any state may be forced
// from any state; this is how a Reserved device whose agent never reported
// back is released.
func (h *AdminHandler) Override(c echo.Context) error {
    var req overrideReq
    if err := c.Bind(&req); err != nil {
        return message(c, http.StatusBadRequest, "Invalid request body.")
    }
    state, err := model.ParseDeviceState(req.State)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid state: " + req.State, "field": "state"})
    }
    device := c.Param("id")

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    prev, err := h.Registry.Override(ctx, middleware.AuthFrom(c), device, state)
    if err != nil {
        return fail(c, h.Log, err, "Failed to set state of "+device)
    }
    resp := echo.Map{
        "message": "State of " + device + " set to " + state.String(),
        "device":  device,
        "state":   state,
    }
    if prev.Valid() {
        resp["previous"] = prev
    }
    return c.JSON(http.StatusOK, resp)
}
