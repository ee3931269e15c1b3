package handler

import (
	"context"  // provides context with cancellation for DB calls
	"database/sql"
	"errors"
	"net/http" // HTTP status codes and primitives
	"strings"  // string manipulation utilities
	"time"     // timeouts for DB calls

	"github.com/labstack/echo/v4"  // Echo framework for HTTP routing
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/config"     // app configuration
	"github.com/iliyamo/lab-device-reservation/internal/middleware"
	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/repository" // DB repositories
	"github.com/iliyamo/lab-device-reservation/internal/utils"      // password checks and token issuing
)

// AuthHandler bundles dependencies for the admin login endpoints.  There
// is no HTTP registration: admins are created with cmd/createadmin.
type AuthHandler struct {
	Cfg    config.Config
	Admins *repository.AdminRepo
	Log    logrus.FieldLogger
}

func NewAuthHandler(cfg config.Config, admins *repository.AdminRepo, log logrus.FieldLogger) *AuthHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthHandler{Cfg: cfg, Admins: admins, Log: log}
}

// ----- DTOs -----

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type adminPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}
type authResp struct {
	Access tokenPart `json:"access"`
	Admin  adminPart `json:"admin"`
}

// Login: verify credentials and issue an access token.  Unknown user and
// wrong password get the same answer.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body.")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return message(c, http.StatusBadRequest, "username/password required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.Admins.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message(c, http.StatusUnauthorized, "invalid credentials")
		}
		h.Log.WithError(err).Error("admin lookup failed")
		return message(c, http.StatusInternalServerError, "login failed")
	}
	if !utils.VerifyPassword(a.PasswordHash, req.Password) {
		h.Log.WithField("username", a.Username).Warn("admin login rejected")
		return message(c, http.StatusUnauthorized, "invalid credentials")
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, a.ID, a.Username, model.RoleAdmin, h.Cfg.AccessTTLMin)
	if err != nil {
		h.Log.WithError(err).Error("issue access token failed")
		return message(c, http.StatusInternalServerError, "issue access failed")
	}
	h.Log.WithField("username", a.Username).Info("admin logged in")
	return c.JSON(http.StatusOK, authResp{
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
		Admin:  adminPart{ID: a.ID, Username: a.Username},
	})
}

// Me echoes the session carried by the bearer token.
func (h *AuthHandler) Me(c echo.Context) error {
	a := middleware.AuthFrom(c)
	return c.JSON(http.StatusOK, echo.Map{"id": a.AdminID, "username": a.Username, "role": a.Role})
}
