package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lab-device-reservation/internal/config"
	"github.com/iliyamo/lab-device-reservation/internal/credential"
	"github.com/iliyamo/lab-device-reservation/internal/database"
	"github.com/iliyamo/lab-device-reservation/internal/logging"
	"github.com/iliyamo/lab-device-reservation/internal/middleware"
	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
	"github.com/iliyamo/lab-device-reservation/internal/service"
	"github.com/iliyamo/lab-device-reservation/internal/utils"
)

const testSecret = "handler-test-secret"

type app struct {
	e      *echo.Echo
	db     *sql.DB
	admins *repository.AdminRepo
}

func newApp(t *testing.T) *app {
	t.Helper()
	db, err := database.Open(context.Background(), database.Options{Driver: database.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logging.Discard()

	reservations := repository.NewReservationRepo(db)
	registry := service.NewDeviceRegistry(repository.NewDeviceRepo(db), []string{"PC1", "PC2", "PS5"}, nil, log)
	engine := service.NewReservationEngine(registry, reservations, credential.NewGenerator(4), nil, log)
	query := service.NewAdminQuery(reservations, registry, time.UTC)
	admins := repository.NewAdminRepo(db)

	d := NewDeviceHandler(engine, registry, log)
	a := NewAdminHandler(query, registry, log)
	auth := NewAuthHandler(config.Config{JWTSecret: testSecret, AccessTTLMin: 5}, admins, log)

	e := echo.New()
	e.GET("/status", d.Status)
	e.POST("/reserve", d.Reserve)
	e.POST("/update_status", d.UpdateStatus, middleware.AgentKey("agent-key"))
	e.POST("/verify_pin", d.VerifyPIN, middleware.AgentKey("agent-key"))
	e.POST("/admin/login", auth.Login)

	guard := []echo.MiddlewareFunc{middleware.JWTAuth(testSecret), middleware.RequireAdmin()}
	e.POST("/shutdown", d.Shutdown, guard...)
	e.GET("/reservations", a.Reservations, guard...)
	e.GET("/admin/me", auth.Me, guard...)
	e.GET("/admin/statistics", a.Statistics, guard...)
	e.GET("/admin/reservations/:id", a.Reservation, guard...)
	e.GET("/admin/devices", a.Devices, guard...)
	e.GET("/admin/devices/:id/occupant", a.Occupant, guard...)
	e.POST("/admin/devices/:id/state", a.Override, guard...)
	return &app{e: e, db: db, admins: admins}
}

func (a *app) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func adminHeader(t *testing.T) map[string]string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, 1, "root", model.RoleAdmin, 5)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok.Token}
}

var agentHeader = map[string]string{middleware.AgentKeyHeader: "agent-key"}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

const aliceBody = `{"name":"Alice","organization":"MIT","email":"alice@example.com","device":"PC1"}`

func TestReserveThenUnavailable(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodPost, "/reserve", aliceBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var ok reserveResp
	decode(t, rec, &ok)
	if ok.Device != "PC1" || len(ok.PIN) != 4 || ok.ReservationID == 0 {
		t.Fatalf("unexpected response %+v", ok)
	}
	if want := "Reservation successful! PIN for PC1: " + ok.PIN; ok.Message != want {
		t.Fatalf("message = %q, want %q", ok.Message, want)
	}
	if !ok.End.Equal(ok.Start.Add(time.Hour)) {
		t.Fatalf("window = %v..%v", ok.Start, ok.End)
	}

	rec = a.do(t, http.MethodPost, "/reserve",
		`{"name":"Bob","school":"MIT","email":"bob@example.com","device":"PC1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second reserve status = %d", rec.Code)
	}
	var msg map[string]string
	decode(t, rec, &msg)
	if msg["message"] != "Device PC1 is not available." {
		t.Fatalf("message = %q", msg["message"])
	}
}

func TestReserveValidation(t *testing.T) {
	a := newApp(t)
	cases := []struct {
		name, body, field string
	}{
		{"missing name", `{"organization":"MIT","email":"a@example.com","device":"PC1"}`, "name"},
		{"bad email", `{"name":"A","organization":"MIT","email":"nope","device":"PC1"}`, "email"},
		{"bad pin", `{"name":"A","organization":"MIT","email":"a@example.com","device":"PC1","pin":"12ab"}`, "pin"},
		{"no device", `{"name":"A","organization":"MIT","email":"a@example.com"}`, "device"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/reserve", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["field"] != tc.field {
				t.Fatalf("field = %q, want %q", body["field"], tc.field)
			}
		})
	}

	rec := a.do(t, http.MethodPost, "/reserve", `{"name":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestStatusAndAgentUpdates(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodGet, "/status", "", nil)
	var status map[string]string
	decode(t, rec, &status)
	if len(status) != 3 || status["PC1"] != "Available" || status["PS5"] != "Available" {
		t.Fatalf("status = %v", status)
	}

	rec = a.do(t, http.MethodPost, "/update_status", `{"device":"PC1","status":"In Use"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without key status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/update_status", `{"device":"PC1","status":"In Use"}`, agentHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body)
	}
	var msg map[string]string
	decode(t, rec, &msg)
	if msg["message"] != "Status for PC1 updated to In Use" {
		t.Fatalf("message = %q", msg["message"])
	}

	rec = a.do(t, http.MethodPost, "/update_status", `{"device":"PC1","status":"Broken"}`, agentHeader)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status code = %d", rec.Code)
	}

	decode(t, a.do(t, http.MethodGet, "/status", "", nil), &status)
	if status["PC1"] != "In Use" {
		t.Fatalf("PC1 = %q", status["PC1"])
	}
}

func TestVerifyPIN(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodPost, "/reserve",
		`{"name":"Alice","organization":"MIT","email":"alice@example.com","device":"PS5","pin":"4711"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reserve status = %d", rec.Code)
	}

	for pin, want := range map[string]bool{"4711": true, "0000": false} {
		rec = a.do(t, http.MethodPost, "/verify_pin", `{"device":"PS5","pin":"`+pin+`"}`, agentHeader)
		var got struct {
			Device string `json:"device"`
			Valid  bool   `json:"valid"`
		}
		decode(t, rec, &got)
		if got.Valid != want || got.Device != "PS5" {
			t.Fatalf("pin %s: %+v", pin, got)
		}
	}
}

func TestShutdownRequiresAdmin(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodPost, "/shutdown", `{"device":"PC2"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/shutdown", `{"device":"PC2"}`, adminHeader(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, body %s", rec.Code, rec.Body)
	}
	var msg map[string]string
	decode(t, rec, &msg)
	if msg["message"] != "Shutdown command sent to PC2" {
		t.Fatalf("message = %q", msg["message"])
	}

	var status map[string]string
	decode(t, a.do(t, http.MethodGet, "/status", "", nil), &status)
	if status["PC2"] != model.StateShutDown.String() {
		t.Fatalf("PC2 = %q", status["PC2"])
	}
}

func TestLoginAndMe(t *testing.T) {
	a := newApp(t)
	if _, err := a.admins.Create(context.Background(), "Root", "s3cret", 4); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	rec := a.do(t, http.MethodPost, "/admin/login", `{"username":"root","password":"wrong"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/admin/login", `{"username":"nobody","password":"s3cret"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/admin/login", `{"username":"root","password":"s3cret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body)
	}
	var resp authResp
	decode(t, rec, &resp)
	if resp.Access.Token == "" || resp.Admin.Username != "root" {
		t.Fatalf("login response %+v", resp)
	}

	rec = a.do(t, http.MethodGet, "/admin/me", "", map[string]string{"Authorization": "Bearer " + resp.Access.Token})
	var me map[string]any
	decode(t, rec, &me)
	if me["username"] != "root" || me["role"] != model.RoleAdmin {
		t.Fatalf("me = %v", me)
	}
}

func TestAdminReads(t *testing.T) {
	a := newApp(t)
	hdr := adminHeader(t)
	if rec := a.do(t, http.MethodPost, "/reserve", aliceBody, nil); rec.Code != http.StatusOK {
		t.Fatalf("reserve status = %d", rec.Code)
	}

	rec := a.do(t, http.MethodGet, "/reservations?order_by=start&direction=asc&limit=10", "", hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("reservations status = %d, body %s", rec.Code, rec.Body)
	}
	var rows []service.ReservationSummary
	decode(t, rec, &rows)
	if len(rows) != 1 || rows[0].Name != "Alice" || rows[0].DeviceState != model.StateReserved {
		t.Fatalf("rows = %+v", rows)
	}

	if rec := a.do(t, http.MethodGet, "/reservations?limit=ten", "", hdr); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/admin/reservations/%d", rows[0].ID), "", hdr)
	var one service.ReservationSummary
	decode(t, rec, &one)
	if rec.Code != http.StatusOK || one.ID != rows[0].ID || one.DeviceState != model.StateReserved {
		t.Fatalf("reservation by id = %d %+v", rec.Code, one)
	}
	if strings.Contains(rec.Body.String(), "pin") {
		t.Errorf("reservation body exposes the pin hash: %s", rec.Body)
	}
	if rec := a.do(t, http.MethodGet, "/admin/reservations/999", "", hdr); rec.Code != http.StatusNotFound {
		t.Fatalf("missing reservation status = %d", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/admin/reservations/abc", "", hdr); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/admin/statistics?frequency=yearly&time_range=last_7_days", "", hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics status = %d, body %s", rec.Code, rec.Body)
	}
	var series service.Series
	decode(t, rec, &series)
	total := 0
	for _, v := range series.Values {
		total += v
	}
	if len(series.Labels) != len(series.Values) || total != 1 {
		t.Fatalf("series = %+v", series)
	}

	if rec := a.do(t, http.MethodGet, "/admin/statistics?frequency=fortnightly", "", hdr); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad frequency status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/admin/devices/PC1/occupant", "", hdr)
	var occ service.ReservationSummary
	decode(t, rec, &occ)
	if occ.Email != "alice@example.com" {
		t.Fatalf("occupant = %+v", occ)
	}
	if rec := a.do(t, http.MethodGet, "/admin/devices/PC2/occupant", "", hdr); rec.Code != http.StatusNotFound {
		t.Fatalf("free device occupant status = %d", rec.Code)
	}
}

func TestOverrideReleasesDevice(t *testing.T) {
	a := newApp(t)
	hdr := adminHeader(t)
	a.do(t, http.MethodPost, "/reserve", aliceBody, nil)

	rec := a.do(t, http.MethodPost, "/admin/devices/PC1/state", `{"state":"Available"}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d, body %s", rec.Code, rec.Body)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["previous"] != "Reserved" || body["state"] != "Available" {
		t.Fatalf("override body = %v", body)
	}

	if rec := a.do(t, http.MethodPost, "/reserve", aliceBody, nil); rec.Code != http.StatusOK {
		t.Fatalf("reserve after release status = %d", rec.Code)
	}

	if rec := a.do(t, http.MethodPost, "/admin/devices/PC1/state", `{"state":"Melted"}`, hdr); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad state status = %d", rec.Code)
	}
}

func TestReserveStorageFaultIs500(t *testing.T) {
	a := newApp(t)
	// device writes fail after the ledger row is inserted
	if _, err := a.db.Exec(`CREATE TRIGGER devices_readonly BEFORE INSERT ON devices
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	rec := a.do(t, http.MethodPost, "/reserve", aliceBody, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var msg map[string]string
	decode(t, rec, &msg)
	if msg["message"] != "Reservation failed, please try again." {
		t.Fatalf("message = %q", msg["message"])
	}
	if strings.Contains(rec.Body.String(), "disk full") {
		t.Errorf("storage cause leaked to the client: %s", rec.Body)
	}

	var n int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM reservations`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}
	var status map[string]string
	decode(t, a.do(t, http.MethodGet, "/status", "", nil), &status)
	if status["PC1"] != "Available" {
		t.Errorf("PC1 = %q, want Available", status["PC1"])
	}
}

func TestVerifyPINLockout(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodPost, "/reserve",
		`{"name":"Alice","organization":"MIT","email":"alice@example.com","device":"PS5","pin":"4711"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reserve status = %d", rec.Code)
	}

	for i := 0; i < service.MaxPINFailures; i++ {
		rec = a.do(t, http.MethodPost, "/verify_pin", fmt.Sprintf(`{"device":"PS5","pin":"%04d"}`, i), agentHeader)
		if rec.Code != http.StatusOK {
			t.Fatalf("miss %d status = %d", i+1, rec.Code)
		}
	}
	rec = a.do(t, http.MethodPost, "/verify_pin", `{"device":"PS5","pin":"4711"}`, agentHeader)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status after %d misses = %d, body %s", service.MaxPINFailures, rec.Code, rec.Body)
	}
	var msg map[string]string
	decode(t, rec, &msg)
	if msg["message"] != "Too many wrong PINs for PS5." {
		t.Fatalf("message = %q", msg["message"])
	}
}

func TestFailStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"canceled", fmt.Errorf("lock PC1: %w", context.Canceled), http.StatusServiceUnavailable},
		{"unauthorized", service.ErrUnauthorized, http.StatusForbidden},
		{"not found", repository.ErrReservationNotFound, http.StatusNotFound},
		{"storage", fmt.Errorf("read device: %w: %w", service.ErrStorage, errors.New("io")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			if err := fail(c, logging.Discard(), tc.err, "fallback"); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}
