package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/parking-orchestrator/internal/config"
	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/middleware"
	"github.com/iliyamo/parking-orchestrator/internal/model"
	"github.com/iliyamo/parking-orchestrator/internal/orchestrator"
	"github.com/iliyamo/parking-orchestrator/internal/repository"
)

type stubEntrant struct {
	got    string
	ticket model.Ticket
	err    error
}

func (s *stubEntrant) EnterVehicle(_ context.Context, levelID uint64, accessible bool, plate string) (model.Ticket, error) {
	s.got = plate
	return s.ticket, s.err
}

type stubExiter struct {
	receipt model.Receipt
	err     error
}

func (s *stubExiter) ExitVehicle(_ context.Context, ticketID uint64) (model.Receipt, error) {
	return s.receipt, s.err
}

func serve(t *testing.T, method, target, body string, h echo.HandlerFunc, route string) (int, map[string]any) {
	t.Helper()
	e := echo.New()
	e.Add(method, route, h)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestEnterNormalizesPlate(t *testing.T) {
	en := &stubEntrant{ticket: model.Ticket{ID: 9, SpotID: 3, VehicleNumber: "KA01AB1234"}}
	h := NewParkingHandler(en, &stubExiter{}, zaptest.NewLogger(t))

	code, body := serve(t, http.MethodPost, "/v1/parking/entry",
		`{"level_id":1,"accessible":false,"vehicle_number":"  ka01ab1234 "}`, h.Enter, "/v1/parking/entry")

	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "KA01AB1234", en.got)
	assert.EqualValues(t, 9, body["id"])
}

func TestEnterValidation(t *testing.T) {
	h := NewParkingHandler(&stubEntrant{}, &stubExiter{}, zaptest.NewLogger(t))
	for _, payload := range []string{
		`{"level_id":0,"vehicle_number":"X1"}`,
		`{"level_id":1,"vehicle_number":"   "}`,
		fmt.Sprintf(`{"level_id":1,"vehicle_number":%q}`, strings.Repeat("A", maxPlateLen+1)),
		`not json`,
	} {
		code, _ := serve(t, http.MethodPost, "/e", payload, h.Enter, "/e")
		assert.Equal(t, http.StatusBadRequest, code, payload)
	}
}

func TestEnterErrorMapping(t *testing.T) {
	unavailable := &gate.DependencyUnavailableError{Name: config.DepVehicle, Cause: errors.New("502")}
	cases := []struct {
		name      string
		err       error
		code      int
		retryable any
	}{
		{"no spot", &orchestrator.EntryError{Step: orchestrator.StepAllocateSpot, Cause: ledger.ErrNoSpotAvailable, SpotReleased: true}, http.StatusConflict, false},
		{"rejected", &orchestrator.EntryError{Step: orchestrator.StepRegisterVehicle, Cause: gate.Reject(errors.New("bad plate")), SpotReleased: true}, http.StatusUnprocessableEntity, false},
		{"unavailable", &orchestrator.EntryError{Step: orchestrator.StepOpenTicket, Cause: unavailable, SpotReleased: true}, http.StatusServiceUnavailable, true},
		{"deadline", &orchestrator.EntryError{Step: orchestrator.StepOpenTicket, Cause: context.DeadlineExceeded, SpotReleased: true}, http.StatusServiceUnavailable, true},
		{"already parked", &orchestrator.EntryError{Step: orchestrator.StepOpenTicket, Cause: fmt.Errorf("%w: ticket 3 on spot 1", orchestrator.ErrVehicleAlreadyParked), SpotID: 2, SpotReleased: true}, http.StatusConflict, false},
		{"already parked, spot stuck", &orchestrator.EntryError{Step: orchestrator.StepOpenTicket, Cause: orchestrator.ErrVehicleAlreadyParked, SpotID: 2}, http.StatusInternalServerError, nil},
		{"spot stuck", &orchestrator.EntryError{Step: orchestrator.StepOpenTicket, Cause: unavailable, SpotID: 4}, http.StatusInternalServerError, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewParkingHandler(&stubEntrant{err: tc.err}, &stubExiter{}, zaptest.NewLogger(t))
			code, body := serve(t, http.MethodPost, "/e", `{"level_id":1,"vehicle_number":"X1"}`, h.Enter, "/e")
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.retryable, body["retryable"])
		})
	}
}

func TestExitErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		key  string
	}{
		{"not found", &orchestrator.ExitError{Cause: orchestrator.ErrTicketNotFound}, http.StatusNotFound, ""},
		{"closed", &orchestrator.ExitError{Cause: orchestrator.ErrTicketAlreadyClosed}, http.StatusConflict, ""},
		{"payment", &orchestrator.ExitError{Cause: fmt.Errorf("%w: %w", orchestrator.ErrPaymentFailed, errors.New("declined"))}, http.StatusPaymentRequired, "retryable"},
		{"post payment", &orchestrator.ExitError{Charged: true, Cause: orchestrator.ErrPostPaymentInconsistency}, http.StatusInternalServerError, "contact_support"},
		{"unavailable", &orchestrator.ExitError{Cause: &gate.DependencyUnavailableError{Name: config.DepTicketing, Cause: gate.ErrCircuitOpen}}, http.StatusServiceUnavailable, "retryable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewParkingHandler(&stubEntrant{}, &stubExiter{err: tc.err}, zaptest.NewLogger(t))
			code, body := serve(t, http.MethodPost, "/v1/parking/exit/12", "", h.Exit, "/v1/parking/exit/:ticketId")
			assert.Equal(t, tc.code, code)
			if tc.key != "" {
				assert.Equal(t, true, body[tc.key])
			}
		})
	}
}

func TestExitReturnsReceipt(t *testing.T) {
	ex := &stubExiter{receipt: model.Receipt{TicketID: 12, Amount: 700, Currency: "INR"}}
	h := NewParkingHandler(&stubEntrant{}, ex, zaptest.NewLogger(t))

	code, body := serve(t, http.MethodPost, "/v1/parking/exit/12", "", h.Exit, "/v1/parking/exit/:ticketId")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 700, body["amount"])

	code, _ = serve(t, http.MethodPost, "/v1/parking/exit/abc", "", h.Exit, "/v1/parking/exit/:ticketId")
	assert.Equal(t, http.StatusBadRequest, code)
}

func newLevelHandler(t *testing.T) (*LevelHandler, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	levels := repository.NewMemoryLevelRepo(store)
	gates := gate.NewRegistry(map[string]config.GatePolicy{config.DepPayment: {
		MaxAttempts: 1, AttemptTimeout: time.Second, FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: time.Minute,
	}}, zaptest.NewLogger(t))
	return NewLevelHandler(levels, levels, ledger.New(store, zaptest.NewLogger(t)), gates, zaptest.NewLogger(t)), store
}

func TestCreateAndBrowseLevels(t *testing.T) {
	h, _ := newLevelHandler(t)
	invalidated := 0
	h.Invalidate = func(context.Context) error { invalidated++; return nil }

	payload := `{"level_number":1,"spots":[{"spot_type":"SMALL"},{"spot_type":"LARGE","accessible":true}]}`
	code, body := serve(t, http.MethodPost, "/v1/levels", payload, h.CreateLevel, "/v1/levels")
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 1, body["id"])
	assert.Equal(t, 1, invalidated)

	code, _ = serve(t, http.MethodPost, "/v1/levels", payload, h.CreateLevel, "/v1/levels")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = serve(t, http.MethodPost, "/v1/levels", `{"level_number":2,"spots":[{"spot_type":"HUGE"}]}`, h.CreateLevel, "/v1/levels")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = serve(t, http.MethodPost, "/v1/levels", `{"spots":[]}`, h.CreateLevel, "/v1/levels")
	assert.Equal(t, http.StatusBadRequest, code)

	e := echo.New()
	e.GET("/v1/levels/:id/spots", h.AvailableSpots)
	get := func(target string) (int, []model.Spot) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		var spots []model.Spot
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spots))
		}
		return rec.Code, spots
	}
	code, spots := get("/v1/levels/1/spots")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, spots, 2)
	code, spots = get("/v1/levels/1/spots?accessible=true")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, spots, 1)
	assert.True(t, spots[0].Accessible)
	code, _ = get("/v1/levels/1/spots?accessible=maybe")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get("/v1/levels/7/spots")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOperatorRelease(t *testing.T) {
	h, store := newLevelHandler(t)
	sp := store.AddSpot(model.Spot{LevelID: 1, SpotType: model.SpotSmall, Occupied: true})
	route := "/v1/spots/:id/release"
	target := fmt.Sprintf("/v1/spots/%d/release", sp.ID)

	code, _ := serve(t, http.MethodPost, target, "", h.ReleaseSpot, route)
	require.Equal(t, http.StatusOK, code)
	got, ok := store.Spot(sp.ID)
	require.True(t, ok)
	assert.False(t, got.Occupied)

	code, _ = serve(t, http.MethodPost, target, "", h.ReleaseSpot, route)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = serve(t, http.MethodPost, "/v1/spots/99/release", "", h.ReleaseSpot, route)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOperatorReleaseIsAttributed(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := ledger.NewMemoryStore()
	sp := store.AddSpot(model.Spot{LevelID: 1, SpotType: model.SpotSmall, Occupied: true})
	levels := repository.NewMemoryLevelRepo(store)
	h := NewLevelHandler(levels, levels, ledger.New(store, zaptest.NewLogger(t)), gate.NewRegistry(nil, nil), zap.New(core))

	e := echo.New()
	e.POST("/v1/spots/:id/release", h.ReleaseSpot, middleware.JWTAuth("secret"), middleware.RequireRole(middleware.RoleOperator))
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "op-7",
		"role": middleware.RoleOperator,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/spots/%d/release", sp.ID), nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := logs.FilterMessage("spot released by operator").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "op-7", entries[0].ContextMap()["operator"])
}

func TestDependencies(t *testing.T) {
	h, _ := newLevelHandler(t)
	e := echo.New()
	e.GET("/v1/dependencies", h.Dependencies)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/dependencies", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []gate.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, config.DepPayment, snaps[0].Name)
}

type memTickets struct {
	byID    map[uint64]model.Ticket
	closers map[uint64]string
}

func (m *memTickets) Open(_ context.Context, spotID uint64, plate string) (model.Ticket, bool, error) {
	for _, tk := range m.byID {
		if tk.VehicleNumber == plate && !tk.Closed() {
			return tk, false, nil
		}
	}
	tk := model.Ticket{ID: uint64(len(m.byID) + 1), SpotID: spotID, VehicleNumber: plate, EntryTime: time.Now().UTC()}
	m.byID[tk.ID] = tk
	return tk, true, nil
}

func (m *memTickets) GetByID(_ context.Context, id uint64) (model.Ticket, error) {
	tk, ok := m.byID[id]
	if !ok {
		return model.Ticket{}, repository.ErrTicketNotFound
	}
	return tk, nil
}

func (m *memTickets) Close(_ context.Context, id uint64, token string) (model.Ticket, error) {
	tk, ok := m.byID[id]
	if !ok {
		return model.Ticket{}, repository.ErrTicketNotFound
	}
	if tk.Closed() {
		if token != "" && m.closers[id] == token {
			return tk, nil
		}
		return model.Ticket{}, repository.ErrTicketClosed
	}
	now := time.Now().UTC()
	tk.ExitTime = &now
	m.byID[id] = tk
	m.closers[id] = token
	return tk, nil
}

func TestTicketLifecycle(t *testing.T) {
	h := NewTicketHandler(&memTickets{byID: map[uint64]model.Ticket{}, closers: map[uint64]string{}}, zaptest.NewLogger(t))
	open := `{"spot_id":3,"vehicle_number":"mh12"}`

	code, body := serve(t, http.MethodPost, "/v1/tickets", open, h.Open, "/v1/tickets")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "MH12", body["vehicle_number"])

	code, _ = serve(t, http.MethodPost, "/v1/tickets", open, h.Open, "/v1/tickets")
	assert.Equal(t, http.StatusOK, code, "second open returns the existing ticket")

	code, _ = serve(t, http.MethodGet, "/v1/tickets/1", "", h.Get, "/v1/tickets/:id")
	assert.Equal(t, http.StatusOK, code)
	code, _ = serve(t, http.MethodGet, "/v1/tickets/5", "", h.Get, "/v1/tickets/:id")
	assert.Equal(t, http.StatusNotFound, code)

	closeA := `{"close_token":"run-a"}`
	code, body = serve(t, http.MethodPut, "/v1/tickets/1/exit", closeA, h.Close, "/v1/tickets/:id/exit")
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["exit_time"])
	code, _ = serve(t, http.MethodPut, "/v1/tickets/1/exit", closeA, h.Close, "/v1/tickets/:id/exit")
	assert.Equal(t, http.StatusOK, code, "the closing run may repeat its close")
	code, _ = serve(t, http.MethodPut, "/v1/tickets/1/exit", `{"close_token":"run-b"}`, h.Close, "/v1/tickets/:id/exit")
	assert.Equal(t, http.StatusConflict, code)
	code, _ = serve(t, http.MethodPut, "/v1/tickets/1/exit", "", h.Close, "/v1/tickets/:id/exit")
	assert.Equal(t, http.StatusConflict, code)
	code, _ = serve(t, http.MethodPut, "/v1/tickets/8/exit", "", h.Close, "/v1/tickets/:id/exit")
	assert.Equal(t, http.StatusNotFound, code)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealthAndReady(t *testing.T) {
	code, _ := serve(t, http.MethodGet, "/healthz", "", Health, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = serve(t, http.MethodGet, "/readyz", "", Ready(nil), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	code, _ = serve(t, http.MethodGet, "/readyz", "", Ready(pinger{}), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	code, _ = serve(t, http.MethodGet, "/readyz", "", Ready(pinger{err: errors.New("down")}), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
