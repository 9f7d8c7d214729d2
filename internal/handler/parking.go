package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/model"
	"github.com/iliyamo/parking-orchestrator/internal/orchestrator"
)

// Entrant admits vehicles.  *orchestrator.EntryOrchestrator implements it.
type Entrant interface {
	EnterVehicle(ctx context.Context, levelID uint64, accessible bool, plate string) (model.Ticket, error)
}

// Exiter checks vehicles out.  *orchestrator.ExitOrchestrator implements it.
type Exiter interface {
	ExitVehicle(ctx context.Context, ticketID uint64) (model.Receipt, error)
}

// ParkingHandler serves the gate terminals: entry and exit.
type ParkingHandler struct {
	Entry  Entrant
	Exiter Exiter
	log    *zap.Logger
}

// NewParkingHandler constructs a ParkingHandler and panics if a workflow is nil.
func NewParkingHandler(entry Entrant, exit Exiter, log *zap.Logger) *ParkingHandler {
	if entry == nil || exit == nil {
		panic("nil workflow passed to NewParkingHandler")
	}
	return &ParkingHandler{Entry: entry, Exiter: exit, log: log.Named("parking")}
}

type entryRequest struct {
	LevelID       uint64 `json:"level_id"`
	Accessible    bool   `json:"accessible"`
	VehicleNumber string `json:"vehicle_number"`
}

// Enter handles POST /v1/parking/entry.
func (h *ParkingHandler) Enter(c echo.Context) error {
	var body entryRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	plate, ok := normalizePlate(body.VehicleNumber)
	if !ok || body.LevelID == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("level_id and vehicle_number are required"))
	}

	ticket, err := h.Entry.EnterVehicle(c.Request().Context(), body.LevelID, body.Accessible, plate)
	if err != nil {
		return h.entryError(c, err)
	}
	return c.JSON(http.StatusCreated, ticket)
}

func (h *ParkingHandler) entryError(c echo.Context, err error) error {
	var ee *orchestrator.EntryError
	released := true
	if errors.As(err, &ee) {
		released = ee.SpotReleased
	}
	switch {
	case errors.Is(err, ledger.ErrNoSpotAvailable):
		return c.JSON(http.StatusConflict, errorBody("no spot available", "retryable", false))
	case !released:
		// the spot could not be released; the case has been escalated
		return c.JSON(http.StatusInternalServerError, errorBody("entry failed and the reserved spot could not be released", "contact_support", true))
	case errors.Is(err, orchestrator.ErrVehicleAlreadyParked):
		return c.JSON(http.StatusConflict, errorBody("vehicle already parked", "retryable", false))
	case gate.IsRejected(err):
		return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error(), "retryable", false))
	case gate.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, errorBody("dependency unavailable, please retry", "retryable", true))
	}
	h.log.Error("entry failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody("entry failed", "retryable", true))
}

// Exit handles POST /v1/parking/exit/:ticketId.
func (h *ParkingHandler) Exit(c echo.Context) error {
	ticketID, ok := parseID(c, "ticketId")
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("invalid ticket id"))
	}
	receipt, err := h.Exiter.ExitVehicle(c.Request().Context(), ticketID)
	if err != nil {
		return h.exitError(c, ticketID, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

func (h *ParkingHandler) exitError(c echo.Context, ticketID uint64, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrTicketNotFound):
		return c.JSON(http.StatusNotFound, errorBody("ticket not found"))
	case errors.Is(err, orchestrator.ErrTicketAlreadyClosed):
		return c.JSON(http.StatusConflict, errorBody("ticket already closed"))
	case errors.Is(err, orchestrator.ErrPostPaymentInconsistency):
		return c.JSON(http.StatusInternalServerError, errorBody(
			"payment was taken but the exit could not be completed; please contact support",
			"contact_support", true,
			"ticket_id", ticketID))
	case errors.Is(err, orchestrator.ErrPaymentFailed):
		return c.JSON(http.StatusPaymentRequired, errorBody("payment failed", "retryable", true))
	case gate.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, errorBody("dependency unavailable, please retry", "retryable", true))
	}
	h.log.Error("exit failed", zap.Uint64("ticket_id", ticketID), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody("exit failed"))
}
