package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/model"
	"github.com/iliyamo/parking-orchestrator/internal/repository"
)

// TicketStore is the persistence used by the ticketing service.
// *repository.TicketRepo implements it.
type TicketStore interface {
	Open(ctx context.Context, spotID uint64, vehicleNumber string) (model.Ticket, bool, error)
	GetByID(ctx context.Context, id uint64) (model.Ticket, error)
	Close(ctx context.Context, id uint64, token string) (model.Ticket, error)
}

// TicketHandler serves the ticketing service API.
type TicketHandler struct {
	Tickets TicketStore
	log     *zap.Logger
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(tickets TicketStore, log *zap.Logger) *TicketHandler {
	if tickets == nil {
		panic("nil store passed to NewTicketHandler")
	}
	return &TicketHandler{Tickets: tickets, log: log.Named("tickets")}
}

type openTicketRequest struct {
	SpotID        uint64 `json:"spot_id"`
	VehicleNumber string `json:"vehicle_number"`
}

// Open handles POST /v1/tickets.  It answers 201 with a new ticket, or 200
// with the vehicle's ticket that is already open.
func (h *TicketHandler) Open(c echo.Context) error {
	var body openTicketRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	plate, ok := normalizePlate(body.VehicleNumber)
	if !ok || body.SpotID == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("spot_id and vehicle_number are required"))
	}
	tk, created, err := h.Tickets.Open(c.Request().Context(), body.SpotID, plate)
	if err != nil {
		h.log.Error("open ticket failed", zap.String("vehicle_number", plate), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not open ticket"))
	}
	if !created {
		return c.JSON(http.StatusOK, tk)
	}
	h.log.Info("ticket opened", zap.Uint64("ticket_id", tk.ID), zap.Uint64("spot_id", tk.SpotID))
	return c.JSON(http.StatusCreated, tk)
}

// Get handles GET /v1/tickets/:id.
func (h *TicketHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("invalid id"))
	}
	tk, err := h.Tickets.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("ticket not found"))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("db error"))
	}
	return c.JSON(http.StatusOK, tk)
}

type closeTicketRequest struct {
	CloseToken string `json:"close_token"`
}

// Close handles PUT /v1/tickets/:id/exit.  The optional close_token names
// the exit run; the same run may repeat the call and gets 200, any other
// caller gets 409 once the ticket is closed.
func (h *TicketHandler) Close(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("invalid id"))
	}
	var body closeTicketRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if len(body.CloseToken) > 64 {
		return c.JSON(http.StatusBadRequest, errorBody("close_token too long"))
	}
	tk, err := h.Tickets.Close(c.Request().Context(), id, body.CloseToken)
	switch {
	case errors.Is(err, repository.ErrTicketNotFound):
		return c.JSON(http.StatusNotFound, errorBody("ticket not found"))
	case errors.Is(err, repository.ErrTicketClosed):
		return c.JSON(http.StatusConflict, errorBody("ticket already closed"))
	case err != nil:
		h.log.Error("close ticket failed", zap.Uint64("ticket_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not close ticket"))
	}
	h.log.Info("ticket closed", zap.Uint64("ticket_id", id))
	return c.JSON(http.StatusOK, tk)
}
