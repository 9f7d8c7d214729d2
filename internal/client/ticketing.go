package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

var (
	// ErrTicketNotFound is returned (as a rejection) when the ticketing
	// service does not know the ticket id.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketClosed is returned (as a rejection) when the ticket was
	// closed by a different exit run.
	ErrTicketClosed = errors.New("ticket already closed")
)

// TicketClient talks to the ticketing service.
type TicketClient struct {
	base string
	hc   *http.Client
	gate *gate.Gate
}

// NewTicketClient builds a client.
func NewTicketClient(base string, hc *http.Client, g *gate.Gate) *TicketClient {
	return &TicketClient{base: base, hc: hc, gate: g}
}

type openTicketRequest struct {
	SpotID        uint64 `json:"spot_id"`
	VehicleNumber string `json:"vehicle_number"`
}

// Open creates a ticket for the vehicle on spotID.  The ticketing service
// answers with the already open ticket when the vehicle has one, so a
// retried Open never creates a duplicate.
func (c *TicketClient) Open(ctx context.Context, spotID uint64, plate string) (model.Ticket, error) {
	return gate.Call(ctx, c.gate, func(ctx context.Context) (model.Ticket, error) {
		var out model.Ticket
		err := doJSON(ctx, c.hc, http.MethodPost, joinURL(c.base, "/v1/tickets"), nil,
			openTicketRequest{SpotID: spotID, VehicleNumber: plate}, &out)
		return out, classify(err)
	})
}

// Fetch loads a ticket.
func (c *TicketClient) Fetch(ctx context.Context, ticketID uint64) (model.Ticket, error) {
	return gate.Call(ctx, c.gate, func(ctx context.Context) (model.Ticket, error) {
		var out model.Ticket
		err := doJSON(ctx, c.hc, http.MethodGet, joinURL(c.base, fmt.Sprintf("/v1/tickets/%d", ticketID)), nil, nil, &out)
		if statusCode(err) == http.StatusNotFound {
			return out, gate.Reject(fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID))
		}
		return out, classify(err)
	})
}

type closeTicketRequest struct {
	CloseToken string `json:"close_token"`
}

// Close sets the ticket's exit time on behalf of the exit run identified
// by token.  The ticketing service accepts repeats from the same run, so
// retried attempts stay idempotent; a ticket closed by any other run fails
// with ErrTicketClosed.
func (c *TicketClient) Close(ctx context.Context, ticketID uint64, token string, opts ...gate.CallOption) error {
	_, err := gate.Call(ctx, c.gate, func(ctx context.Context) (struct{}, error) {
		err := doJSON(ctx, c.hc, http.MethodPut, joinURL(c.base, fmt.Sprintf("/v1/tickets/%d/exit", ticketID)), nil,
			closeTicketRequest{CloseToken: token}, nil)
		switch statusCode(err) {
		case http.StatusConflict:
			return struct{}{}, gate.Reject(fmt.Errorf("%w: %d", ErrTicketClosed, ticketID))
		case http.StatusNotFound:
			return struct{}{}, gate.Reject(fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID))
		}
		return struct{}{}, classify(err)
	}, opts...)
	return err
}
