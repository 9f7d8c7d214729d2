package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// ErrPaymentDeclined is returned (as a rejection) when the payment service
// answers with a status other than SUCCESS.
var ErrPaymentDeclined = errors.New("payment declined")

// PaymentClient talks to the payment service.
type PaymentClient struct {
	base     string
	currency string
	hc       *http.Client
	gate     *gate.Gate
}

// NewPaymentClient builds a client charging in currency.
func NewPaymentClient(base, currency string, hc *http.Client, g *gate.Gate) *PaymentClient {
	return &PaymentClient{base: base, currency: currency, hc: hc, gate: g}
}

type chargeRequest struct {
	TicketID uint64 `json:"ticket_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// IdempotencyKey is the key sent with every charge for ticketID.  One stay
// is paid once: the payment service answers repeated charges under the same
// key with the original result, whichever exit run or retry sends them.
func IdempotencyKey(ticketID uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("parking:ticket:%d", ticketID))).String()
}

// Charge captures amount for the ticket.
func (c *PaymentClient) Charge(ctx context.Context, ticketID uint64, amount int64) (model.PaymentResult, error) {
	header := http.Header{}
	header.Set("Idempotency-Key", IdempotencyKey(ticketID))
	return gate.Call(ctx, c.gate, func(ctx context.Context) (model.PaymentResult, error) {
		var out model.PaymentResult
		err := doJSON(ctx, c.hc, http.MethodPost, joinURL(c.base, "/v1/payments"), header,
			chargeRequest{TicketID: ticketID, Amount: amount, Currency: c.currency}, &out)
		if err != nil {
			return out, classify(err)
		}
		if out.Status != model.PaymentSucceeded {
			return out, gate.Reject(fmt.Errorf("%w: status %q", ErrPaymentDeclined, out.Status))
		}
		return out, nil
	})
}
