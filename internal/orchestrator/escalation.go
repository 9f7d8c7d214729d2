package orchestrator

import (
	"context"
	"time"

	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// Reconciliation kinds.
const (
	KindPostPayment       = "post_payment"
	KindEntryCompensation = "entry_compensation"
)

// Reconciliation describes a case that needs an operator: the system could
// not reach a consistent state on its own.
type Reconciliation struct {
	Kind             string    `json:"kind"`
	TicketID         uint64    `json:"ticket_id,omitempty"`
	SpotID           uint64    `json:"spot_id"`
	VehicleNumber    string    `json:"vehicle_number"`
	Amount           int64     `json:"amount,omitempty"`
	Currency         string    `json:"currency,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	FailedStep       string    `json:"failed_step"`
	Reason           string    `json:"reason"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Escalator hands a reconciliation case to operators.
type Escalator interface {
	Escalate(ctx context.Context, rec Reconciliation) error
}

// Notifier is told about completed exits.  Delivery is best effort.
type Notifier interface {
	VehicleExited(ctx context.Context, receipt model.Receipt) error
}
