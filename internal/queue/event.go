// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Both are durable; messages are published persistent.
const (
	ReconciliationQueue = "parking.reconciliation"
	VehicleExitedQueue  = "parking.vehicle_exited"
)

// ReconciliationEvent is published when the system could not reach a
// consistent state on its own, for example a captured payment whose
// ticket could not be closed.  It carries everything an operator needs to
// finish the case by hand without querying the primary database.
type ReconciliationEvent struct {
	Kind             string `json:"kind"`
	TicketID         uint64 `json:"ticket_id,omitempty"`
	SpotID           uint64 `json:"spot_id"`
	VehicleNumber    string `json:"vehicle_number"`
	Amount           int64  `json:"amount,omitempty"`
	Currency         string `json:"currency,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	FailedStep       string `json:"failed_step"`
	Reason           string `json:"reason"`
	OccurredAt       string `json:"occurred_at"`
}

// VehicleExitedEvent is published after a completed exit.
type VehicleExitedEvent struct {
	TicketID         uint64 `json:"ticket_id"`
	SpotID           uint64 `json:"spot_id"`
	VehicleNumber    string `json:"vehicle_number"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	PaymentReference string `json:"payment_reference"`
	ExitedAt         string `json:"exited_at"`
}
