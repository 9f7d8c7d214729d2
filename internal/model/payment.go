package model

import "time"

// PaymentSucceeded is the only payment status treated as a captured charge.
const PaymentSucceeded = "SUCCESS"

// PaymentResult is what the payment service answers to a charge request.
type PaymentResult struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// Receipt summarises a completed exit.
type Receipt struct {
	TicketID         uint64    `json:"ticket_id"`
	SpotID           uint64    `json:"spot_id"`
	VehicleNumber    string    `json:"vehicle_number"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	PaymentReference string    `json:"payment_reference"`
	ExitTime         time.Time `json:"exit_time"`
}
