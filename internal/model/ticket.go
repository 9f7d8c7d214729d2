package model

import "time"

// Ticket records one vehicle's stay.  A ticket is open while ExitTime is
// nil; once closed it is never mutated again.  At most one open ticket
// exists per vehicle number.
//
// Fields:
//
//	ID            – primary key identifier.
//	SpotID        – spot allocated to the vehicle.
//	VehicleNumber – license plate of the vehicle.
//	EntryTime     – when the ticket was opened (UTC).
//	ExitTime      – when the ticket was closed (UTC); nil while open.
type Ticket struct {
	ID            uint64     `json:"id"`
	SpotID        uint64     `json:"spot_id"`
	VehicleNumber string     `json:"vehicle_number"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
}

// Closed reports whether the ticket already has an exit timestamp.
func (t Ticket) Closed() bool { return t.ExitTime != nil }
