package orchestrator

import (
	"errors"
	"fmt"

	"github.com/iliyamo/parking-orchestrator/internal/gate"
)

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrTicketAlreadyClosed = errors.New("ticket already closed")
	// ErrVehicleAlreadyParked means the plate already holds an open ticket
	// on another spot.  The spot reserved for this entry has been released.
	ErrVehicleAlreadyParked = errors.New("vehicle already parked")
	// ErrPaymentFailed means the charge did not go through.  The ticket is
	// still open and the spot still occupied, so the exit can be retried.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrPostPaymentInconsistency means the payment was captured but the
	// ticket could not be closed or the spot released.  The case has been
	// escalated for manual reconciliation.
	ErrPostPaymentInconsistency = errors.New("payment captured but exit could not be completed")
)

// Step names used in errors and reconciliation records.
const (
	StepAllocateSpot    = "allocate_spot"
	StepRegisterVehicle = "register_vehicle"
	StepOpenTicket      = "open_ticket"
	StepFetchTicket     = "fetch_ticket"
	StepChargePayment   = "charge_payment"
	StepCloseTicket     = "close_ticket"
	StepReleaseSpot     = "release_spot"
)

// EntryError is returned by EnterVehicle for every failure.
type EntryError struct {
	Step  string
	Cause error
	// SpotID is the spot that was reserved, zero when none was.
	SpotID uint64
	// SpotReleased confirms that no spot remains reserved for this run.
	SpotReleased bool
	Path         []State
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry failed at %s: %v", e.Step, e.Cause)
}

func (e *EntryError) Unwrap() error { return e.Cause }

// Retryable reports whether the same entry can simply be attempted again.
func (e *EntryError) Retryable() bool {
	return e.SpotReleased && gate.IsUnavailable(e.Cause)
}

// ExitError is returned by ExitVehicle for every failure.
type ExitError struct {
	Step     string
	TicketID uint64
	Cause    error
	// Charged is set once the payment has been captured.
	Charged bool
	Path    []State
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit of ticket %d failed at %s: %v", e.TicketID, e.Step, e.Cause)
}

func (e *ExitError) Unwrap() error { return e.Cause }

// Retryable reports whether retrying the exit later can succeed: nothing
// was charged and the ticket is still open.
func (e *ExitError) Retryable() bool {
	if e.Charged {
		return false
	}
	return !errors.Is(e.Cause, ErrTicketNotFound) && !errors.Is(e.Cause, ErrTicketAlreadyClosed)
}

// NeedsSupport reports a post-payment inconsistency.
func (e *ExitError) NeedsSupport() bool {
	return errors.Is(e.Cause, ErrPostPaymentInconsistency)
}
