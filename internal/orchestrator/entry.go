// Package orchestrator sequences the cross-service entry and exit
// workflows.  Entry runs roll back a reserved spot when a later step
// fails; exit runs only move forward once the payment is captured.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/config"
	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/metrics"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// Ledger is the subset of the spot ledger the workflows use.
type Ledger interface {
	AllocateSpot(ctx context.Context, levelID uint64, accessible bool) (model.Spot, error)
	ReleaseSpot(ctx context.Context, spotID uint64) error
}

// VehicleRegistrar resolves a plate to a vehicle record.
type VehicleRegistrar interface {
	RegisterOrFetch(ctx context.Context, plate string, accessible bool) (model.Vehicle, error)
}

// TicketService opens, loads and closes tickets.
type TicketService interface {
	Open(ctx context.Context, spotID uint64, plate string) (model.Ticket, error)
	Fetch(ctx context.Context, ticketID uint64) (model.Ticket, error)
	// Close ends the stay.  token identifies the exit run: repeating a
	// close with the same token succeeds, a ticket closed under any other
	// token is rejected with client.ErrTicketClosed.
	Close(ctx context.Context, ticketID uint64, token string, opts ...gate.CallOption) error
}

// PaymentService charges for a stay.
type PaymentService interface {
	Charge(ctx context.Context, ticketID uint64, amount int64) (model.PaymentResult, error)
}

const defaultRetryDelay = 100 * time.Millisecond

// EntryDeps are the collaborators of an EntryOrchestrator.
type EntryDeps struct {
	Ledger    Ledger
	Vehicles  VehicleRegistrar
	Tickets   TicketService
	Escalator Escalator
}

// EntryOrchestrator admits vehicles: reserve a spot, register the vehicle,
// open a ticket.
type EntryOrchestrator struct {
	deps       EntryDeps
	cfg        config.OrchestrationConfig
	log        *zap.Logger
	retryDelay time.Duration
}

// NewEntryOrchestrator builds an entry workflow.
func NewEntryOrchestrator(deps EntryDeps, cfg config.OrchestrationConfig, log *zap.Logger) *EntryOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &EntryOrchestrator{
		deps:       deps,
		cfg:        cfg,
		log:        log.Named("entry"),
		retryDelay: defaultRetryDelay,
	}
}

// EnterVehicle reserves a spot on levelID and opens a ticket for plate.
// On any failure after the reservation the spot is released before the
// error is returned, even when ctx has already expired.
func (o *EntryOrchestrator) EnterVehicle(ctx context.Context, levelID uint64, accessible bool, plate string) (model.Ticket, error) {
	r := newRun(entryTransitions)
	log := o.log.With(zap.Uint64("level_id", levelID), zap.String("vehicle_number", plate))

	if err := ctx.Err(); err != nil {
		metrics.Entries.WithLabelValues("cancelled").Inc()
		return model.Ticket{}, &EntryError{Step: StepAllocateSpot, Cause: err, SpotReleased: true, Path: r.Path()}
	}

	spot, err := o.deps.Ledger.AllocateSpot(ctx, levelID, accessible)
	if err != nil {
		outcome := "allocation_failed"
		if errors.Is(err, ledger.ErrNoSpotAvailable) {
			outcome = "no_spot"
		}
		metrics.Entries.WithLabelValues(outcome).Inc()
		log.Info("allocation failed", zap.Error(err))
		return model.Ticket{}, &EntryError{Step: StepAllocateSpot, Cause: err, SpotReleased: true, Path: r.Path()}
	}
	r.advance(StateSpotReserved)
	log = log.With(zap.Uint64("spot_id", spot.ID))
	log.Debug("spot reserved")

	if _, err := o.deps.Vehicles.RegisterOrFetch(ctx, plate, accessible); err != nil {
		return model.Ticket{}, o.compensate(ctx, r, log, spot, plate, StepRegisterVehicle, err)
	}
	r.advance(StateVehicleRegistered)

	ticket, err := o.deps.Tickets.Open(ctx, spot.ID, plate)
	if err != nil {
		return model.Ticket{}, o.compensate(ctx, r, log, spot, plate, StepOpenTicket, err)
	}
	if ticket.SpotID != spot.ID {
		// The ticketing service handed back the plate's existing open
		// ticket, which holds a different spot.
		cause := fmt.Errorf("%w: ticket %d on spot %d", ErrVehicleAlreadyParked, ticket.ID, ticket.SpotID)
		return model.Ticket{}, o.compensate(ctx, r, log, spot, plate, StepOpenTicket, cause)
	}
	r.advance(StateTicketOpen)

	metrics.Entries.WithLabelValues("success").Inc()
	log.Info("vehicle entered", zap.Uint64("ticket_id", ticket.ID), zap.Stringer("path", r))
	return ticket, nil
}

// compensate releases the reserved spot.  It runs detached from the
// caller's cancellation, bounded by CompensationTimeout, and retries
// transient ledger failures.
func (o *EntryOrchestrator) compensate(ctx context.Context, r *run, log *zap.Logger, spot model.Spot, plate, step string, cause error) error {
	r.advance(StateAborted)
	log.Warn("entry step failed, releasing spot", zap.String("step", step), zap.Error(cause))

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CompensationTimeout)
	defer cancel()

	attempts := o.cfg.CompensationAttempts
	if attempts < 2 {
		attempts = 2
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(o.retryDelay), uint64(attempts-1)), cctx)
	releaseErr := backoff.RetryNotify(func() error {
		err := o.deps.Ledger.ReleaseSpot(cctx, spot.ID)
		switch {
		case err == nil, errors.Is(err, ledger.ErrAlreadyFree):
			return nil
		case errors.Is(err, ledger.ErrSpotNotFound):
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.Warn("spot release failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})

	entryErr := &EntryError{Step: step, Cause: cause, SpotID: spot.ID, SpotReleased: releaseErr == nil, Path: r.Path()}
	if releaseErr == nil {
		metrics.Entries.WithLabelValues("compensated").Inc()
		return entryErr
	}

	metrics.Entries.WithLabelValues("compensation_failed").Inc()
	entryErr.Cause = multierr.Append(cause, fmt.Errorf("release spot %d: %w", spot.ID, releaseErr))
	log.Error("spot left reserved after failed entry", zap.Error(entryErr.Cause))
	if o.deps.Escalator != nil {
		rec := Reconciliation{
			Kind:          KindEntryCompensation,
			SpotID:        spot.ID,
			VehicleNumber: plate,
			FailedStep:    step,
			Reason:        entryErr.Cause.Error(),
			OccurredAt:    time.Now().UTC(),
		}
		if err := o.deps.Escalator.Escalate(cctx, rec); err != nil {
			log.Error("escalation failed", zap.Error(err))
		}
	}
	return entryErr
}
