package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/client"
	"github.com/iliyamo/parking-orchestrator/internal/config"
	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/metrics"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

const (
	// maxReleaseDelay caps the backoff between post-payment spot releases.
	maxReleaseDelay          = 5 * time.Second
	defaultEscalationTimeout = 10 * time.Second
)

// ExitDeps are the collaborators of an ExitOrchestrator.  Notifier may be
// nil.
type ExitDeps struct {
	Ledger    Ledger
	Tickets   TicketService
	Payments  PaymentService
	Escalator Escalator
	Notifier  Notifier
}

// ExitOrchestrator checks vehicles out: fetch the ticket, price the stay,
// charge, close the ticket, release the spot.
type ExitOrchestrator struct {
	deps       ExitDeps
	fee        config.FeeConfig
	cfg        config.OrchestrationConfig
	log        *zap.Logger
	now        func() time.Time
	retryDelay time.Duration
}

func NewExitOrchestrator(deps ExitDeps, fee config.FeeConfig, cfg config.OrchestrationConfig, log *zap.Logger) *ExitOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExitOrchestrator{
		deps:       deps,
		fee:        fee,
		cfg:        cfg,
		log:        log.Named("exit"),
		now:        time.Now,
		retryDelay: defaultRetryDelay,
	}
}

// ExitVehicle completes the stay recorded by ticketID.
//
// Failures before the charge leave the ticket open and the spot occupied
// and are retryable.  After the charge the workflow ignores ctx's deadline
// and drives close and release to completion; if it cannot, the case is
// escalated and ErrPostPaymentInconsistency is returned.
func (o *ExitOrchestrator) ExitVehicle(ctx context.Context, ticketID uint64) (model.Receipt, error) {
	r := newRun(exitTransitions)
	log := o.log.With(zap.Uint64("ticket_id", ticketID))

	fail := func(step, outcome string, cause error) error {
		metrics.Exits.WithLabelValues(outcome).Inc()
		log.Info("exit failed", zap.String("step", step), zap.Error(cause))
		return &ExitError{Step: step, TicketID: ticketID, Cause: cause, Path: r.Path()}
	}

	ticket, err := o.deps.Tickets.Fetch(ctx, ticketID)
	switch {
	case errors.Is(err, client.ErrTicketNotFound):
		return model.Receipt{}, fail(StepFetchTicket, "not_found", fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID))
	case err != nil:
		return model.Receipt{}, fail(StepFetchTicket, "unavailable", err)
	case ticket.Closed():
		return model.Receipt{}, fail(StepFetchTicket, "already_closed", fmt.Errorf("%w: %d", ErrTicketAlreadyClosed, ticketID))
	}
	r.advance(StateTicketFetched)
	log = log.With(zap.Uint64("spot_id", ticket.SpotID), zap.String("vehicle_number", ticket.VehicleNumber))

	exitTime := o.now().UTC()
	amount := ComputeFee(ticket.EntryTime, exitTime, o.fee)
	r.advance(StateFeeComputed)

	payment, err := o.deps.Payments.Charge(ctx, ticket.ID, amount)
	if err != nil {
		return model.Receipt{}, fail(StepChargePayment, "payment_failed", fmt.Errorf("%w: %w", ErrPaymentFailed, err))
	}
	r.advance(StatePaymentCharged)
	log.Info("payment captured", zap.Int64("amount", amount), zap.String("payment_reference", payment.Reference))

	receipt := model.Receipt{
		TicketID:         ticket.ID,
		SpotID:           ticket.SpotID,
		VehicleNumber:    ticket.VehicleNumber,
		Amount:           amount,
		Currency:         o.fee.Currency,
		PaymentReference: payment.Reference,
		ExitTime:         exitTime,
	}

	// The money is taken: from here on the caller's deadline no longer
	// applies.
	pctx := context.WithoutCancel(ctx)

	// The token survives the close retries below, so a close that landed
	// but whose response was lost is recognised as ours.
	token := uuid.NewString()
	err = o.deps.Tickets.Close(pctx, ticket.ID, token, gate.Persistent(), gate.Attempts(o.cfg.PostPaymentAttempts))
	switch {
	case errors.Is(err, client.ErrTicketClosed):
		// A concurrent exit of the same ticket closed it first.  The charge
		// shares its idempotency key, and that run owns the spot release.
		metrics.Exits.WithLabelValues("already_closed").Inc()
		log.Warn("ticket closed by a concurrent exit", zap.String("payment_reference", payment.Reference))
		return model.Receipt{}, &ExitError{
			Step:     StepCloseTicket,
			TicketID: ticketID,
			Cause:    fmt.Errorf("%w: %d", ErrTicketAlreadyClosed, ticketID),
			Path:     r.Path(),
		}
	case err != nil:
		return model.Receipt{}, o.inconsistent(pctx, r, log, receipt, StepCloseTicket, err)
	}
	r.advance(StateTicketClosed)

	if err := o.releaseSpot(pctx, log, ticket.SpotID); err != nil {
		return model.Receipt{}, o.inconsistent(pctx, r, log, receipt, StepReleaseSpot, err)
	}
	r.advance(StateSpotReleased)

	metrics.Exits.WithLabelValues("success").Inc()
	log.Info("vehicle exited", zap.Int64("amount", amount), zap.Stringer("path", r))

	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.VehicleExited(pctx, receipt); err != nil {
			log.Warn("exit event not published", zap.Error(err))
		}
	}
	return receipt, nil
}

// releaseSpot frees the spot with the post-payment attempt budget.  A spot
// that is already free is the state we want.
func (o *ExitOrchestrator) releaseSpot(ctx context.Context, log *zap.Logger, spotID uint64) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.retryDelay
	eb.MaxInterval = maxReleaseDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	attempts := o.cfg.PostPaymentAttempts
	if attempts < 1 {
		attempts = 1
	}

	return backoff.RetryNotify(func() error {
		err := o.deps.Ledger.ReleaseSpot(ctx, spotID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ledger.ErrAlreadyFree):
			log.Warn("spot was already free at exit")
			return nil
		case errors.Is(err, ledger.ErrSpotNotFound):
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx), func(err error, wait time.Duration) {
		log.Warn("spot release failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
}

// inconsistent records a post-payment failure and escalates it.  ctx has no
// deadline after the charge, so the escalation gets its own.
func (o *ExitOrchestrator) inconsistent(ctx context.Context, r *run, log *zap.Logger, receipt model.Receipt, step string, cause error) error {
	timeout := o.cfg.CompensationTimeout
	if timeout <= 0 {
		timeout = defaultEscalationTimeout
	}
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.Exits.WithLabelValues("post_payment_inconsistency").Inc()
	metrics.PostPaymentInconsistencies.Inc()
	log.Error("payment captured but exit incomplete",
		zap.String("step", step),
		zap.String("payment_reference", receipt.PaymentReference),
		zap.Error(cause))

	if o.deps.Escalator != nil {
		rec := Reconciliation{
			Kind:             KindPostPayment,
			TicketID:         receipt.TicketID,
			SpotID:           receipt.SpotID,
			VehicleNumber:    receipt.VehicleNumber,
			Amount:           receipt.Amount,
			Currency:         receipt.Currency,
			PaymentReference: receipt.PaymentReference,
			FailedStep:       step,
			Reason:           cause.Error(),
			OccurredAt:       o.now().UTC(),
		}
		if err := o.deps.Escalator.Escalate(ectx, rec); err != nil {
			log.Error("escalation failed", zap.Error(err))
		}
	}
	return &ExitError{
		Step:     step,
		TicketID: receipt.TicketID,
		Cause:    fmt.Errorf("%w: %w", ErrPostPaymentInconsistency, cause),
		Charged:  true,
		Path:     r.Path(),
	}
}
