// Package service publishes parking domain events to RabbitMQ.  Errors are
// logged and returned so callers decide whether a failure matters.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/model"
	"github.com/iliyamo/parking-orchestrator/internal/orchestrator"
	q "github.com/iliyamo/parking-orchestrator/internal/queue"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Confirm(noWait bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// dialer opens a channel and returns it together with a function that
// closes the underlying connection.
type dialer func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// Publisher sends escalations and exit events.  It implements
// orchestrator.Escalator and orchestrator.Notifier.
type Publisher struct {
	url      string
	log      *zap.Logger
	dial     dialer
	attempts uint64
	delay    time.Duration
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		url:      url,
		log:      log.Named("publisher"),
		dial:     dialAMQP,
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
}

var errNacked = errors.New("broker did not confirm message")

// publish declares queue and publishes body as a persistent message,
// waiting for the broker's confirmation.
func (p *Publisher) publish(ctx context.Context, queue string, body []byte) error {
	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() {
		_ = ch.Close()
		_ = closeConn()
	}()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, pub)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if conf == nil {
		return nil
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !ok {
		return errNacked
	}
	return nil
}

// Escalate publishes a reconciliation case.  Publishing is retried a few
// times since the case is otherwise only visible in the logs.
func (p *Publisher) Escalate(ctx context.Context, rec orchestrator.Reconciliation) error {
	body, err := json.Marshal(q.ReconciliationEvent{
		Kind:             rec.Kind,
		TicketID:         rec.TicketID,
		SpotID:           rec.SpotID,
		VehicleNumber:    rec.VehicleNumber,
		Amount:           rec.Amount,
		Currency:         rec.Currency,
		PaymentReference: rec.PaymentReference,
		FailedStep:       rec.FailedStep,
		Reason:           rec.Reason,
		OccurredAt:       rec.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), p.attempts-1), ctx)
	err = backoff.RetryNotify(func() error {
		return p.publish(ctx, q.ReconciliationQueue, body)
	}, b, func(err error, wait time.Duration) {
		p.log.Warn("escalation publish failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		p.log.Error("escalation not published",
			zap.String("kind", rec.Kind),
			zap.Uint64("ticket_id", rec.TicketID),
			zap.Error(err))
		return err
	}
	p.log.Info("escalation published", zap.String("kind", rec.Kind), zap.Uint64("ticket_id", rec.TicketID))
	return nil
}

// VehicleExited publishes a completed exit once, without retries.
func (p *Publisher) VehicleExited(ctx context.Context, r model.Receipt) error {
	body, err := json.Marshal(q.VehicleExitedEvent{
		TicketID:         r.TicketID,
		SpotID:           r.SpotID,
		VehicleNumber:    r.VehicleNumber,
		Amount:           r.Amount,
		Currency:         r.Currency,
		PaymentReference: r.PaymentReference,
		ExitedAt:         r.ExitTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.publish(ctx, q.VehicleExitedQueue, body); err != nil {
		p.log.Warn("exit event publish failed", zap.Uint64("ticket_id", r.TicketID), zap.Error(err))
		return err
	}
	return nil
}
