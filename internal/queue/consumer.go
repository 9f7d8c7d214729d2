// Package queue also contains the background consumer that listens to the
// parking.reconciliation queue and appends each case to
// logs/reconciliation.log, the operators' work list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ReconciliationLogFile is the file cases are appended to, relative to the
// consumer's log directory.
const ReconciliationLogFile = "reconciliation.log"

// dialBroker opens the broker connection.
var dialBroker = amqp.Dial

// reconnectInterval is the first wait after a failed dial; later waits grow
// exponentially up to maxReconnectInterval.
var reconnectInterval = time.Second

const maxReconnectInterval = 30 * time.Second

// StartReconciliationConsumer connects to RabbitMQ, declares the
// reconciliation queue (durable) and consumes it until ctx is done.  It
// runs a reconnect loop; processing errors are logged and the offending
// message rejected so the service keeps running.
func StartReconciliationConsumer(ctx context.Context, url, dir string, log *zap.Logger) error {
	log = log.Named("reconciliation-consumer")
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = reconnectInterval
	eb.MaxInterval = maxReconnectInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(eb, ctx)
	b.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := dialBroker(url)
		if err != nil {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return nil
			}
			log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		b.Reset()

		err = consumeLoop(ctx, conn, dir, log)
		_ = conn.Close()
		if err != nil {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return nil
			}
			log.Warn("consume loop ended, reconnecting", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, dir string, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(ReconciliationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ReconciliationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleReconciliation(dir, d.Body); err != nil {
				log.Error("handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleReconciliation appends one line describing the case in body to
// dir/reconciliation.log.
func HandleReconciliation(dir string, body []byte) error {
	var ev ReconciliationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Kind == "" {
		return errors.New("event without kind")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, ReconciliationLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Reconciliation needed | kind=%s | step=%s | ticket_id=%d | spot_id=%d | vehicle=%q | amount=%d %s | payment_ref=%q | reason=%q\n",
		ev.OccurredAt, ev.Kind, ev.FailedStep, ev.TicketID, ev.SpotID, ev.VehicleNumber, ev.Amount, ev.Currency, ev.PaymentReference, ev.Reason)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
