package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
	"github.com/frahmantamala/land-payment/internal/core/events"
)

const (
	DefaultQueue      = "settlements"
	defaultMaxRetry   = 3
	defaultRetryDelay = 30 * time.Second
	defaultRetention  = 24 * time.Hour
	reminderRetention = 96 * time.Hour
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Options struct {
	Queue      string
	MaxRetry   int
	RetryDelay time.Duration
	Retention  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = defaultMaxRetry
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Retention <= 0 {
		o.Retention = defaultRetention
	}
	return o
}

// Dispatcher turns settlement events into independent queued jobs.
type Dispatcher struct {
	queue  Enqueuer
	opts   Options
	logger *slog.Logger
}

func NewDispatcher(queue Enqueuer, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "settlement_dispatcher"),
	}
}

func (d *Dispatcher) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventTypePaymentSettled, d.OnSettled)
}

// jobsFor lists the jobs a settlement status fans out to.
func jobsFor(status string) []string {
	switch status {
	case payment.StatusCompleted:
		return []string{TypeReceipt, TypeConfirmation, TypeRollup, TypeSalesNotification}
	case payment.StatusFailed:
		return []string{TypeFailureNotification}
	}
	return nil
}

// OnSettled enqueues every job for the settlement. One job failing to
// enqueue does not stop the others.
func (d *Dispatcher) OnSettled(ctx context.Context, e events.Event) error {
	evt, ok := e.(*events.PaymentSettledEvent)
	if !ok {
		return fmt.Errorf("dispatch: unexpected event %T", e)
	}

	jobs := jobsFor(evt.Status)
	if len(jobs) == 0 {
		d.logger.Debug("no jobs for settlement", "payment_reference", evt.PaymentReference, "status", evt.Status)
		return nil
	}

	payload := SettlementPayload{
		PaymentID:        evt.PaymentID,
		PaymentReference: evt.PaymentReference,
		PurchaseID:       evt.PurchaseID,
		Status:           evt.Status,
	}

	var errs []error
	for _, job := range jobs {
		task, err := NewSettlementTask(job, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.enqueue(ctx, task, settlementTaskID(job, evt.PaymentReference), d.opts.Retention); err != nil {
			d.logger.Error("failed to enqueue settlement job",
				"task_type", job,
				"payment_reference", evt.PaymentReference,
				"error", err)
			errs = append(errs, fmt.Errorf("enqueue %s: %w", job, err))
		}
	}
	return errors.Join(errs...)
}

// ScheduleReminder queues one reminder per installment and due date.
func (d *Dispatcher) ScheduleReminder(ctx context.Context, row *purchase.PaymentSchedule) error {
	payload := ReminderPayload{
		PurchaseID:        row.PurchaseID,
		InstallmentNumber: row.InstallmentNumber,
		DueDate:           row.DueDate,
	}
	task, err := NewReminderTask(payload)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task, reminderTaskID(payload), reminderRetention)
}

func (d *Dispatcher) enqueue(ctx context.Context, task *asynq.Task, id string, retention time.Duration) error {
	info, err := d.queue.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.Queue(d.opts.Queue),
		asynq.MaxRetry(d.opts.MaxRetry),
		asynq.Retention(retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		d.logger.Debug("job already queued", "task_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	d.logger.Info("job queued", "task_type", task.Type(), "task_id", info.ID, "queue", info.Queue)
	return nil
}
