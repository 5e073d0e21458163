package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
)

type Locker interface {
	TryLock(ctx context.Context, key int64) (unlock func(), ok bool, err error)
}

type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, row *purchase.PaymentSchedule) error
}

type DueInstallmentLister interface {
	DueInstallments(ctx context.Context, within time.Duration) ([]*purchase.PaymentSchedule, error)
}

type SweepReport struct {
	Skipped      bool `json:"skipped"`
	Expired      int  `json:"expired"`
	Settled      int  `json:"settled"`
	Cancelled    int  `json:"cancelled"`
	Redispatched int  `json:"redispatched"`
	Reminders    int  `json:"reminders"`
}

// Sweeper runs the periodic maintenance pass. Only the instance holding the
// advisory lock does any work.
type Sweeper struct {
	service      *Service
	locker       Locker
	lockKey      int64
	installments DueInstallmentLister
	reminders    ReminderScheduler
	reminderLead time.Duration
	logger       *slog.Logger
}

func NewSweeper(service *Service, locker Locker, lockKey int64, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service: service,
		locker:  locker,
		lockKey: lockKey,
		logger:  logger.With("component", "payment_sweeper"),
	}
}

// WithReminders enables installment reminders for rows due within lead.
func (sw *Sweeper) WithReminders(installments DueInstallmentLister, reminders ReminderScheduler, lead time.Duration) *Sweeper {
	sw.installments = installments
	sw.reminders = reminders
	sw.reminderLead = lead
	return sw
}

func (sw *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	unlock, ok, err := sw.locker.TryLock(ctx, sw.lockKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		sw.logger.Info("sweep skipped, another instance holds the lock")
		return &SweepReport{Skipped: true}, nil
	}
	defer unlock()

	started := time.Now()
	report := &SweepReport{}

	if report.Expired, err = sw.service.ExpireStale(ctx); err != nil {
		return nil, err
	}
	if report.Settled, report.Cancelled, err = sw.service.ReconcileStuck(ctx); err != nil {
		return nil, err
	}
	if report.Redispatched, err = sw.service.RedispatchSettled(ctx); err != nil {
		return nil, err
	}

	if sw.reminders != nil && sw.installments != nil {
		rows, err := sw.installments.DueInstallments(ctx, sw.reminderLead)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := sw.reminders.ScheduleReminder(ctx, row); err != nil {
				sw.logger.Warn("installment reminder not scheduled",
					"purchase_id", row.PurchaseID,
					"installment_number", row.InstallmentNumber,
					"error", err)
				continue
			}
			report.Reminders++
		}
	}

	sw.logger.Info("sweep finished",
		"expired", report.Expired,
		"settled", report.Settled,
		"cancelled", report.Cancelled,
		"redispatched", report.Redispatched,
		"reminders", report.Reminders,
		"duration_ms", time.Since(started).Milliseconds())
	return report, nil
}
