package attempt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
)

// Ledger is the append-only record of gateway attempts per payment.
// Settlement does not go through the Mark* methods: the payment repository
// closes the in-flight attempt inside the same transaction as the payment's
// status change.
type Ledger struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(repo RepositoryAPI, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger.With("component", "attempt_ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for references and timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) CreateAttempt(ctx context.Context, p *payment.Payment) (*attempt.Attempt, error) {
	if p.IsSettled() {
		return nil, internal.ErrInvalidStatus
	}

	txRef, err := GenerateTxRef(l.now())
	if err != nil {
		return nil, internal.NewInternalError("Failed to create payment attempt", err)
	}

	a, err := l.repo.Create(ctx, p.ID, txRef)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			l.logger.Warn("attempt creation refused",
				"payment_reference", p.Reference,
				"code", appErr.Code)
			return nil, err
		}
		l.logger.Error("failed to create attempt", "payment_reference", p.Reference, "error", err)
		return nil, internal.NewInternalError("Failed to create payment attempt", err)
	}

	l.logger.Info("payment attempt created",
		"payment_reference", p.Reference,
		"attempt_number", a.AttemptNumber,
		"tx_ref", a.TxRef)
	return a, nil
}

func (l *Ledger) MarkProcessing(ctx context.Context, a *attempt.Attempt) error {
	at := l.now()
	if err := l.repo.MarkProcessing(ctx, a.ID, at); err != nil {
		return err
	}
	a.Status = attempt.StatusProcessing
	a.ProcessingStartedAt = &at
	return nil
}

func (l *Ledger) MarkCompleted(ctx context.Context, a *attempt.Attempt, gatewayData json.RawMessage, transactionID *int64) error {
	return l.close(ctx, a, Outcome{
		Status:               attempt.StatusCompleted,
		GatewayResponse:      gatewayData,
		GatewayTransactionID: transactionID,
	})
}

func (l *Ledger) MarkFailed(ctx context.Context, a *attempt.Attempt, reason string, gatewayData json.RawMessage) error {
	return l.close(ctx, a, Outcome{
		Status:          attempt.StatusFailed,
		ErrorMessage:    reason,
		GatewayResponse: gatewayData,
	})
}

func (l *Ledger) MarkCancelled(ctx context.Context, a *attempt.Attempt, reason string) error {
	return l.close(ctx, a, Outcome{
		Status:       attempt.StatusCancelled,
		ErrorMessage: reason,
	})
}

func (l *Ledger) close(ctx context.Context, a *attempt.Attempt, outcome Outcome) error {
	outcome.At = l.now()
	if err := l.repo.Close(ctx, a.ID, outcome); err != nil {
		l.logger.Warn("attempt close refused",
			"tx_ref", a.TxRef,
			"status", outcome.Status,
			"error", err)
		return err
	}

	a.Status = outcome.Status
	a.IsFailed = outcome.IsFailed()
	a.ErrorMessage = outcome.ErrorMessage
	a.CompletedAt = &outcome.At
	if outcome.GatewayTransactionID != nil {
		a.GatewayTransactionID = outcome.GatewayTransactionID
	}

	l.logger.Info("payment attempt closed",
		"tx_ref", a.TxRef,
		"attempt_number", a.AttemptNumber,
		"status", outcome.Status)
	return nil
}

func (l *Ledger) InFlight(ctx context.Context, paymentID int64) (*attempt.Attempt, error) {
	return l.repo.GetInFlight(ctx, paymentID)
}

func (l *Ledger) History(ctx context.Context, paymentID int64) ([]*attempt.Attempt, error) {
	return l.repo.ListByPayment(ctx, paymentID)
}
