package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	attemptpkg "github.com/frahmantamala/land-payment/internal/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) attemptpkg.RepositoryAPI {
	return &AttemptRepository{
		db: db,
	}
}

func (r *AttemptRepository) Create(ctx context.Context, paymentID int64, txRef string) (*attempt.Attempt, error) {
	var created *attempt.Attempt

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&payment.Payment{}).
			Where("id = ? AND attempt_in_flight = ? AND status IN ?", paymentID, false, payment.OpenStatuses).
			Updates(map[string]interface{}{
				"attempt_count":     gorm.Expr("attempt_count + 1"),
				"attempt_in_flight": true,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return refusal(tx, paymentID)
		}

		var number int
		if err := tx.Model(&payment.Payment{}).
			Select("attempt_count").
			Where("id = ?", paymentID).
			Scan(&number).Error; err != nil {
			return err
		}

		created = &attempt.Attempt{
			PaymentID:     paymentID,
			AttemptNumber: number,
			Status:        attempt.StatusInitiated,
			TxRef:         txRef,
		}
		return tx.Create(created).Error
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// refusal explains why the in-flight slot could not be claimed.
func refusal(tx *gorm.DB, paymentID int64) error {
	var p payment.Payment
	err := tx.Select("id", "status", "attempt_in_flight").First(&p, paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return internal.ErrPaymentNotFound
	}
	if err != nil {
		return err
	}
	if p.IsSettled() {
		return internal.ErrInvalidStatus
	}
	return internal.ErrAttemptInFlight
}

func (r *AttemptRepository) GetByTxRef(ctx context.Context, txRef string) (*attempt.Attempt, error) {
	var a attempt.Attempt
	err := r.db.WithContext(ctx).Where("tx_ref = ?", txRef).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) GetInFlight(ctx context.Context, paymentID int64) (*attempt.Attempt, error) {
	var a attempt.Attempt
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND status IN ?", paymentID, attempt.InFlightStatuses).
		Order("attempt_number DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) ListByPayment(ctx context.Context, paymentID int64) ([]*attempt.Attempt, error) {
	var attempts []*attempt.Attempt
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("attempt_number ASC").
		Find(&attempts).Error
	return attempts, err
}

func (r *AttemptRepository) MarkProcessing(ctx context.Context, id int64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&attempt.Attempt{}).
		Where("id = ? AND status = ?", id, attempt.StatusInitiated).
		Updates(map[string]interface{}{
			"status":                attempt.StatusProcessing,
			"processing_started_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrStaleStatus
	}
	return nil
}

func (r *AttemptRepository) Close(ctx context.Context, id int64, outcome attemptpkg.Outcome) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		closed, err := CloseAttempt(tx, id, outcome)
		if err != nil {
			return err
		}
		if !closed {
			return internal.ErrStaleStatus
		}
		return nil
	})
}

// CloseAttempt moves an in-flight attempt to its terminal status and releases
// the owning payment's in-flight slot. It must run inside the caller's
// transaction. It reports false when the attempt was no longer in flight.
func CloseAttempt(tx *gorm.DB, id int64, outcome attemptpkg.Outcome) (bool, error) {
	var a attempt.Attempt
	if err := tx.Select("id", "payment_id").First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, internal.ErrAttemptNotFound
		}
		return false, err
	}

	updates := map[string]interface{}{
		"status":        outcome.Status,
		"is_failed":     outcome.IsFailed(),
		"error_message": outcome.ErrorMessage,
		"completed_at":  outcome.At,
	}
	if len(outcome.GatewayResponse) > 0 {
		updates["gateway_response"] = datatypes.JSON(outcome.GatewayResponse)
	}
	if outcome.GatewayTransactionID != nil {
		updates["gateway_transaction_id"] = *outcome.GatewayTransactionID
	}

	res := tx.Model(&attempt.Attempt{}).
		Where("id = ? AND status IN ?", id, attempt.InFlightStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := tx.Model(&payment.Payment{}).
		Where("id = ?", a.PaymentID).
		Update("attempt_in_flight", false).Error; err != nil {
		return false, err
	}
	return true, nil
}

// CloseInFlight closes whichever attempt of the payment is still in flight.
// A payment without one is not an error.
func CloseInFlight(tx *gorm.DB, paymentID int64, outcome attemptpkg.Outcome) error {
	var ids []int64
	if err := tx.Model(&attempt.Attempt{}).
		Where("payment_id = ? AND status IN ?", paymentID, attempt.InFlightStatuses).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := CloseAttempt(tx, id, outcome); err != nil {
			return err
		}
	}
	return tx.Model(&payment.Payment{}).
		Where("id = ?", paymentID).
		Update("attempt_in_flight", false).Error
}
