package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	attemptpkg "github.com/frahmantamala/land-payment/internal/attempt"
	attemptpostgres "github.com/frahmantamala/land-payment/internal/attempt/postgres"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/land-payment/internal/payment"
)

// takenStatuses are the statuses that occupy an installment.
var takenStatuses = []string{
	payment.StatusPending,
	payment.StatusInitiated,
	payment.StatusProcessing,
	payment.StatusCompleted,
}

var settledStatuses = []string{
	payment.StatusCompleted,
	payment.StatusFailed,
	payment.StatusCancelled,
	payment.StatusExpired,
}

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

// Create inserts the payment. The open-installment unique index turns a
// second open payment for the same installment into ErrInstallmentBusy.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if err != nil && p.InstallmentNumber != nil && isDuplicateKey(r.db, err) {
		return internal.ErrInstallmentBusy
	}
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) FindByTxRef(ctx context.Context, txRef string) (*payment.Payment, error) {
	db := r.db.WithContext(ctx)

	var a attempt.Attempt
	err := db.Select("id", "payment_id").Where("tx_ref = ?", txRef).First(&a).Error
	if err == nil {
		return r.GetByID(ctx, a.PaymentID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var p payment.Payment
	err = db.Where("tx_ref = ?", txRef).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]*payment.Payment, int64, error) {
	var (
		payments []*payment.Payment
		total    int64
	)
	query := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&payment.Payment{}).Where("buyer_id = ?", buyerID)
	}
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query().Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&payments).Error
	return payments, total, err
}

func (r *PaymentRepository) ListStale(ctx context.Context, statuses []string, createdBefore time.Time, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", statuses, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) InstallmentTaken(ctx context.Context, purchaseID int64, installmentNumber int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("purchase_id = ? AND installment_number = ? AND status IN ?", purchaseID, installmentNumber, takenStatuses).
		Count(&count).Error
	return count > 0, err
}

func (r *PaymentRepository) Advance(ctx context.Context, id int64, from, to string, metadata map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": to}
		if len(metadata) > 0 {
			merged, err := mergedMetadata(tx, id, metadata)
			if err != nil {
				return err
			}
			updates["metadata"] = merged
		}

		res := tx.Model(&payment.Payment{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return internal.ErrStaleStatus
		}
		return nil
	})
}

// Settle is the single serialization point between the verify, webhook and
// sweep paths. The status update and the attempt close commit together.
func (r *PaymentRepository) Settle(ctx context.Context, s *paymentpkg.Settlement) (bool, error) {
	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         s.Status,
			"failure_reason": s.FailureReason,
			"dispatched_at":  nil,
		}
		if s.PaidAt != nil {
			updates["paid_date"] = *s.PaidAt
		}
		if s.GatewayTransactionID != nil {
			updates["gateway_transaction_id"] = *s.GatewayTransactionID
		}
		if len(s.GatewayResponse) > 0 {
			updates["gateway_response"] = datatypes.JSON(s.GatewayResponse)
		}
		if s.PaymentMethod != "" {
			updates["payment_method"] = s.PaymentMethod
		}
		if len(s.Metadata) > 0 {
			merged, err := mergedMetadata(tx, s.PaymentID, s.Metadata)
			if err != nil {
				return err
			}
			updates["metadata"] = merged
		}

		res := tx.Model(&payment.Payment{}).
			Where("id = ? AND status IN ?", s.PaymentID, s.FromStatuses()).
			Updates(updates)
		if res.Error != nil {
			if s.Status == payment.StatusCompleted && isDuplicateKey(tx, res.Error) {
				return internal.ErrInstallmentPaid
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		won = true
		return attemptpostgres.CloseInFlight(tx, s.PaymentID, attemptpkg.Outcome{
			Status:               attemptStatusFor(s.Status),
			ErrorMessage:         s.FailureReason,
			GatewayResponse:      s.GatewayResponse,
			GatewayTransactionID: s.GatewayTransactionID,
			At:                   s.At,
		})
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (r *PaymentRepository) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ? AND dispatched_at IS NULL", id).
		UpdateColumn("dispatched_at", at)
	return res.Error
}

func (r *PaymentRepository) ListUndispatched(ctx context.Context, settledBefore time.Time, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND dispatched_at IS NULL AND updated_at < ?", settledStatuses, settledBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) MergeMetadata(ctx context.Context, id int64, values map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merged, err := mergedMetadata(tx, id, values)
		if err != nil {
			return err
		}
		return tx.Model(&payment.Payment{}).Where("id = ?", id).Update("metadata", merged).Error
	})
}

// mergedMetadata returns the value to write to the metadata column. Postgres
// merges in place with jsonb concatenation; other dialects read and merge
// inside the caller's transaction.
func mergedMetadata(tx *gorm.DB, id int64, values map[string]interface{}) (interface{}, error) {
	if tx.Dialector.Name() == "postgres" {
		patch, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		return gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(patch)), nil
	}

	var p payment.Payment
	if err := tx.Select("id", "metadata").First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrPaymentNotFound
		}
		return nil, err
	}
	merged := datatypes.JSONMap{}
	for k, v := range p.Metadata {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return merged, nil
}

func attemptStatusFor(paymentStatus string) string {
	switch paymentStatus {
	case payment.StatusCompleted:
		return attempt.StatusCompleted
	case payment.StatusFailed:
		return attempt.StatusFailed
	}
	return attempt.StatusCancelled
}

func isDuplicateKey(db *gorm.DB, err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if t, ok := db.Dialector.(gorm.ErrorTranslator); ok && errors.Is(t.Translate(err), gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
