package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) purchasepkg.RepositoryAPI {
	return &PurchaseRepository{
		db: db,
	}
}

func (r *PurchaseRepository) GetLand(ctx context.Context, id int64) (*land.Land, error) {
	var l land.Land
	err := r.db.WithContext(ctx).First(&l, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrLandNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PurchaseRepository) GetPlan(ctx context.Context, id int64) (*land.InstallmentPlan, error) {
	var plan land.InstallmentPlan
	err := r.db.WithContext(ctx).First(&plan, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *PurchaseRepository) GetByID(ctx context.Context, id int64) (*purchase.Purchase, error) {
	var p purchase.Purchase
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepository) GetOrCreateDraft(ctx context.Context, template *purchase.Purchase) (*purchase.Purchase, error) {
	db := r.db.WithContext(ctx)
	find := func() (*purchase.Purchase, error) {
		var p purchase.Purchase
		err := db.Where("land_id = ? AND buyer_id = ? AND status = ?", template.LandID, template.BuyerID, purchase.StatusDraft).
			Order("id ASC").
			First(&p).Error
		if err != nil {
			return nil, err
		}
		return &p, nil
	}

	existing, err := find()
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// The partial unique index on open drafts turns a racing insert into a no-op.
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(template)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return template, nil
	}
	return find()
}

func (r *PurchaseRepository) UpdateDraftTerms(ctx context.Context, p *purchase.Purchase) error {
	return r.db.WithContext(ctx).Model(&purchase.Purchase{}).
		Where("id = ? AND status = ?", p.ID, purchase.StatusDraft).
		Updates(map[string]interface{}{
			"payment_type":        p.PaymentType,
			"installment_plan_id": p.InstallmentPlanID,
			"down_payment_amount": p.DownPaymentAmount,
			"total_installments":  p.TotalInstallments,
		}).Error
}

func (r *PurchaseRepository) CompletedPayments(ctx context.Context, purchaseID int64) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).
		Where("purchase_id = ? AND status = ?", purchaseID, payment.StatusCompleted).
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}

func (r *PurchaseRepository) Schedule(ctx context.Context, purchaseID int64) ([]*purchase.PaymentSchedule, error) {
	var rows []*purchase.PaymentSchedule
	err := r.db.WithContext(ctx).
		Where("purchase_id = ?", purchaseID).
		Order("installment_number ASC").
		Find(&rows).Error
	return rows, err
}

func (r *PurchaseRepository) ScheduleEntry(ctx context.Context, purchaseID int64, installmentNumber int) (*purchase.PaymentSchedule, error) {
	var row purchase.PaymentSchedule
	err := r.db.WithContext(ctx).
		Where("purchase_id = ? AND installment_number = ?", purchaseID, installmentNumber).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *PurchaseRepository) DueInstallments(ctx context.Context, from, to time.Time) ([]*purchase.PaymentSchedule, error) {
	var rows []*purchase.PaymentSchedule
	err := r.db.WithContext(ctx).
		Where("is_paid = ? AND due_date >= ? AND due_date <= ?", false, from, to).
		Order("due_date ASC").
		Find(&rows).Error
	return rows, err
}

func (r *PurchaseRepository) ApplyRollup(ctx context.Context, plan *purchasepkg.RollupPlan) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":                 plan.ToStatus,
			"down_payment_paid":      plan.DownPaymentPaid,
			"completed_installments": plan.CompletedInstallments,
		}
		if plan.CompletionDate != nil {
			updates["completion_date"] = *plan.CompletionDate
		}
		if plan.FromStatus == purchase.StatusDraft && plan.ToStatus != purchase.StatusDraft {
			updates["purchase_date"] = time.Now().UTC()
		}

		res := tx.Model(&purchase.Purchase{}).
			Where("id = ? AND status = ?", plan.PurchaseID, plan.FromStatus).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if len(plan.Schedule) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&plan.Schedule).Error; err != nil {
				return err
			}
		}

		for number, paidAt := range plan.PaidInstallments {
			if err := tx.Model(&purchase.PaymentSchedule{}).
				Where("purchase_id = ? AND installment_number = ? AND is_paid = ?", plan.PurchaseID, number, false).
				Updates(map[string]interface{}{"is_paid": true, "paid_date": paidAt}).Error; err != nil {
				return err
			}
		}

		switch plan.LandStatus {
		case land.StatusSold:
			if err := tx.Model(&land.Land{}).Where("id = ?", plan.LandID).
				Update("status", land.StatusSold).Error; err != nil {
				return err
			}
		case land.StatusReserved:
			if err := tx.Model(&land.Land{}).Where("id = ? AND status = ?", plan.LandID, land.StatusAvailable).
				Update("status", land.StatusReserved).Error; err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	return applied, err
}
