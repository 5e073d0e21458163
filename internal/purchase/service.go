package purchase

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
)

const rollupAttempts = 3

var defaultReservationRate = decimal.NewFromFloat(0.05)

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With("component", "purchase_service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenDraft returns the buyer's draft purchase for a land parcel with its
// terms set for the requested payment type.
func (s *Service) OpenDraft(ctx context.Context, req DraftRequest) (*purchase.Purchase, *land.Land, error) {
	l, err := s.repo.GetLand(ctx, req.LandID)
	if err != nil {
		return nil, nil, err
	}
	if !l.Purchasable() {
		return nil, nil, internal.ErrLandUnavailable
	}

	var plan *land.InstallmentPlan
	if req.InstallmentPlanID != nil {
		plan, err = s.repo.GetPlan(ctx, *req.InstallmentPlanID)
		if err != nil {
			return nil, nil, err
		}
		if plan.LandID != l.ID || !plan.IsActive {
			return nil, nil, internal.ErrPlanNotFound
		}
	}
	if req.PaymentType == purchase.TypeDownPayment && plan == nil {
		return nil, nil, internal.NewValidationFieldError("installment_plan_id", "installment_plan_id is required for a down payment", internal.ErrCodeValidationFailed)
	}

	ref, err := GenerateReference(s.now())
	if err != nil {
		return nil, nil, internal.NewInternalError("Failed to open purchase", err)
	}

	template := &purchase.Purchase{
		Reference:      ref,
		LandID:         l.ID,
		BuyerID:        req.BuyerID,
		TotalLandPrice: l.TotalPrice,
		Status:         purchase.StatusDraft,
	}
	applyTerms(template, req.PaymentType, plan)

	p, err := s.repo.GetOrCreateDraft(ctx, template)
	if err != nil {
		s.logger.Error("failed to open draft purchase", "land_id", l.ID, "buyer_id", req.BuyerID, "error", err)
		return nil, nil, internal.NewInternalError("Failed to open purchase", err)
	}

	if p.ID != 0 && (p.PaymentType != template.PaymentType || !samePlan(p.InstallmentPlanID, template.InstallmentPlanID)) {
		applyTerms(p, req.PaymentType, plan)
		if err := s.repo.UpdateDraftTerms(ctx, p); err != nil {
			return nil, nil, internal.NewInternalError("Failed to update purchase terms", err)
		}
	}

	s.logger.Info("draft purchase ready",
		"purchase_reference", p.Reference,
		"land_id", l.ID,
		"payment_type", p.PaymentType)
	return p, l, nil
}

func applyTerms(p *purchase.Purchase, paymentType string, plan *land.InstallmentPlan) {
	p.PaymentType = paymentType
	p.InstallmentPlanID = nil
	p.DownPaymentAmount = decimal.Zero
	p.TotalInstallments = 0
	if plan != nil {
		id := plan.ID
		p.InstallmentPlanID = &id
		p.DownPaymentAmount = DownPayment(p.TotalLandPrice, plan)
		p.TotalInstallments = plan.TotalMonths
	}
}

func samePlan(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// AmountDue is the charge for opening a payment of the given type.
func (s *Service) AmountDue(p *purchase.Purchase, paymentType string, reservationFee decimal.Decimal) (decimal.Decimal, error) {
	switch paymentType {
	case payment.TypeFullPayment:
		return p.TotalLandPrice, nil
	case payment.TypeDownPayment:
		if !p.DownPaymentAmount.IsPositive() {
			return decimal.Zero, internal.ErrPlanNotFound
		}
		return p.DownPaymentAmount, nil
	case payment.TypeReservationFee:
		if reservationFee.IsPositive() {
			return reservationFee.Round(2), nil
		}
		return p.TotalLandPrice.Mul(defaultReservationRate).Round(2), nil
	}
	return decimal.Zero, internal.NewValidationFieldError("payment_type", "unsupported payment type", internal.ErrCodeValidationFailed)
}

func (s *Service) GetForBuyer(ctx context.Context, purchaseID, buyerID int64) (*purchase.Purchase, error) {
	p, err := s.repo.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.BuyerID != buyerID {
		return nil, internal.ErrPurchaseNotFound
	}
	return p, nil
}

// InstallmentDue checks that an installment may be paid now and returns its row.
func (s *Service) InstallmentDue(ctx context.Context, purchaseID, buyerID int64, number int) (*purchase.Purchase, *purchase.PaymentSchedule, error) {
	p, err := s.GetForBuyer(ctx, purchaseID, buyerID)
	if err != nil {
		return nil, nil, err
	}
	if !p.DownPaymentPaid {
		return nil, nil, internal.ErrDownPaymentRequired
	}
	row, err := s.repo.ScheduleEntry(ctx, p.ID, number)
	if err != nil {
		return nil, nil, err
	}
	if row.IsPaid {
		return nil, nil, internal.ErrInstallmentPaid
	}
	return p, row, nil
}

func (s *Service) GetSchedule(ctx context.Context, purchaseID, buyerID int64) (*ScheduleResponse, error) {
	p, err := s.GetForBuyer(ctx, purchaseID, buyerID)
	if err != nil {
		return nil, err
	}
	if p.InstallmentPlanID == nil {
		return nil, internal.ErrScheduleNotFound
	}

	rows, err := s.repo.Schedule(ctx, p.ID)
	if err != nil {
		return nil, internal.NewInternalError("Failed to load schedule", err)
	}
	completed, err := s.repo.CompletedPayments(ctx, p.ID)
	if err != nil {
		return nil, internal.NewInternalError("Failed to load payments", err)
	}

	return NewScheduleResponse(p, rows, owed(p, rows).Sub(sumAmounts(completed))), nil
}

// Installment loads a schedule row with its purchase, without an ownership check.
func (s *Service) Installment(ctx context.Context, purchaseID int64, number int) (*purchase.Purchase, *purchase.PaymentSchedule, error) {
	p, err := s.repo.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, nil, err
	}
	row, err := s.repo.ScheduleEntry(ctx, purchaseID, number)
	if err != nil {
		return nil, nil, err
	}
	return p, row, nil
}

// DueInstallments lists unpaid rows falling due within the window.
func (s *Service) DueInstallments(ctx context.Context, within time.Duration) ([]*purchase.PaymentSchedule, error) {
	now := s.now()
	return s.repo.DueInstallments(ctx, now, now.Add(within))
}

// Rollup recomputes the purchase from its complete set of completed payments.
// Running it again over the same set writes the same values.
func (s *Service) Rollup(ctx context.Context, purchaseID int64) (*RollupResult, error) {
	for i := 0; i < rollupAttempts; i++ {
		p, err := s.repo.GetByID(ctx, purchaseID)
		if err != nil {
			return nil, err
		}
		if _, tracked := statusRank[p.Status]; !tracked {
			return &RollupResult{PurchaseID: p.ID, Reference: p.Reference, Status: p.Status}, nil
		}

		completed, err := s.repo.CompletedPayments(ctx, p.ID)
		if err != nil {
			return nil, err
		}

		var plan *land.InstallmentPlan
		if p.InstallmentPlanID != nil {
			if plan, err = s.repo.GetPlan(ctx, *p.InstallmentPlanID); err != nil {
				return nil, err
			}
		}

		rp, total := s.plan(p, plan, completed)
		applied, err := s.repo.ApplyRollup(ctx, rp)
		if err != nil {
			s.logger.Error("purchase rollup failed", "purchase_reference", p.Reference, "error", err)
			return nil, err
		}
		if !applied {
			s.logger.Debug("purchase status moved during rollup, recomputing", "purchase_reference", p.Reference)
			continue
		}

		if rp.ToStatus != rp.FromStatus {
			s.logger.Info("purchase status advanced",
				"purchase_reference", p.Reference,
				"from", rp.FromStatus,
				"to", rp.ToStatus,
				"total_paid", total.StringFixed(2))
		}
		return &RollupResult{
			PurchaseID: p.ID,
			Reference:  p.Reference,
			Status:     rp.ToStatus,
			LandStatus: rp.LandStatus,
			TotalPaid:  total,
			Changed:    rp.ToStatus != rp.FromStatus,
		}, nil
	}
	return nil, internal.ErrStaleStatus
}

func (s *Service) plan(p *purchase.Purchase, plan *land.InstallmentPlan, completed []*payment.Payment) (*RollupPlan, decimal.Decimal) {
	total := sumAmounts(completed)
	target := p.Status
	downPaid := p.DownPaymentPaid

	paidInstallments := make(map[int]time.Time)
	var downPaidAt *time.Time
	for _, pay := range completed {
		if pay.PaymentType == payment.TypeInstallment && pay.InstallmentNumber != nil {
			at := s.now()
			if pay.PaidDate != nil {
				at = *pay.PaidDate
			}
			paidInstallments[*pay.InstallmentNumber] = at
		}
		if pay.PaymentType == payment.TypeDownPayment && pay.PaidDate != nil {
			if downPaidAt == nil || pay.PaidDate.Before(*downPaidAt) {
				downPaidAt = pay.PaidDate
			}
		}
	}

	var schedule []*purchase.PaymentSchedule
	switch p.PaymentType {
	case purchase.TypeFullPayment:
		if total.GreaterThanOrEqual(p.TotalLandPrice) {
			target = purchase.StatusCompleted
		}
	case purchase.TypeReservationFee:
		if total.IsPositive() {
			target = purchase.StatusReserved
		}
		if total.GreaterThanOrEqual(p.TotalLandPrice) {
			target = purchase.StatusCompleted
		}
	case purchase.TypeDownPayment:
		if p.DownPaymentAmount.IsPositive() && total.GreaterThanOrEqual(p.DownPaymentAmount) {
			downPaid = true
			target = purchase.StatusDownPaymentPaid
		}
		if downPaid && plan != nil {
			start := s.now()
			if downPaidAt != nil {
				start = *downPaidAt
			}
			schedule = BuildSchedule(p, plan, start)
		}
		if downPaid && len(paidInstallments) > 0 {
			target = purchase.StatusInProgress
		}
		allPaid := p.TotalInstallments > 0 && len(paidInstallments) >= p.TotalInstallments
		if downPaid && (allPaid || total.GreaterThanOrEqual(owed(p, schedule))) {
			target = purchase.StatusCompleted
		}
	}

	if !Advances(p.Status, target) {
		target = p.Status
	}

	rp := &RollupPlan{
		PurchaseID:            p.ID,
		LandID:                p.LandID,
		FromStatus:            p.Status,
		ToStatus:              target,
		DownPaymentPaid:       downPaid,
		CompletedInstallments: len(paidInstallments),
		PaidInstallments:      paidInstallments,
		Schedule:              schedule,
	}
	switch target {
	case purchase.StatusCompleted:
		rp.LandStatus = land.StatusSold
		completion := s.now()
		if p.CompletionDate != nil {
			completion = *p.CompletionDate
		}
		rp.CompletionDate = &completion
	case purchase.StatusReserved, purchase.StatusDownPaymentPaid, purchase.StatusInProgress:
		rp.LandStatus = land.StatusReserved
	}
	return rp, total
}

// owed is what the buyer must pay in total: the price, or the down payment
// plus every scheduled installment once a schedule exists.
func owed(p *purchase.Purchase, schedule []*purchase.PaymentSchedule) decimal.Decimal {
	if len(schedule) == 0 {
		return p.TotalLandPrice
	}
	total := p.DownPaymentAmount
	for _, row := range schedule {
		total = total.Add(row.Amount)
	}
	return total
}

func sumAmounts(payments []*payment.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, pay := range payments {
		total = total.Add(pay.Amount)
	}
	return total
}
