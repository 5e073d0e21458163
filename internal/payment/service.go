package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal"
	attemptpkg "github.com/frahmantamala/land-payment/internal/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/land-payment/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/core/events"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
)

const (
	defaultSweepBatch    = 100
	defaultDispatchGrace = 5 * time.Minute
)

type Config struct {
	Currency     string
	RedirectURL  string
	PendingTTL   time.Duration
	StuckAfter   time.Duration
	AbandonAfter time.Duration
	SweepBatch   int

	// DispatchGrace is how long a settlement may wait for its jobs to be
	// queued before the sweep publishes it again.
	DispatchGrace time.Duration
}

// Service is the payment reconciler. Every status write on a payment goes
// through one of its guarded transitions.
type Service struct {
	repo      RepositoryAPI
	ledger    *attemptpkg.Ledger
	gateway   GatewayAPI
	purchases PurchaseAPI
	buyers    BuyerDirectory
	eventBus  *events.EventBus
	limiter   Limiter
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	repo RepositoryAPI,
	ledger *attemptpkg.Ledger,
	gateway GatewayAPI,
	purchases PurchaseAPI,
	buyers BuyerDirectory,
	eventBus *events.EventBus,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 24 * time.Hour
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 2 * time.Hour
	}
	if cfg.AbandonAfter < cfg.StuckAfter {
		cfg.AbandonAfter = 24 * time.Hour
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	if cfg.DispatchGrace <= 0 {
		cfg.DispatchGrace = defaultDispatchGrace
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		gateway:   gateway,
		purchases: purchases,
		buyers:    buyers,
		eventBus:  eventBus,
		cfg:       cfg,
		logger:    logger.With("component", "payment_reconciler"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithLimiter(l Limiter) *Service {
	s.limiter = l
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate opens a payment against the buyer's draft purchase for a parcel
// and hands the first attempt to the gateway.
func (s *Service) Initiate(ctx context.Context, req StartRequest) (*InitiateResponse, error) {
	buyer, err := s.buyer(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}

	p, l, err := s.purchases.OpenDraft(ctx, purchasepkg.DraftRequest{
		BuyerID:           req.BuyerID,
		LandID:            req.LandID,
		PaymentType:       req.PaymentType,
		InstallmentPlanID: req.InstallmentPlanID,
	})
	if err != nil {
		return nil, err
	}

	amount, err := s.purchases.AmountDue(p, req.PaymentType, req.ReservationFee)
	if err != nil {
		return nil, err
	}

	currency := l.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	pay := &payment.Payment{
		PurchaseID:    p.ID,
		BuyerID:       req.BuyerID,
		Amount:        amount,
		Currency:      currency,
		PaymentType:   req.PaymentType,
		PaymentMethod: req.PaymentMethod,
		Description:   describe(req.PaymentType, l.Title, nil),
	}

	link, err := s.open(ctx, pay, buyer, req.RedirectURL)
	if err != nil {
		return nil, err
	}
	return &InitiateResponse{PaymentView: NewPaymentView(pay), PurchaseReference: p.Reference, PaymentLink: link}, nil
}

// PayInstallment opens a payment for one scheduled installment.
func (s *Service) PayInstallment(ctx context.Context, buyerID, purchaseID int64, number int, req PayInstallmentRequest) (*InitiateResponse, error) {
	buyer, err := s.buyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	p, row, err := s.purchases.InstallmentDue(ctx, purchaseID, buyerID, number)
	if err != nil {
		return nil, err
	}

	taken, err := s.repo.InstallmentTaken(ctx, p.ID, number)
	if err != nil {
		return nil, internal.NewInternalError("Failed to check installment payments", err)
	}
	if taken {
		return nil, internal.ErrInstallmentBusy
	}

	n := number
	due := row.DueDate
	pay := &payment.Payment{
		PurchaseID:        p.ID,
		BuyerID:           buyerID,
		Amount:            row.Amount,
		Currency:          s.cfg.Currency,
		PaymentType:       payment.TypeInstallment,
		PaymentMethod:     req.PaymentMethod,
		IsInstallment:     true,
		InstallmentNumber: &n,
		DueDate:           &due,
		Description:       describe(payment.TypeInstallment, p.Reference, &n),
	}

	link, err := s.open(ctx, pay, buyer, req.RedirectURL)
	if err != nil {
		return nil, err
	}
	return &InitiateResponse{PaymentView: NewPaymentView(pay), PurchaseReference: p.Reference, PaymentLink: link}, nil
}

// Retry opens a fresh payment for a failed one. The failed record is left as
// it is.
func (s *Service) Retry(ctx context.Context, buyerID int64, reference, redirectURL string) (*InitiateResponse, error) {
	old, err := s.owned(ctx, buyerID, reference)
	if err != nil {
		return nil, err
	}
	if old.Status != payment.StatusFailed {
		return nil, internal.ErrInvalidStatus
	}

	buyer, err := s.buyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	p, err := s.purchases.GetForBuyer(ctx, old.PurchaseID, buyerID)
	if err != nil {
		return nil, err
	}
	if old.IsInstallment && old.InstallmentNumber != nil {
		taken, err := s.repo.InstallmentTaken(ctx, old.PurchaseID, *old.InstallmentNumber)
		if err != nil {
			return nil, internal.NewInternalError("Failed to check installment payments", err)
		}
		if taken {
			return nil, internal.ErrInstallmentBusy
		}
	}

	pay := &payment.Payment{
		PurchaseID:        old.PurchaseID,
		BuyerID:           old.BuyerID,
		Amount:            old.Amount,
		Currency:          old.Currency,
		PaymentType:       old.PaymentType,
		PaymentMethod:     old.PaymentMethod,
		IsInstallment:     old.IsInstallment,
		InstallmentNumber: old.InstallmentNumber,
		DueDate:           old.DueDate,
		Description:       old.Description,
		Metadata:          map[string]interface{}{MetaRetryOf: old.Reference},
	}

	link, err := s.open(ctx, pay, buyer, redirectURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("failed payment retried", "payment_reference", old.Reference, "new_reference", pay.Reference)
	return &InitiateResponse{PaymentView: NewPaymentView(pay), PurchaseReference: p.Reference, PaymentLink: link}, nil
}

// open persists a new payment, records attempt #1 and initiates the charge.
// A gateway refusal settles both the attempt and the payment as failed.
func (s *Service) open(ctx context.Context, pay *payment.Payment, buyer *user.User, redirectURL string) (string, error) {
	now := s.now()
	ref, err := purchasepkg.GeneratePaymentReference(now)
	if err != nil {
		return "", internal.NewInternalError("Failed to create payment", err)
	}
	pay.Reference = ref
	pay.TxRef = GenerateTxRef(ref, now)
	pay.Status = payment.StatusPending
	pay.CustomerEmail = buyer.Email
	pay.CustomerName = buyer.Name
	pay.CustomerPhone = buyer.Phone

	if err := s.repo.Create(ctx, pay); err != nil {
		if errors.Is(err, internal.ErrInstallmentBusy) {
			return "", err
		}
		s.logger.Error("failed to create payment", "purchase_id", pay.PurchaseID, "error", err)
		return "", internal.NewInternalError("Failed to create payment", err)
	}

	a, err := s.ledger.CreateAttempt(ctx, pay)
	if err != nil {
		return "", err
	}
	if err := s.repo.Advance(ctx, pay.ID, payment.StatusPending, payment.StatusInitiated, nil); err != nil {
		return "", err
	}
	pay.Status = payment.StatusInitiated

	if redirectURL == "" {
		redirectURL = s.cfg.RedirectURL
	}
	result, err := s.gateway.Initiate(ctx, paymentgateway.ChargeRequest{
		TxRef:       a.TxRef,
		Amount:      pay.Amount,
		Currency:    pay.Currency,
		RedirectURL: redirectURL,
		Customer: paymentgatewaytypes.Customer{
			Email:       buyer.Email,
			Name:        buyer.Name,
			PhoneNumber: buyer.Phone,
		},
		Description: pay.Description,
		Meta: map[string]interface{}{
			"payment_reference": pay.Reference,
			"purchase_id":       pay.PurchaseID,
			"payment_type":      pay.PaymentType,
			"attempt_number":    a.AttemptNumber,
		},
	})
	if err != nil {
		s.logger.Warn("gateway refused charge",
			"payment_reference", pay.Reference,
			"tx_ref", a.TxRef,
			"error", err)
		// the buyer sees the refusal directly, so no failure notice is queued
		if _, serr := s.repo.Settle(ctx, &Settlement{
			PaymentID:     pay.ID,
			Status:        payment.StatusFailed,
			FailureReason: err.Error(),
			Metadata:      map[string]interface{}{MetaSettledBy: "initiate"},
			At:            s.now(),
		}); serr != nil {
			s.logger.Error("failed to record initiation failure", "payment_reference", pay.Reference, "error", serr)
		} else if merr := s.repo.MarkDispatched(ctx, pay.ID, s.now()); merr != nil {
			s.logger.Warn("initiation failure left undispatched", "payment_reference", pay.Reference, "error", merr)
		}
		return "", err
	}

	// A webhook may already have settled the payment; both CAS misses are fine.
	if err := s.ledger.MarkProcessing(ctx, a); err != nil {
		s.logger.Debug("attempt left initiated", "tx_ref", a.TxRef, "error", err)
	}
	if err := s.repo.Advance(ctx, pay.ID, payment.StatusInitiated, payment.StatusProcessing,
		map[string]interface{}{MetaPaymentLink: result.PaymentLink}); err != nil {
		s.logger.Debug("payment left initiated", "payment_reference", pay.Reference, "error", err)
	}

	if current, err := s.repo.GetByID(ctx, pay.ID); err == nil {
		*pay = *current
	}

	s.logger.Info("payment initiated",
		"payment_reference", pay.Reference,
		"purchase_id", pay.PurchaseID,
		"payment_type", pay.PaymentType,
		"tx_ref", a.TxRef,
		"amount", pay.Amount.StringFixed(2))
	return result.PaymentLink, nil
}

// Verify settles a payment from the browser's redirect back from the gateway.
func (s *Service) Verify(ctx context.Context, buyerID int64, reference string, req VerifyRequest) (*ReconcileResult, error) {
	p, err := s.owned(ctx, buyerID, reference)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, p, req, SourceVerify)
}

// AdminReconcile forces a provider lookup for any payment.
func (s *Service) AdminReconcile(ctx context.Context, reference string) (*ReconcileResult, error) {
	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual reconciliation requested", "payment_reference", reference, "status", p.Status)
	return s.verify(ctx, p, VerifyRequest{}, SourceAdmin)
}

func (s *Service) verify(ctx context.Context, p *payment.Payment, req VerifyRequest, source string) (*ReconcileResult, error) {
	if p.IsSettled() {
		return &ReconcileResult{Payment: NewPaymentView(p)}, nil
	}

	var (
		v   *paymentgateway.Verification
		err error
	)
	if req.TransactionID != nil {
		v, err = s.gateway.Verify(ctx, *req.TransactionID)
	} else {
		txRef := req.TxRef
		if txRef == "" {
			txRef = s.liveTxRef(ctx, p)
		}
		v, err = s.gateway.VerifyByReference(ctx, txRef)
	}
	if err != nil {
		// Nothing is written so the caller can simply try again.
		s.logger.Warn("gateway verification failed",
			"payment_reference", p.Reference,
			"source", source,
			"error", err)
		return nil, err
	}

	owner, err := s.repo.FindByTxRef(ctx, v.TxRef)
	if err != nil && !errors.Is(err, internal.ErrPaymentNotFound) {
		return nil, internal.NewInternalError("Failed to load payment", err)
	}
	if owner == nil || owner.ID != p.ID {
		s.logger.Warn("verified transaction belongs to another payment",
			"payment_reference", p.Reference,
			"tx_ref", v.TxRef)
		return nil, internal.NewValidationFieldError("tx_ref", "transaction does not belong to this payment", internal.ErrCodeValidationFailed)
	}

	return s.reconcile(ctx, p, v, source)
}

// Cancel stops a payment the buyer has given up on. The provider is asked
// first so a charge that did go through is recorded as completed instead.
func (s *Service) Cancel(ctx context.Context, buyerID int64, reference string) (*ReconcileResult, error) {
	p, err := s.owned(ctx, buyerID, reference)
	if err != nil {
		return nil, err
	}
	if p.Status == payment.StatusCancelled {
		return &ReconcileResult{Payment: NewPaymentView(p)}, nil
	}
	if p.IsSettled() {
		return nil, internal.ErrInvalidStatus
	}

	v, err := s.gateway.VerifyByReference(ctx, s.liveTxRef(ctx, p))
	switch {
	case err == nil && v.Status.IsFinal():
		return s.reconcile(ctx, p, v, SourceBuyer)
	case err != nil && !errors.Is(err, internal.ErrPaymentNotFound):
		return nil, err
	}

	return s.settle(ctx, p, &Settlement{
		Status:        payment.StatusCancelled,
		FailureReason: "cancelled by buyer",
		Metadata:      map[string]interface{}{MetaCancelledBy: SourceBuyer},
	})
}

// HandleWebhook applies a signed provider callback. Only an invalid
// signature, a malformed body or an internal failure produce an error; all
// other outcomes are acknowledged.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte, signature string) (*WebhookResult, error) {
	if !s.gateway.ValidateSignature(raw, signature) {
		return nil, internal.ErrSignatureInvalid
	}

	evt, err := s.gateway.ParseWebhook(raw)
	if err != nil {
		return nil, err
	}
	txRef := evt.Data.TxRef

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, txRef)
		if err != nil {
			s.logger.Warn("webhook limiter unavailable", "tx_ref", txRef, "error", err)
		} else if !allowed {
			s.logger.Warn("webhook rate limited", "tx_ref", txRef, "event", evt.Event)
			return &WebhookResult{Outcome: WebhookRateLimited}, nil
		}
	}

	p, err := s.repo.FindByTxRef(ctx, txRef)
	if errors.Is(err, internal.ErrPaymentNotFound) {
		s.logger.Warn("webhook for unknown reference acknowledged", "tx_ref", txRef, "event", evt.Event)
		return &WebhookResult{Outcome: WebhookUnknownRef}, nil
	}
	if err != nil {
		return nil, internal.NewInternalError("Failed to load payment", err)
	}

	v, actionable, err := verificationFromWebhook(evt)
	if err != nil {
		return nil, err
	}
	if !actionable {
		s.logger.Info("webhook acknowledged without transition",
			"payment_reference", p.Reference,
			"event", evt.Event,
			"provider_status", evt.Data.Status)
		return &WebhookResult{Outcome: WebhookIgnored, PaymentReference: p.Reference, PaymentStatus: p.Status}, nil
	}
	if p.IsSettled() {
		return &WebhookResult{Outcome: WebhookDuplicate, PaymentReference: p.Reference, PaymentStatus: p.Status}, nil
	}

	res, err := s.reconcile(ctx, p, v, SourceWebhook)
	if err != nil {
		return nil, err
	}
	outcome := WebhookProcessed
	if !res.Applied {
		outcome = WebhookDuplicate
	}
	return &WebhookResult{Outcome: outcome, PaymentReference: p.Reference, PaymentStatus: res.Payment.Status}, nil
}

func verificationFromWebhook(evt *paymentgateway.WebhookEvent) (*paymentgateway.Verification, bool, error) {
	status := paymentgatewaytypes.NormalizeStatus(evt.Data.Status)
	switch evt.Event {
	case paymentgatewaytypes.EventChargeCompleted:
		if status != paymentgatewaytypes.ProviderStatusSuccessful && status != paymentgatewaytypes.ProviderStatusFailed {
			return nil, false, nil
		}
	case paymentgatewaytypes.EventChargeFailed:
		status = paymentgatewaytypes.ProviderStatusFailed
	default:
		return nil, false, nil
	}

	amount := decimal.Zero
	if evt.Data.Amount != "" {
		a, err := evt.Data.AmountDecimal()
		if err != nil {
			return nil, false, internal.NewValidationFieldError("data.amount", "data.amount is not a number", internal.ErrCodeInvalidPayload)
		}
		amount = a
	} else if status == paymentgatewaytypes.ProviderStatusSuccessful {
		return nil, false, internal.NewValidationFieldError("data.amount", "data.amount is required", internal.ErrCodeInvalidPayload)
	}

	return &paymentgateway.Verification{
		TransactionID:     evt.Data.ID,
		TxRef:             evt.Data.TxRef,
		ProviderRef:       evt.Data.FlwRef,
		Amount:            amount,
		Currency:          strings.ToUpper(evt.Data.Currency),
		Status:            status,
		PaymentType:       evt.Data.PaymentType,
		ProcessorResponse: evt.Data.ProcessorResponse,
		Raw:               evt.Raw,
	}, true, nil
}

// reconcile turns a provider verdict into a settlement. A verdict that is not
// final leaves the payment untouched.
func (s *Service) reconcile(ctx context.Context, p *payment.Payment, v *paymentgateway.Verification, source string) (*ReconcileResult, error) {
	if !v.Status.IsFinal() {
		s.logger.Info("provider has no verdict yet",
			"payment_reference", p.Reference,
			"provider_status", v.Status,
			"source", source)
		return &ReconcileResult{Payment: NewPaymentView(p), ProviderStatus: string(v.Status)}, nil
	}

	res, err := s.settle(ctx, p, s.settlementFor(p, v, source))
	if err != nil {
		return nil, err
	}
	res.ProviderStatus = string(v.Status)
	return res, nil
}

func (s *Service) settlementFor(p *payment.Payment, v *paymentgateway.Verification, source string) *Settlement {
	st := &Settlement{
		GatewayResponse: v.Raw,
		PaymentMethod:   MethodFromGateway(v.PaymentType),
		Metadata:        map[string]interface{}{MetaSettledBy: source},
	}
	if v.TransactionID != 0 {
		id := v.TransactionID
		st.GatewayTransactionID = &id
	}
	if v.ProviderRef != "" {
		st.Metadata["provider_reference"] = v.ProviderRef
	}

	successful := v.Status == paymentgatewaytypes.ProviderStatusSuccessful
	switch {
	case successful && !strings.EqualFold(v.Currency, p.Currency):
		st.Status = payment.StatusFailed
		st.FailureReason = fmt.Sprintf("currency mismatch: expected %s, got %s", p.Currency, v.Currency)
	case successful && v.Amount.LessThan(p.Amount):
		st.Status = payment.StatusFailed
		st.FailureReason = fmt.Sprintf("amount mismatch: expected %s, got %s", p.Amount.StringFixed(2), v.Amount.StringFixed(2))
	case successful:
		st.Status = payment.StatusCompleted
		paid := s.now()
		st.PaidAt = &paid
	default:
		st.Status = payment.StatusFailed
		st.FailureReason = v.ProcessorResponse
		if st.FailureReason == "" {
			st.FailureReason = "payment " + string(v.Status)
		}
	}
	return st
}

// settle applies the guarded transition. Only the caller whose write lands
// runs the rollup and publishes the settlement event.
func (s *Service) settle(ctx context.Context, p *payment.Payment, st *Settlement) (*ReconcileResult, error) {
	st.PaymentID = p.ID
	if st.At.IsZero() {
		st.At = s.now()
	}

	won, err := s.repo.Settle(ctx, st)
	if errors.Is(err, internal.ErrInstallmentPaid) {
		s.logger.Error("charge collides with a paid installment, refund required",
			"payment_reference", p.Reference,
			"purchase_id", p.PurchaseID)
		st.Status = payment.StatusFailed
		st.PaidAt = nil
		st.FailureReason = "installment already paid by another payment; refund required"
		if st.Metadata == nil {
			st.Metadata = map[string]interface{}{}
		}
		st.Metadata[MetaRefundNeeded] = true
		won, err = s.repo.Settle(ctx, st)
	}
	if err != nil {
		s.logger.Error("failed to record payment outcome",
			"payment_reference", p.Reference,
			"status", st.Status,
			"error", err)
		return nil, internal.NewInternalError("Failed to record payment outcome", err)
	}

	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, internal.NewInternalError("Failed to load payment", err)
	}
	if !won {
		s.logger.Info("payment already settled, side effects skipped",
			"payment_reference", p.Reference,
			"status", current.Status,
			"attempted_status", st.Status)
		return &ReconcileResult{Payment: NewPaymentView(current)}, nil
	}

	s.logger.Info("payment settled",
		"payment_reference", current.Reference,
		"status", current.Status,
		"settled_by", st.Metadata[MetaSettledBy],
		"failure_reason", current.FailureReason)

	if current.Status == payment.StatusCompleted {
		if _, err := s.purchases.Rollup(ctx, current.PurchaseID); err != nil {
			s.logger.Warn("purchase rollup deferred to dispatcher",
				"payment_reference", current.Reference,
				"purchase_id", current.PurchaseID,
				"error", err)
		}
	}
	if err := s.dispatch(ctx, current); err != nil {
		s.logger.Warn("settlement jobs left for the sweep",
			"payment_reference", current.Reference,
			"error", err)
	}

	return &ReconcileResult{Payment: NewPaymentView(current), Applied: true}, nil
}

// dispatch publishes the settlement event and records that its jobs were
// queued. Until that record exists the sweep keeps publishing it.
func (s *Service) dispatch(ctx context.Context, p *payment.Payment) error {
	if err := s.publish(ctx, p); err != nil {
		return err
	}
	at := s.now()
	if err := s.repo.MarkDispatched(ctx, p.ID, at); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	p.DispatchedAt = &at
	return nil
}

func (s *Service) publish(ctx context.Context, p *payment.Payment) error {
	if s.eventBus == nil {
		return nil
	}
	event := events.NewPaymentSettledEvent(p.ID, p.Reference, p.PurchaseID, p.TxRef, p.Status,
		p.Amount.StringFixed(2), p.Currency, p.FailureReason)
	if err := s.eventBus.PublishSync(ctx, event); err != nil {
		s.logger.Error("settlement event delivery failed",
			"payment_reference", p.Reference,
			"event_id", event.EventID(),
			"error", err)
		return err
	}
	return nil
}

// RepublishSettled publishes the settlement event of an already settled
// payment again. Downstream jobs are idempotent.
func (s *Service) RepublishSettled(ctx context.Context, reference string) error {
	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return err
	}
	if !p.IsSettled() {
		return internal.ErrInvalidStatus
	}
	s.logger.Info("replaying settlement event", "payment_reference", reference, "status", p.Status)
	return s.dispatch(ctx, p)
}

// RedispatchSettled publishes again every settlement whose jobs never reached
// the queue. Jobs are deduplicated by task id and idempotent at the target.
func (s *Service) RedispatchSettled(ctx context.Context) (int, error) {
	pending, err := s.repo.ListUndispatched(ctx, s.now().Add(-s.cfg.DispatchGrace), s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, p := range pending {
		if err := s.dispatch(ctx, p); err != nil {
			s.logger.Warn("settlement jobs still not queued", "payment_reference", p.Reference, "error", err)
			continue
		}
		s.logger.Info("settlement jobs queued by sweep", "payment_reference", p.Reference, "status", p.Status)
		dispatched++
	}
	return dispatched, nil
}

// ExpireStale marks pending payments older than the pending TTL as expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.repo.ListStale(ctx, []string{payment.StatusPending}, now.Add(-s.cfg.PendingTTL), s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range stale {
		res, err := s.settle(ctx, p, &Settlement{
			Status:        payment.StatusExpired,
			From:          []string{payment.StatusPending},
			FailureReason: "payment expired",
			Metadata: map[string]interface{}{
				MetaAutoExpiredAt: now.Format(time.RFC3339),
				MetaSettledBy:     SourceSweep,
			},
			At: now,
		})
		if err != nil {
			s.logger.Error("failed to expire payment", "payment_reference", p.Reference, "error", err)
			continue
		}
		if res.Applied {
			expired++
		}
	}
	return expired, nil
}

// ReconcileStuck asks the provider about payments stuck in flight. A verdict
// settles them; no verdict past the abandon window cancels them.
func (s *Service) ReconcileStuck(ctx context.Context) (settled, cancelled int, err error) {
	now := s.now()
	stuck, err := s.repo.ListStale(ctx,
		[]string{payment.StatusInitiated, payment.StatusProcessing},
		now.Add(-s.cfg.StuckAfter), s.cfg.SweepBatch)
	if err != nil {
		return 0, 0, err
	}

	abandonBefore := now.Add(-s.cfg.AbandonAfter)
	for _, p := range stuck {
		v, verr := s.gateway.VerifyByReference(ctx, s.liveTxRef(ctx, p))
		if verr == nil && v.Status.IsFinal() {
			res, err := s.reconcile(ctx, p, v, SourceSweep)
			if err != nil {
				s.logger.Error("failed to settle stuck payment", "payment_reference", p.Reference, "error", err)
				continue
			}
			if res.Applied {
				settled++
			}
			continue
		}
		if verr != nil && !errors.Is(verr, internal.ErrPaymentNotFound) {
			s.logger.Warn("stuck payment left for next sweep", "payment_reference", p.Reference, "error", verr)
			continue
		}
		if !p.CreatedAt.Before(abandonBefore) {
			continue
		}

		res, err := s.settle(ctx, p, &Settlement{
			Status:        payment.StatusCancelled,
			FailureReason: "no provider verdict before abandon window",
			Metadata: map[string]interface{}{
				MetaCancelledBy: SourceSweep,
				MetaSettledBy:   SourceSweep,
			},
			At: now,
		})
		if err != nil {
			s.logger.Error("failed to cancel abandoned payment", "payment_reference", p.Reference, "error", err)
			continue
		}
		if res.Applied {
			cancelled++
		}
	}
	return settled, cancelled, nil
}

func (s *Service) History(ctx context.Context, buyerID int64, limit, offset int) (*PaymentList, error) {
	payments, total, err := s.repo.ListByBuyer(ctx, buyerID, limit, offset)
	if err != nil {
		return nil, internal.NewInternalError("Failed to load payments", err)
	}
	views := make([]PaymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, NewPaymentView(p))
	}
	return &PaymentList{Payments: views, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *Service) Get(ctx context.Context, buyerID int64, reference string) (*PaymentDetail, error) {
	p, err := s.owned(ctx, buyerID, reference)
	if err != nil {
		return nil, err
	}
	attempts, err := s.ledger.History(ctx, p.ID)
	if err != nil {
		return nil, internal.NewInternalError("Failed to load payment attempts", err)
	}
	return NewPaymentDetail(p, attempts), nil
}

// liveTxRef picks the reference the provider knows the payment by: the
// in-flight attempt, else the latest attempt, else the payment's own.
func (s *Service) liveTxRef(ctx context.Context, p *payment.Payment) string {
	if a, err := s.ledger.InFlight(ctx, p.ID); err == nil {
		return a.TxRef
	}
	if attempts, err := s.ledger.History(ctx, p.ID); err == nil && len(attempts) > 0 {
		return attempts[len(attempts)-1].TxRef
	}
	return p.TxRef
}

// owned hides other buyers' payments behind not-found.
func (s *Service) owned(ctx context.Context, buyerID int64, reference string) (*payment.Payment, error) {
	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.BuyerID != buyerID {
		return nil, internal.ErrPaymentNotFound
	}
	return p, nil
}

func (s *Service) buyer(ctx context.Context, id int64) (*user.User, error) {
	u, err := s.buyers.GetByID(ctx, id)
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewInternalError("Failed to load buyer", err)
	}
	return u, nil
}

func describe(paymentType, subject string, installment *int) string {
	label := strings.ReplaceAll(paymentType, "_", " ")
	if installment != nil {
		return fmt.Sprintf("Installment %d for %s", *installment, subject)
	}
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("%s for %s", label, subject)
}
