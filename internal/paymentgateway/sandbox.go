package paymentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-resty/resty/v2"

	paymentgatewaytypes "github.com/frahmantamala/land-payment/internal/core/datamodel/paymentgateway"
)

// SettlementJob asks a sandbox worker to decide the outcome of a charge.
type SettlementJob struct {
	TransactionID int64
	TxRef         string
}

type Worker struct {
	ID         int
	WorkerPool chan chan SettlementJob
	JobChannel chan SettlementJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan SettlementJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan SettlementJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, process func(SettlementJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("sandbox worker settling charge", "worker_id", w.ID, "tx_ref", job.TxRef)
				process(job)
			case <-ctx.Done():
				w.Logger.Debug("sandbox worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type SandboxConfig struct {
	SecretKey   string
	WebhookHash string
	WebhookURL  string
	SuccessRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	MaxWorkers  int
	QueueSize   int

	// Decide overrides the random outcome; true means successful.
	Decide func(txRef string) bool
}

// Sandbox is a local stand-in for the hosted payment provider. It accepts
// charges, settles them asynchronously on a worker pool and delivers signed
// webhooks, so the full reconciliation loop can be exercised without network
// access to the real provider.
type Sandbox struct {
	cfg    SandboxConfig
	logger *slog.Logger
	http   *resty.Client

	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*paymentgatewaytypes.TransactionData
	byRef  map[string]int64

	jobQueue   chan SettlementJob
	workerPool chan chan SettlementJob
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewSandbox(cfg SandboxConfig, logger *slog.Logger) *Sandbox {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.SuccessRate <= 0 || cfg.SuccessRate > 1 {
		cfg.SuccessRate = 0.9
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sandbox{
		cfg:        cfg,
		logger:     logger.With("component", "gateway_sandbox"),
		http:       resty.New().SetTimeout(10 * time.Second),
		nextID:     1000,
		byID:       make(map[int64]*paymentgatewaytypes.TransactionData),
		byRef:      make(map[string]int64),
		jobQueue:   make(chan SettlementJob, cfg.QueueSize),
		workerPool: make(chan chan SettlementJob, cfg.MaxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Sandbox) Start() {
	s.once.Do(func() {
		for i := 0; i < s.cfg.MaxWorkers; i++ {
			NewWorker(i, s.workerPool, s.logger).Start(s.ctx, &s.wg, s.settle)
		}
		s.wg.Add(1)
		go s.dispatch()
		s.logger.Info("gateway sandbox started", "max_workers", s.cfg.MaxWorkers, "queue_size", s.cfg.QueueSize)
	})
}

func (s *Sandbox) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.jobQueue:
			select {
			case ch := <-s.workerPool:
				select {
				case ch <- job:
				case <-s.ctx.Done():
					return
				}
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Sandbox) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("gateway sandbox stopped")
}

func (s *Sandbox) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post(initializePath, s.handleInitialize)
	r.Get("/transactions/{id}/verify", s.handleVerify)
	r.Get(verifyByReference, s.handleVerifyByReference)
	return r
}

func (s *Sandbox) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.SecretKey
}

func (s *Sandbox) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeSandbox(w, http.StatusUnauthorized, "error", "Invalid authorization key", nil)
		return
	}

	var req paymentgatewaytypes.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxRef == "" {
		writeSandbox(w, http.StatusBadRequest, "error", "Invalid payment request", nil)
		return
	}

	s.mu.Lock()
	if _, exists := s.byRef[req.TxRef]; exists {
		s.mu.Unlock()
		writeSandbox(w, http.StatusBadRequest, "error", "Duplicate transaction reference", nil)
		return
	}
	s.nextID++
	id := s.nextID
	customer := req.Customer
	tx := &paymentgatewaytypes.TransactionData{
		ID:          id,
		TxRef:       req.TxRef,
		FlwRef:      fmt.Sprintf("SANDBOX-%d", id),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      string(paymentgatewaytypes.ProviderStatusPending),
		PaymentType: "card",
		Customer:    &customer,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	s.byID[id] = tx
	s.byRef[req.TxRef] = id
	s.mu.Unlock()

	select {
	case s.jobQueue <- SettlementJob{TransactionID: id, TxRef: req.TxRef}:
	default:
		s.logger.Warn("sandbox queue full, charge stays pending", "tx_ref", req.TxRef)
	}

	writeSandbox(w, http.StatusOK, paymentgatewaytypes.ResponseStatusSuccess, "Hosted Link", paymentgatewaytypes.InitiateData{
		Link:   fmt.Sprintf("http://%s/checkout/%s", r.Host, req.TxRef),
		FlwRef: tx.FlwRef,
	})
}

func (s *Sandbox) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeSandbox(w, http.StatusBadRequest, "error", "Invalid transaction id", nil)
		return
	}
	s.writeTransaction(w, r, func() (*paymentgatewaytypes.TransactionData, bool) {
		tx, ok := s.byID[id]
		return tx, ok
	})
}

func (s *Sandbox) handleVerifyByReference(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("tx_ref")
	s.writeTransaction(w, r, func() (*paymentgatewaytypes.TransactionData, bool) {
		id, ok := s.byRef[ref]
		if !ok {
			return nil, false
		}
		tx, ok := s.byID[id]
		return tx, ok
	})
}

func (s *Sandbox) writeTransaction(w http.ResponseWriter, r *http.Request, lookup func() (*paymentgatewaytypes.TransactionData, bool)) {
	if !s.authorized(r) {
		writeSandbox(w, http.StatusUnauthorized, "error", "Invalid authorization key", nil)
		return
	}
	s.mu.RLock()
	tx, ok := lookup()
	var snapshot paymentgatewaytypes.TransactionData
	if ok {
		snapshot = *tx
	}
	s.mu.RUnlock()

	if !ok {
		writeSandbox(w, http.StatusNotFound, "error", "No transaction was found", nil)
		return
	}
	writeSandbox(w, http.StatusOK, paymentgatewaytypes.ResponseStatusSuccess, "Transaction fetched successfully", snapshot)
}

func (s *Sandbox) settle(job SettlementJob) {
	delay := s.cfg.MinDelay
	if spread := s.cfg.MaxDelay - s.cfg.MinDelay; spread > 0 {
		delay += time.Duration(rand.Int64N(int64(spread)))
	}
	select {
	case <-time.After(delay):
	case <-s.ctx.Done():
		return
	}

	success := rand.Float64() < s.cfg.SuccessRate
	if s.cfg.Decide != nil {
		success = s.cfg.Decide(job.TxRef)
	}

	status := paymentgatewaytypes.ProviderStatusSuccessful
	processor := "Approved"
	if !success {
		status = paymentgatewaytypes.ProviderStatusFailed
		processor = "Insufficient funds"
	}

	s.mu.Lock()
	tx, ok := s.byID[job.TransactionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	tx.Status = string(status)
	tx.ProcessorResponse = processor
	tx.ChargedAmount = tx.Amount
	snapshot := *tx
	s.mu.Unlock()

	s.logger.Info("sandbox charge settled", "tx_ref", job.TxRef, "status", status)
	s.deliver(snapshot)
}

func (s *Sandbox) deliver(tx paymentgatewaytypes.TransactionData) {
	if s.cfg.WebhookURL == "" {
		return
	}
	event := paymentgatewaytypes.EventChargeCompleted
	if tx.Status == string(paymentgatewaytypes.ProviderStatusFailed) {
		event = paymentgatewaytypes.EventChargeFailed
	}
	body, err := json.Marshal(paymentgatewaytypes.WebhookPayload{Event: event, Data: tx})
	if err != nil {
		s.logger.Error("sandbox failed to marshal webhook", "error", err)
		return
	}
	signature, err := Sign(s.cfg.WebhookHash, body)
	if err != nil {
		s.logger.Error("sandbox failed to sign webhook", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, signature).
		SetBody(body).
		Post(s.cfg.WebhookURL)
	if err != nil {
		s.logger.Error("sandbox webhook delivery failed", "tx_ref", tx.TxRef, "error", err)
		return
	}
	if resp.StatusCode() != http.StatusOK {
		s.logger.Warn("sandbox webhook rejected", "tx_ref", tx.TxRef, "status_code", resp.StatusCode())
		return
	}
	s.logger.Info("sandbox webhook delivered", "tx_ref", tx.TxRef, "event", event)
}

func writeSandbox(w http.ResponseWriter, status int, outcome, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  strings.ToLower(outcome),
		"message": message,
		"data":    data,
	})
}
