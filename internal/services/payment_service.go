package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payments-service/internal/metrics"
	"payments-service/internal/models"
	"payments-service/pkg/common"
)

// Task types (mirrored in worker/tasks.go to avoid an import cycle).
const (
	TypeInitiateMpesaSTK = "mpesa:initiate-stk"
	TypeInitiatePaystack = "paystack:initiate"
	TypePaymentVerify    = "payment:verify"
)

// Transactions still PENDING after this long get an active provider-side
// status check from the sweep.
const pendingVerifyAge = 5 * time.Minute

type InitiatePaymentPayload struct {
	TransactionID int64 `json:"transactionId"`
}

type PaymentVerifyPayload struct {
	TransactionID int64 `json:"transactionId"`
}

// PaymentService owns inbound payment initiation and status. Terminal
// transitions are delegated to the reconciler; this service only creates
// PENDING records, hands them to the async pipeline, and reads.
type PaymentService struct {
	DB         *gorm.DB
	Client     *asynq.Client
	Mpesa      *MpesaService
	Paystack   *PaystackService
	Reconciler *ReconcilerService
	Audit      *AuditService
}

func NewPaymentService(db *gorm.DB, client *asynq.Client, mpesa *MpesaService, paystack *PaystackService, reconciler *ReconcilerService, audit *AuditService) *PaymentService {
	return &PaymentService{
		DB:         db,
		Client:     client,
		Mpesa:      mpesa,
		Paystack:   paystack,
		Reconciler: reconciler,
		Audit:      audit,
	}
}

type InitiateTransactionDTO struct {
	UserID        int64
	Amount        float64
	PaymentMethod string
	PhoneNumber   string
	Email         string
	Description   string
	IPAddress     string
}

// Initiate creates a PENDING transaction and queues the provider call. The
// caller always gets the PENDING record back; initiation failures surface via
// a later status poll, never as an error here once the record exists.
func (s *PaymentService) Initiate(dto InitiateTransactionDTO) (*models.Transaction, error) {
	if dto.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", common.ErrValidation)
	}

	switch dto.PaymentMethod {
	case models.MethodMpesa:
		phone, err := SanitizeMpesaNumber(dto.PhoneNumber)
		if err != nil {
			return nil, err
		}
		dto.PhoneNumber = phone
	case models.MethodPaystack:
		if dto.Email == "" {
			return nil, fmt.Errorf("email is required for Paystack: %w", common.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("unsupported payment method %q: %w", dto.PaymentMethod, common.ErrValidation)
	}

	trx := models.Transaction{
		UserID:        dto.UserID,
		Amount:        dto.Amount,
		PaymentMethod: dto.PaymentMethod,
		Status:        models.StatusPending,
		Description:   dto.Description,
		PhoneNumber:   dto.PhoneNumber,
		Email:         dto.Email,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := createWithReference(tx, &trx, common.PrefixPayment, func(code string) { trx.ReferenceCode = code }); err != nil {
			return err
		}

		// Provider child created up front so the correlation id has a home
		// the moment the gateway assigns one.
		switch dto.PaymentMethod {
		case models.MethodMpesa:
			return tx.Create(&models.MpesaSTKRequest{TransactionID: trx.ID, Status: models.RequestInitiated}).Error
		case models.MethodPaystack:
			return tx.Create(&models.PaystackTransaction{
				TransactionID: trx.ID,
				Reference:     trx.ReferenceCode,
				Status:        models.RequestInitiated,
			}).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.InitiationsStarted.WithLabelValues("transaction", dto.PaymentMethod).Inc()
	s.Audit.Log(&dto.UserID, ActionPaymentInitiated,
		fmt.Sprintf("Payment initiated: %s - %.2f", trx.ReferenceCode, trx.Amount),
		map[string]interface{}{"transaction_id": trx.ID, "payment_method": dto.PaymentMethod},
		dto.IPAddress)

	taskType := TypeInitiateMpesaSTK
	if dto.PaymentMethod == models.MethodPaystack {
		taskType = TypeInitiatePaystack
	}
	s.enqueue(taskType, InitiatePaymentPayload{TransactionID: trx.ID}, "critical")

	return &trx, nil
}

// ProcessMpesaInitiation runs the STK push for a queued transaction. Gateway
// failure or timeout fails the transaction with a recorded reason.
func (s *PaymentService) ProcessMpesaInitiation(ctx context.Context, transactionID int64) error {
	var trx models.Transaction
	if err := s.DB.First(&trx, transactionID).Error; err != nil {
		return fmt.Errorf("transaction %d: %w", transactionID, common.ErrNotFound)
	}
	if trx.Status != models.StatusPending {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, common.DefaultTimeout)
	defer cancel()

	result, err := s.Mpesa.STKPush(ctx, trx.Amount, trx.PhoneNumber, trx.ReferenceCode)
	if err != nil {
		s.DB.Model(&models.MpesaSTKRequest{}).Where("transaction_id = ?", trx.ID).
			Update("status", models.RequestFailed)
		return s.failInitiation(&trx, err)
	}

	return s.DB.Model(&models.MpesaSTKRequest{}).Where("transaction_id = ?", trx.ID).
		Updates(map[string]interface{}{
			"checkout_request_id":  result.CheckoutRequestID,
			"merchant_request_id":  result.MerchantRequestID,
			"status":               models.RequestProcessing,
			"response_code":        result.ResponseCode,
			"response_description": result.ResponseDescription,
		}).Error
}

// ProcessPaystackInitiation runs the Paystack initialize call.
func (s *PaymentService) ProcessPaystackInitiation(ctx context.Context, transactionID int64) error {
	var trx models.Transaction
	if err := s.DB.First(&trx, transactionID).Error; err != nil {
		return fmt.Errorf("transaction %d: %w", transactionID, common.ErrNotFound)
	}
	if trx.Status != models.StatusPending {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, common.DefaultTimeout)
	defer cancel()

	result, err := s.Paystack.Initialize(ctx, trx.Email, trx.Amount, trx.ReferenceCode)
	if err != nil {
		s.DB.Model(&models.PaystackTransaction{}).Where("transaction_id = ?", trx.ID).
			Update("status", models.RequestFailed)
		return s.failInitiation(&trx, err)
	}

	return s.DB.Model(&models.PaystackTransaction{}).Where("transaction_id = ?", trx.ID).
		Updates(map[string]interface{}{
			"authorization_url": result.AuthorizationURL,
			"access_code":       result.AccessCode,
			"status":            models.RequestProcessing,
		}).Error
}

// failInitiation flips a transaction to FAILED under the row lock. A
// concurrent callback that already settled the record wins; the redundant
// failure is dropped.
func (s *PaymentService) failInitiation(trx *models.Transaction, cause error) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var current models.Transaction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, trx.ID).Error; err != nil {
			return err
		}
		apply, err := models.CheckTransition(current.Status, models.StatusFailed)
		if err != nil || !apply {
			return nil
		}
		return tx.Model(&models.Transaction{}).Where("id = ?", trx.ID).Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"failed_reason": cause.Error(),
		}).Error
	})
	if err != nil {
		return err
	}

	s.Audit.Log(&trx.UserID, ActionPaymentFailed,
		fmt.Sprintf("Payment failed: %s - %s", trx.ReferenceCode, cause.Error()),
		map[string]interface{}{"transaction_id": trx.ID}, "")
	log.Printf("payment %s initiation failed: %v", trx.ReferenceCode, cause)
	return nil
}

// TransactionStatus is a transaction plus its provider-side sub-status.
type TransactionStatus struct {
	Transaction models.Transaction          `json:"transaction"`
	MpesaStatus *models.MpesaSTKRequest     `json:"mpesa_status,omitempty"`
	Paystack    *models.PaystackTransaction `json:"paystack_status,omitempty"`
}

// GetByReference returns a transaction and its provider request by reference
// code.
func (s *PaymentService) GetByReference(referenceCode string) (*TransactionStatus, error) {
	var trx models.Transaction
	err := s.DB.Where("reference_code = ?", referenceCode).First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", referenceCode, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	status := TransactionStatus{Transaction: trx}
	switch trx.PaymentMethod {
	case models.MethodMpesa:
		var stk models.MpesaSTKRequest
		if err := s.DB.Where("transaction_id = ?", trx.ID).First(&stk).Error; err == nil {
			status.MpesaStatus = &stk
		}
	case models.MethodPaystack:
		var ptx models.PaystackTransaction
		if err := s.DB.Where("transaction_id = ?", trx.ID).First(&ptx).Error; err == nil {
			status.Paystack = &ptx
		}
	}
	return &status, nil
}

// List returns transactions newest first, optionally scoped to one user.
func (s *PaymentService) List(userID *int64, page, limit int) (common.PaginationResult, error) {
	page, limit = common.NormalizePage(page, limit)

	query := s.DB.Model(&models.Transaction{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var transactions []models.Transaction
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return common.PaginationResult{}, err
	}
	return common.PaginateResponse(transactions, total, page, limit, ""), nil
}

type TransactionSummary struct {
	TotalAmount           float64 `json:"total_amount"`
	TotalTransactions     int64   `json:"total_transactions"`
	CompletedTransactions int64   `json:"completed_transactions"`
	PendingTransactions   int64   `json:"pending_transactions"`
	FailedTransactions    int64   `json:"failed_transactions"`
}

// Summary aggregates transaction counts and the completed total, optionally
// scoped to one user.
func (s *PaymentService) Summary(userID *int64) (*TransactionSummary, error) {
	scoped := func() *gorm.DB {
		q := s.DB.Model(&models.Transaction{})
		if userID != nil {
			q = q.Where("user_id = ?", *userID)
		}
		return q
	}

	var summary TransactionSummary
	row := scoped().Where("status = ?", models.StatusCompleted).
		Select("COALESCE(SUM(amount), 0)").Row()
	if err := row.Scan(&summary.TotalAmount); err != nil {
		return nil, err
	}

	counts := map[string]*int64{
		models.StatusCompleted: &summary.CompletedTransactions,
		models.StatusPending:   &summary.PendingTransactions,
		models.StatusFailed:    &summary.FailedTransactions,
	}
	for status, dest := range counts {
		if err := scoped().Where("status = ?", status).Count(dest).Error; err != nil {
			return nil, err
		}
	}
	if err := scoped().Count(&summary.TotalTransactions).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

// Cancel moves a PENDING transaction to CANCELLED. Administrative only; the
// callback paths can never reach this state.
func (s *PaymentService) Cancel(referenceCode string, actorID int64) (*models.Transaction, error) {
	var trx models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference_code = ?", referenceCode).First(&trx).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("transaction %s: %w", referenceCode, common.ErrNotFound)
		}
		if err != nil {
			return err
		}

		apply, err := models.CheckTransition(trx.Status, models.StatusCancelled)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", referenceCode, err)
		}
		if !apply {
			return nil
		}

		trx.Status = models.StatusCancelled
		return tx.Model(&models.Transaction{}).Where("id = ?", trx.ID).
			Update("status", models.StatusCancelled).Error
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Log(&actorID, ActionPaymentCancelled,
		fmt.Sprintf("Payment cancelled: %s", trx.ReferenceCode),
		map[string]interface{}{"transaction_id": trx.ID}, "")
	return &trx, nil
}

// VerifyTransaction actively checks a transaction against its provider and
// applies a determinate outcome through the reconciler. Indeterminate
// provider states leave the record PENDING.
func (s *PaymentService) VerifyTransaction(ctx context.Context, transactionID int64) error {
	var trx models.Transaction
	if err := s.DB.First(&trx, transactionID).Error; err != nil {
		return fmt.Errorf("transaction %d: %w", transactionID, common.ErrNotFound)
	}
	if models.IsTerminalStatus(trx.Status) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, common.DefaultTimeout)
	defer cancel()

	switch trx.PaymentMethod {
	case models.MethodMpesa:
		var stk models.MpesaSTKRequest
		if err := s.DB.Where("transaction_id = ?", trx.ID).First(&stk).Error; err != nil || stk.CheckoutRequestID == nil {
			return nil
		}
		result, err := s.Mpesa.STKQuery(ctx, *stk.CheckoutRequestID)
		if err != nil {
			return err
		}
		raw, _ := json.Marshal(result)
		switch result.ResultCode {
		case "0":
			_, err = s.Reconciler.ReconcileProviderVerify(&trx, models.StatusCompleted, result.ResultDesc, raw)
		case "1032", "1037":
			// 1032: cancelled by user; 1037: no response from phone.
			_, err = s.Reconciler.ReconcileProviderVerify(&trx, models.StatusFailed, result.ResultDesc, raw)
		}
		return err

	case models.MethodPaystack:
		result, err := s.Paystack.Verify(ctx, trx.ReferenceCode)
		if err != nil {
			return err
		}
		raw, _ := json.Marshal(result)
		switch result.Status {
		case "success":
			_, err = s.Reconciler.ReconcileProviderVerify(&trx, models.StatusCompleted, result.GatewayResponse, raw)
		case "failed":
			_, err = s.Reconciler.ReconcileProviderVerify(&trx, models.StatusFailed, result.GatewayResponse, raw)
		}
		return err
	}
	return nil
}

// StartScheduler queues a provider-side status check for every stale PENDING
// transaction every 10 minutes. Covers callbacks that never arrived.
func (s *PaymentService) StartScheduler() {
	c := cron.New()
	_, err := c.AddFunc("*/10 * * * *", func() {
		if err := s.SweepPending(); err != nil {
			log.Printf("pending payment sweep: %v", err)
		}
	})
	if err != nil {
		log.Printf("failed to schedule pending payment sweep: %v", err)
		return
	}
	c.Start()
	log.Println("PaymentService scheduler started (every 10 minutes)")
}

// SweepPending enqueues verification tasks for PENDING transactions older
// than the verify age.
func (s *PaymentService) SweepPending() error {
	var stale []models.Transaction
	cutoff := time.Now().Add(-pendingVerifyAge)
	err := s.DB.Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Limit(100).
		Find(&stale).Error
	if err != nil {
		return err
	}

	for _, trx := range stale {
		s.enqueue(TypePaymentVerify, PaymentVerifyPayload{TransactionID: trx.ID}, "low")
	}
	if len(stale) > 0 {
		log.Printf("queued %d pending transactions for provider verification", len(stale))
	}
	return nil
}

func (s *PaymentService) enqueue(taskType string, payload interface{}, queue string) {
	if s.Client == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal %s payload: %v", taskType, err)
		return
	}
	if _, err := s.Client.Enqueue(asynq.NewTask(taskType, data), asynq.Queue(queue)); err != nil {
		log.Printf("enqueue %s: %v", taskType, err)
	}
}

// createWithReference creates a record with a fresh reference code, retrying
// on the (rare) unique-constraint collision.
func createWithReference(tx *gorm.DB, record interface{}, prefix string, assign func(code string)) error {
	var err error
	for attempt := 0; attempt < refCreateAttempts; attempt++ {
		assign(common.GenerateReferenceCode(prefix))
		err = tx.Create(record).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return fmt.Errorf("reference collision after %d attempts: %w", refCreateAttempts, err)
}
