package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payments-service/internal/metrics"
	"payments-service/internal/models"
	"payments-service/pkg/common"
)

// Task type (mirrored in worker/tasks.go to avoid an import cycle).
const TypeInitiateB2C = "payout:initiate-b2c"

type InitiatePayoutPayload struct {
	PayoutID int64 `json:"payoutId"`
}

// PayoutService owns outbound disbursements. Like payments, it only creates
// PENDING records and moves them to PROCESSING on provider acceptance;
// settlement belongs to the reconciler.
type PayoutService struct {
	DB     *gorm.DB
	Client *asynq.Client
	Mpesa  *MpesaService
	Audit  *AuditService
}

func NewPayoutService(db *gorm.DB, client *asynq.Client, mpesa *MpesaService, audit *AuditService) *PayoutService {
	return &PayoutService{DB: db, Client: client, Mpesa: mpesa, Audit: audit}
}

type InitiatePayoutDTO struct {
	AdminUserID    int64
	RecipientName  string
	RecipientPhone string
	Amount         float64
	Reason         string
	IPAddress      string
}

// Initiate creates a PENDING payout with its B2C request child and queues the
// disbursement. The originator conversation id is assigned locally so result
// callbacks can be correlated even before the provider echoes its own.
func (s *PayoutService) Initiate(dto InitiatePayoutDTO) (*models.Payout, error) {
	if dto.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", common.ErrValidation)
	}
	if dto.RecipientName == "" {
		return nil, fmt.Errorf("recipient name is required: %w", common.ErrValidation)
	}
	phone, err := SanitizeMpesaNumber(dto.RecipientPhone)
	if err != nil {
		return nil, err
	}

	payout := models.Payout{
		AdminUserID:    dto.AdminUserID,
		RecipientName:  dto.RecipientName,
		RecipientPhone: phone,
		Amount:         dto.Amount,
		Reason:         dto.Reason,
		Status:         models.StatusPending,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := createWithReference(tx, &payout, common.PrefixPayout, func(code string) { payout.ReferenceCode = code }); err != nil {
			return err
		}
		originator := uuid.NewString()
		return tx.Create(&models.PayoutRequest{
			PayoutID:                 payout.ID,
			OriginatorConversationID: &originator,
			Status:                   models.RequestInitiated,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.InitiationsStarted.WithLabelValues("payout", models.MethodMpesa).Inc()
	s.Audit.Log(&dto.AdminUserID, ActionPayoutInitiated,
		fmt.Sprintf("Payout initiated: %s - %.2f to %s", payout.ReferenceCode, payout.Amount, payout.RecipientName),
		map[string]interface{}{"payout_id": payout.ID}, dto.IPAddress)

	s.enqueue(TypeInitiateB2C, InitiatePayoutPayload{PayoutID: payout.ID}, "critical")
	return &payout, nil
}

// ProcessB2CInitiation submits the disbursement to the provider. Acceptance
// moves the payout to PROCESSING; rejection or a gateway failure fails it.
func (s *PayoutService) ProcessB2CInitiation(ctx context.Context, payoutID int64) error {
	var payout models.Payout
	if err := s.DB.First(&payout, payoutID).Error; err != nil {
		return fmt.Errorf("payout %d: %w", payoutID, common.ErrNotFound)
	}
	if payout.Status != models.StatusPending {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, common.DefaultTimeout)
	defer cancel()

	result, err := s.Mpesa.B2CRequest(ctx, payout.Amount, payout.RecipientPhone, payout.Reason)
	if err != nil {
		s.DB.Model(&models.PayoutRequest{}).Where("payout_id = ?", payout.ID).
			Update("status", models.RequestFailed)
		return s.failInitiation(&payout, err)
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"conversation_id":      result.ConversationID,
			"status":               models.RequestProcessing,
			"response_code":        result.ResponseCode,
			"response_description": result.ResponseDescription,
		}
		// Daraja assigns its own originator id; prefer it for correlation.
		if result.OriginatorConversationID != "" {
			updates["originator_conversation_id"] = result.OriginatorConversationID
		}
		if err := tx.Model(&models.PayoutRequest{}).Where("payout_id = ?", payout.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		var current models.Payout
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, payout.ID).Error; err != nil {
			return err
		}
		apply, err := models.CheckTransition(current.Status, models.StatusProcessing)
		if err != nil || !apply {
			return nil
		}
		return tx.Model(&models.Payout{}).Where("id = ?", payout.ID).Updates(map[string]interface{}{
			"status":                     models.StatusProcessing,
			"conversation_id":            result.ConversationID,
			"originator_conversation_id": result.OriginatorConversationID,
		}).Error
	})
}

func (s *PayoutService) failInitiation(payout *models.Payout, cause error) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var current models.Payout
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, payout.ID).Error; err != nil {
			return err
		}
		apply, err := models.CheckTransition(current.Status, models.StatusFailed)
		if err != nil || !apply {
			return nil
		}
		return tx.Model(&models.Payout{}).Where("id = ?", payout.ID).Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"failed_reason": cause.Error(),
		}).Error
	})
	if err != nil {
		return err
	}

	s.Audit.Log(&payout.AdminUserID, ActionPayoutFailed,
		fmt.Sprintf("Payout failed: %s - %s", payout.ReferenceCode, cause.Error()),
		map[string]interface{}{"payout_id": payout.ID}, "")
	log.Printf("payout %s initiation failed: %v", payout.ReferenceCode, cause)
	return nil
}

// PayoutStatus is a payout plus its B2C request sub-status.
type PayoutStatus struct {
	Payout  models.Payout         `json:"payout"`
	Request *models.PayoutRequest `json:"b2c_request,omitempty"`
}

func (s *PayoutService) GetByReference(referenceCode string) (*PayoutStatus, error) {
	var payout models.Payout
	err := s.DB.Where("reference_code = ?", referenceCode).First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payout %s: %w", referenceCode, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	status := PayoutStatus{Payout: payout}
	var req models.PayoutRequest
	if err := s.DB.Where("payout_id = ?", payout.ID).First(&req).Error; err == nil {
		status.Request = &req
	}
	return &status, nil
}

func (s *PayoutService) List(page, limit int) (common.PaginationResult, error) {
	page, limit = common.NormalizePage(page, limit)

	var total int64
	if err := s.DB.Model(&models.Payout{}).Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var payouts []models.Payout
	err := s.DB.Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&payouts).Error
	if err != nil {
		return common.PaginationResult{}, err
	}
	return common.PaginateResponse(payouts, total, page, limit, ""), nil
}

type PayoutSummary struct {
	TotalAmount      float64 `json:"total_amount"`
	TotalPayouts     int64   `json:"total_payouts"`
	CompletedPayouts int64   `json:"completed_payouts"`
	PendingPayouts   int64   `json:"pending_payouts"`
	FailedPayouts    int64   `json:"failed_payouts"`
}

func (s *PayoutService) Summary() (*PayoutSummary, error) {
	var summary PayoutSummary
	row := s.DB.Model(&models.Payout{}).Where("status = ?", models.StatusCompleted).
		Select("COALESCE(SUM(amount), 0)").Row()
	if err := row.Scan(&summary.TotalAmount); err != nil {
		return nil, err
	}

	counts := map[string]*int64{
		models.StatusCompleted: &summary.CompletedPayouts,
		models.StatusPending:   &summary.PendingPayouts,
		models.StatusFailed:    &summary.FailedPayouts,
	}
	for status, dest := range counts {
		if err := s.DB.Model(&models.Payout{}).Where("status = ?", status).Count(dest).Error; err != nil {
			return nil, err
		}
	}
	if err := s.DB.Model(&models.Payout{}).Count(&summary.TotalPayouts).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

// Cancel moves a PENDING payout to CANCELLED. A payout that already reached
// PROCESSING cannot be cancelled: the provider may already be moving money.
func (s *PayoutService) Cancel(referenceCode string, actorID int64) (*models.Payout, error) {
	var payout models.Payout
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference_code = ?", referenceCode).First(&payout).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("payout %s: %w", referenceCode, common.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if payout.Status == models.StatusProcessing {
			return fmt.Errorf("payout %s already processing: %w", referenceCode, common.ErrInvalidStateTransition)
		}
		apply, err := models.CheckTransition(payout.Status, models.StatusCancelled)
		if err != nil {
			return fmt.Errorf("payout %s: %w", referenceCode, err)
		}
		if !apply {
			return nil
		}

		payout.Status = models.StatusCancelled
		return tx.Model(&models.Payout{}).Where("id = ?", payout.ID).
			Update("status", models.StatusCancelled).Error
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Log(&actorID, ActionPayoutCancelled,
		fmt.Sprintf("Payout cancelled: %s", payout.ReferenceCode),
		map[string]interface{}{"payout_id": payout.ID}, "")
	return &payout, nil
}

func (s *PayoutService) enqueue(taskType string, payload interface{}, queue string) {
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
