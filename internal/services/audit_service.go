package services

import (
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"payments-service/internal/models"
)

// Task type (mirrored in worker/tasks.go to avoid an import cycle).
const TypeAuditLog = "audit:log"

// Audit actions recorded by this service.
const (
	ActionPaymentInitiated  = "PAYMENT_INITIATED"
	ActionPaymentCompleted  = "PAYMENT_COMPLETED"
	ActionPaymentFailed     = "PAYMENT_FAILED"
	ActionPaymentCancelled  = "PAYMENT_CANCELLED"
	ActionPayoutInitiated   = "PAYOUT_INITIATED"
	ActionPayoutCompleted   = "PAYOUT_COMPLETED"
	ActionPayoutFailed      = "PAYOUT_FAILED"
	ActionPayoutCancelled   = "PAYOUT_CANCELLED"
	ActionDocumentVerified  = "DOCUMENT_VERIFIED"
	ActionVerificationMiss  = "DOCUMENT_VERIFICATION_FAILED"
	ActionCallbackAnomaly   = "CALLBACK_ANOMALY"
	ActionCallbackConflict  = "CALLBACK_CONFLICT"
)

type AuditLogPayload struct {
	ActorID     *int64                 `json:"actorId"`
	Action      string                 `json:"action"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
	IPAddress   string                 `json:"ipAddress"`
}

// AuditService dispatches audit facts to the background queue. Best effort:
// a full queue or a down broker never fails the business operation.
type AuditService struct {
	DB     *gorm.DB
	Client *asynq.Client
}

func NewAuditService(db *gorm.DB, client *asynq.Client) *AuditService {
	return &AuditService{DB: db, Client: client}
}

// Log enqueues an audit record, falling back to a direct write when no queue
// client is wired (worker process, tests).
func (s *AuditService) Log(actorID *int64, action, description string, metadata map[string]interface{}, ip string) {
	payload := AuditLogPayload{
		ActorID:     actorID,
		Action:      action,
		Description: description,
		Metadata:    metadata,
		IPAddress:   ip,
	}

	if s.Client != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			if _, err = s.Client.Enqueue(asynq.NewTask(TypeAuditLog, data), asynq.Queue("low")); err == nil {
				return
			}
		}
		log.Printf("audit enqueue failed, writing directly: %v", err)
	}

	s.Write(payload)
}

// Write persists an audit record. Called by the worker consumer and as the
// enqueue fallback.
func (s *AuditService) Write(payload AuditLogPayload) {
	meta := ""
	if payload.Metadata != nil {
		if b, err := json.Marshal(payload.Metadata); err == nil {
			meta = string(b)
		}
	}

	entry := models.AuditLog{
		ActorID:     payload.ActorID,
		Action:      payload.Action,
		Description: payload.Description,
		Metadata:    meta,
		IPAddress:   payload.IPAddress,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		log.Printf("audit write failed (%s): %v", payload.Action, err)
	}
}
