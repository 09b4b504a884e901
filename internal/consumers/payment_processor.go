package consumers

import (
	"context"
	"log"

	"payments-service/internal/services"

	"gorm.io/gorm"
)

// PaymentProcessor executes queued payment work. It is a thin shim over the
// services so the worker binary shares all state-machine logic with the API.
type PaymentProcessor struct {
	DB             *gorm.DB
	PaymentService *services.PaymentService
	PayoutService  *services.PayoutService
	AuditService   *services.AuditService
}

func NewPaymentProcessor(db *gorm.DB, paymentService *services.PaymentService, payoutService *services.PayoutService, auditService *services.AuditService) *PaymentProcessor {
	return &PaymentProcessor{
		DB:             db,
		PaymentService: paymentService,
		PayoutService:  payoutService,
		AuditService:   auditService,
	}
}

// --- DTOs ---

type InitiatePaymentDTO struct {
	TransactionID int64 `json:"transactionId"`
}

type InitiatePayoutDTO struct {
	PayoutID int64 `json:"payoutId"`
}

type PaymentVerifyDTO struct {
	TransactionID int64 `json:"transactionId"`
}

type AuditLogDTO = services.AuditLogPayload

// --- Handlers ---

func (p *PaymentProcessor) ProcessMpesaSTK(ctx context.Context, dto InitiatePaymentDTO) error {
	if err := p.PaymentService.ProcessMpesaInitiation(ctx, dto.TransactionID); err != nil {
		log.Printf("mpesa stk initiation for transaction %d: %v", dto.TransactionID, err)
		return err
	}
	return nil
}

func (p *PaymentProcessor) ProcessPaystack(ctx context.Context, dto InitiatePaymentDTO) error {
	if err := p.PaymentService.ProcessPaystackInitiation(ctx, dto.TransactionID); err != nil {
		log.Printf("paystack initiation for transaction %d: %v", dto.TransactionID, err)
		return err
	}
	return nil
}

func (p *PaymentProcessor) ProcessB2C(ctx context.Context, dto InitiatePayoutDTO) error {
	if err := p.PayoutService.ProcessB2CInitiation(ctx, dto.PayoutID); err != nil {
		log.Printf("b2c initiation for payout %d: %v", dto.PayoutID, err)
		return err
	}
	return nil
}

func (p *PaymentProcessor) ProcessVerify(ctx context.Context, dto PaymentVerifyDTO) error {
	if err := p.PaymentService.VerifyTransaction(ctx, dto.TransactionID); err != nil {
		log.Printf("verify transaction %d: %v", dto.TransactionID, err)
		return err
	}
	return nil
}

func (p *PaymentProcessor) ProcessAuditLog(dto AuditLogDTO) {
	p.AuditService.Write(dto)
}
