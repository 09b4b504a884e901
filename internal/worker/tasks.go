package worker

import (
	"encoding/json"

	"payments-service/internal/consumers"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeInitiateMpesaSTK = "mpesa:initiate-stk"
	TypeInitiatePaystack = "paystack:initiate"
	TypeInitiateB2C      = "payout:initiate-b2c"
	TypePaymentVerify    = "payment:verify"
	TypeAuditLog         = "audit:log"
)

// Task Creators

func NewInitiateMpesaSTKTask(payload consumers.InitiatePaymentDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInitiateMpesaSTK, data), nil
}

func NewInitiatePaystackTask(payload consumers.InitiatePaymentDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInitiatePaystack, data), nil
}

func NewInitiateB2CTask(payload consumers.InitiatePayoutDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInitiateB2C, data), nil
}

func NewPaymentVerifyTask(payload consumers.PaymentVerifyDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentVerify, data), nil
}

func NewAuditLogTask(payload consumers.AuditLogDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAuditLog, data), nil
}
