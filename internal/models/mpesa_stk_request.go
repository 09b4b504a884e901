package models

import (
	"time"
)

// Provider-side sub-statuses on the request child records. These track the
// provider leg independently of the parent's business status, because the
// correlation id arrives before the final result does.
const (
	RequestInitiated  = "INITIATED"
	RequestProcessing = "PROCESSING"
	RequestCompleted  = "COMPLETED"
	RequestFailed     = "FAILED"
	RequestTimedOut   = "TIMED_OUT"
)

// MpesaSTKRequest is the one-to-one provider child of an M-Pesa Transaction.
// The checkout request id is the correlation key for STK callbacks.
type MpesaSTKRequest struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID       int64     `gorm:"column:transaction_id;not null;uniqueIndex" json:"transaction_id"`
	CheckoutRequestID   *string   `gorm:"column:checkout_request_id;size:100;uniqueIndex" json:"checkout_request_id"`
	MerchantRequestID   *string   `gorm:"column:merchant_request_id;size:100" json:"merchant_request_id"`
	Status              string    `gorm:"column:status;size:20;not null;default:INITIATED" json:"status"`
	ResponseCode        *string   `gorm:"column:response_code;size:20" json:"response_code"`
	ResponseDescription *string   `gorm:"column:response_description;type:text" json:"response_description"`
	ResultCode          *string   `gorm:"column:result_code;size:20" json:"result_code"`
	ResultDesc          *string   `gorm:"column:result_desc;type:text" json:"result_desc"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (MpesaSTKRequest) TableName() string {
	return "mpesa_stk_requests"
}
