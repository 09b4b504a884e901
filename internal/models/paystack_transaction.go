package models

import (
	"time"
)

// PaystackTransaction is the one-to-one provider child of a Paystack
// Transaction. The reference (reused from the parent's reference code) is the
// correlation key for webhooks and manual verification.
type PaystackTransaction struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID    int64      `gorm:"column:transaction_id;not null;uniqueIndex" json:"transaction_id"`
	Reference        string     `gorm:"column:reference;size:100;not null;uniqueIndex" json:"reference"`
	AuthorizationURL *string    `gorm:"column:authorization_url;size:500" json:"authorization_url"`
	AccessCode       *string    `gorm:"column:access_code;size:100" json:"access_code"`
	Status           string     `gorm:"column:status;size:20;not null;default:INITIATED" json:"status"`
	GatewayResponse  *string    `gorm:"column:gateway_response;type:text" json:"gateway_response"`
	PaidAt           *time.Time `gorm:"column:paid_at" json:"paid_at"`
	Channel          *string    `gorm:"column:channel;size:50" json:"channel"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PaystackTransaction) TableName() string {
	return "paystack_transactions"
}
