package models

import (
	"time"

	"gorm.io/gorm"

	"payments-service/pkg/common"
)

// Transaction is one attempt to collect money from a user through M-Pesa or
// Paystack. Created PENDING; mutated only by the initiation worker and the
// callback reconciler; never deleted.
type Transaction struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            int64      `gorm:"column:user_id;not null;index:idx_trx_user_status" json:"user_id"`
	ReferenceCode     string     `gorm:"column:reference_code;size:20;not null;uniqueIndex" json:"reference_code"`
	ProviderReference *string    `gorm:"column:provider_reference;size:100" json:"provider_reference"`
	Amount            float64    `gorm:"column:amount;type:decimal(12,2);not null" json:"amount"`
	PaymentMethod     string     `gorm:"column:payment_method;size:20;not null" json:"payment_method"`
	Status            string     `gorm:"column:status;size:20;not null;default:PENDING;index;index:idx_trx_user_status" json:"status"`
	Description       string     `gorm:"column:description;type:text" json:"description"`
	PhoneNumber       string     `gorm:"column:phone_number;size:15" json:"phone_number"`
	Email             string     `gorm:"column:email;size:255" json:"email"`
	CallbackData      string     `gorm:"column:callback_data;type:longtext" json:"callback_data"`
	CompletedAt       *time.Time `gorm:"column:completed_at" json:"completed_at"`
	FailedReason      *string    `gorm:"column:failed_reason;type:text" json:"failed_reason"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// BeforeDelete blocks deletion at the storage boundary. Payment records are
// kept forever.
func (Transaction) BeforeDelete(tx *gorm.DB) error {
	return common.ErrImmutableRecord
}
