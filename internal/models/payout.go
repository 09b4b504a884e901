package models

import (
	"time"

	"gorm.io/gorm"

	"payments-service/pkg/common"
)

// Payout is an outbound M-Pesa B2C disbursement initiated by an admin.
// PENDING until the provider accepts the request (conversation id assigned),
// then PROCESSING until the async result callback settles it.
type Payout struct {
	ID                       int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AdminUserID              int64      `gorm:"column:admin_user_id;not null;index:idx_payout_admin_status" json:"admin_user_id"`
	ReferenceCode            string     `gorm:"column:reference_code;size:20;not null;uniqueIndex" json:"reference_code"`
	ProviderReference        *string    `gorm:"column:provider_reference;size:100" json:"provider_reference"`
	RecipientName            string     `gorm:"column:recipient_name;size:100;not null" json:"recipient_name"`
	RecipientPhone           string     `gorm:"column:recipient_phone;size:15;not null" json:"recipient_phone"`
	Amount                   float64    `gorm:"column:amount;type:decimal(12,2);not null" json:"amount"`
	Reason                   string     `gorm:"column:reason;type:text" json:"reason"`
	Status                   string     `gorm:"column:status;size:20;not null;default:PENDING;index;index:idx_payout_admin_status" json:"status"`
	ConversationID           *string    `gorm:"column:conversation_id;size:100" json:"conversation_id"`
	OriginatorConversationID *string    `gorm:"column:originator_conversation_id;size:100" json:"originator_conversation_id"`
	CallbackData             string     `gorm:"column:callback_data;type:longtext" json:"callback_data"`
	CompletedAt              *time.Time `gorm:"column:completed_at" json:"completed_at"`
	FailedReason             *string    `gorm:"column:failed_reason;type:text" json:"failed_reason"`
	CreatedAt                time.Time  `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Payout) TableName() string {
	return "payouts"
}

func (Payout) BeforeDelete(tx *gorm.DB) error {
	return common.ErrImmutableRecord
}
