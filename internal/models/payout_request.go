package models

import (
	"time"
)

// PayoutRequest is the one-to-one B2C child of a Payout. The originator
// conversation id is the correlation key for B2C result and timeout callbacks.
type PayoutRequest struct {
	ID                       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PayoutID                 int64     `gorm:"column:payout_id;not null;uniqueIndex" json:"payout_id"`
	ConversationID           *string   `gorm:"column:conversation_id;size:100" json:"conversation_id"`
	OriginatorConversationID *string   `gorm:"column:originator_conversation_id;size:100;uniqueIndex" json:"originator_conversation_id"`
	Status                   string    `gorm:"column:status;size:20;not null;default:INITIATED" json:"status"`
	ResponseCode             *string   `gorm:"column:response_code;size:20" json:"response_code"`
	ResponseDescription      *string   `gorm:"column:response_description;type:text" json:"response_description"`
	ResultCode               *string   `gorm:"column:result_code;size:20" json:"result_code"`
	ResultDesc               *string   `gorm:"column:result_desc;type:text" json:"result_desc"`
	CreatedAt                time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PayoutRequest) TableName() string {
	return "payout_requests"
}
