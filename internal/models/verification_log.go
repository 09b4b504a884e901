package models

import (
	"time"
)

// VerificationLog records every public document-verification attempt,
// valid or not.
type VerificationLog struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentCode string    `gorm:"column:document_code;size:20;not null;index" json:"document_code"`
	DocumentType string    `gorm:"column:document_type;size:50" json:"document_type"`
	IPAddress    string    `gorm:"column:ip_address;size:45" json:"ip_address"`
	IsValid      bool      `gorm:"column:is_valid;not null" json:"is_valid"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (VerificationLog) TableName() string {
	return "verification_logs"
}
