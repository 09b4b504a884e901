package models

import (
	"time"
)

// Minimal document records for the verification boundary. Full quote,
// contract and invoice management lives in the portal backend; this service
// only needs enough to answer "is this reference code a real document".

type Quote struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceCode string    `gorm:"column:reference_code;size:20;not null;uniqueIndex" json:"reference_code"`
	IssuedBy      string    `gorm:"column:issued_by;size:150" json:"issued_by"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Quote) TableName() string {
	return "quotes"
}

type Contract struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceCode string     `gorm:"column:reference_code;size:20;not null;uniqueIndex" json:"reference_code"`
	Status        string     `gorm:"column:status;size:20;not null;default:DRAFT" json:"status"`
	IssuedBy      string     `gorm:"column:issued_by;size:150" json:"issued_by"`
	SignedAt      *time.Time `gorm:"column:signed_at" json:"signed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Contract) TableName() string {
	return "contracts"
}

// ContractSigned is the only contract status that verifies.
const ContractSigned = "SIGNED"

type Invoice struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceCode string    `gorm:"column:reference_code;size:20;not null;uniqueIndex" json:"reference_code"`
	IssuedBy      string    `gorm:"column:issued_by;size:150" json:"issued_by"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}
