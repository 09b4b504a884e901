package models

import (
	"time"
)

// AuditLog rows are written by the audit worker, fire-and-forget from the
// caller's point of view. ActorID is nil for system- or provider-driven
// actions.
type AuditLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID     *int64    `gorm:"column:actor_id;index" json:"actor_id"`
	Action      string    `gorm:"column:action;size:100;not null;index" json:"action"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	Metadata    string    `gorm:"column:metadata;type:longtext" json:"metadata"`
	IPAddress   string    `gorm:"column:ip_address;size:45" json:"ip_address"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
