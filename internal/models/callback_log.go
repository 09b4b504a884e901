package models

import (
	"time"
)

// CallbackLog records every inbound provider callback verbatim, including the
// ones that matched nothing. Anomalies (unknown correlation ids, conflicting
// redeliveries) are investigated from here.
type CallbackLog struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider      string    `gorm:"column:provider;size:50;not null;index" json:"provider"`
	CorrelationID string    `gorm:"column:correlation_id;size:100;index" json:"correlation_id"`
	Payload       string    `gorm:"column:payload;type:longtext" json:"payload"`
	Outcome       string    `gorm:"column:outcome;size:255" json:"outcome"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (CallbackLog) TableName() string {
	return "callback_logs"
}
