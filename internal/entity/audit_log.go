package entity

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AuditStatusSuccess = "success"
	AuditStatusError   = "error"
)

// AuditLogEntry records one pipeline stage outcome. Entries are append-only.
type AuditLogEntry struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Stage        string         `gorm:"not null" json:"stage"`
	Status       string         `gorm:"not null" json:"status"`
	Payload      datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	NextStage    string         `json:"next_stage,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    time.Time      `gorm:"not null;index" json:"timestamp"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log_entries"
}
