package models

import (
	"time"

	"github.com/google/uuid"
)

// One request that went through the admission filter
type AdmissionLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	RequestID      uuid.UUID `gorm:"type:uuid" json:"request_id"`
	CallerKey      string    `gorm:"index;not null" json:"caller_key"`
	Method         string    `json:"method"`
	Path           string    `gorm:"index" json:"path"`
	Allowed        bool      `gorm:"index" json:"allowed"`
	TierLimit      int       `json:"tier_limit"`
	ActiveCount    int       `json:"active_count"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
}

func (AdmissionLog) TableName() string {
	return "admission_logs"
}
