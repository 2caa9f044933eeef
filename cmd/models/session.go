package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SessionCreated    = "created"
	SessionReady      = "ready"
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionRefunded   = "refunded"
)

// Session is the billable record behind a scheduled consultation.
// It is created once the two parties agree on a time; billing runs
// against it at completion.
type Session struct {
	gorm.Model
	RequestID    uint      `gorm:"column:request_id;not null;uniqueIndex" json:"request_id"`
	RequesterID  uint      `gorm:"column:requester_id;not null;index" json:"requester_id"`
	ConsultantID uint      `gorm:"column:consultant_id;not null;index" json:"consultant_id"`
	ScheduledAt  time.Time `gorm:"column:scheduled_at;not null" json:"scheduled_at"`
	Status       string    `gorm:"column:status;size:50;not null;default:created" json:"status"`

	MeetingRef    string     `gorm:"column:meeting_ref;size:255" json:"meeting_ref,omitempty"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at"`
	EndedAt       *time.Time `gorm:"column:ended_at" json:"ended_at"`
	Minutes       int        `gorm:"column:minutes;default:0" json:"minutes"`
	ChargedTokens int64      `gorm:"column:charged_tokens;default:0" json:"charged_tokens"`

	Request    *ConsultationRequest `gorm:"foreignKey:RequestID" json:"request,omitempty"`
	Consultant *Consultant          `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
}

func (Session) TableName() string {
	return "sessions"
}
