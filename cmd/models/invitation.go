package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

// Invitation is a directed offer of one request to one consultant.
// Once it leaves pending it is immutable.
type Invitation struct {
	gorm.Model
	RequestID    uint   `gorm:"column:request_id;not null;index" json:"request_id"`
	ConsultantID uint   `gorm:"column:consultant_id;not null;index" json:"consultant_id"`
	InviterID    uint   `gorm:"column:inviter_id;not null" json:"inviter_id"`
	Status       string `gorm:"column:status;size:50;not null;default:pending;index" json:"status"`

	Surge         bool    `gorm:"column:surge;default:false" json:"surge"`
	PayMultiplier float64 `gorm:"column:pay_multiplier;not null;default:1" json:"pay_multiplier"`

	InvitedAt   time.Time  `gorm:"column:invited_at;not null" json:"invited_at"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null;index" json:"expires_at"`
	RespondedAt *time.Time `gorm:"column:responded_at" json:"responded_at"`

	DeclineReason   string     `gorm:"column:decline_reason;type:text" json:"decline_reason,omitempty"`
	ProposedTime    *time.Time `gorm:"column:proposed_time" json:"proposed_time,omitempty"`
	ProposalMessage string     `gorm:"column:proposal_message;type:text" json:"proposal_message,omitempty"`

	Request    *ConsultationRequest `gorm:"foreignKey:RequestID" json:"request,omitempty"`
	Consultant *Consultant          `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
}

func (Invitation) TableName() string {
	return "invitations"
}
