package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	RequestPending             = "pending"
	RequestMatching            = "matching"
	RequestInvited             = "invited"
	RequestMatched             = "matched"
	RequestTimeProposed        = "time_proposed"
	RequestTimeCounterProposed = "time_counter_proposed"
	RequestScheduled           = "scheduled"
	RequestReady               = "ready"
	RequestInProgress          = "in_progress"
	RequestCompleted           = "completed"
	RequestCancelled           = "cancelled"
)

// RequestTerminal reports whether a request status admits no further
// transitions.
func RequestTerminal(status string) bool {
	return status == RequestCompleted || status == RequestCancelled
}

type ConsultationRequest struct {
	gorm.Model
	RequesterID  uint           `gorm:"column:requester_id;not null;index" json:"requester_id"`
	Problem      string         `gorm:"column:problem;type:text;not null" json:"problem"`
	RequiredTags pq.StringArray `gorm:"column:required_tags;type:text[]" json:"required_tags"`
	ErrorLog     string         `gorm:"column:error_log;type:text" json:"error_log"`
	Status       string         `gorm:"column:status;size:50;not null;default:pending;index" json:"status"`

	MatchedConsultantID *uint         `gorm:"column:matched_consultant_id" json:"matched_consultant_id"`
	ExcludedConsultants pq.Int64Array `gorm:"column:excluded_consultants;type:bigint[]" json:"excluded_consultants"`
	ShuffleCount        int           `gorm:"column:shuffle_count;default:0" json:"shuffle_count"`

	ProposedTime        *time.Time `gorm:"column:proposed_time" json:"proposed_time"`
	ProposedBy          *uint      `gorm:"column:proposed_by" json:"proposed_by"`
	AgreedTime          *time.Time `gorm:"column:agreed_time" json:"agreed_time"`
	ProposalRounds      int        `gorm:"column:proposal_rounds;default:0" json:"proposal_rounds"`
	RequesterConfirmed  bool       `gorm:"column:requester_confirmed;default:false" json:"requester_confirmed"`
	ConsultantConfirmed bool       `gorm:"column:consultant_confirmed;default:false" json:"consultant_confirmed"`

	MeetingRef   string `gorm:"column:meeting_ref;size:255" json:"meeting_ref,omitempty"`
	CancelReason string `gorm:"column:cancel_reason;type:text" json:"cancel_reason,omitempty"`
	CancelledBy  *uint  `gorm:"column:cancelled_by" json:"cancelled_by,omitempty"`

	Requester         *User       `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	MatchedConsultant *Consultant `gorm:"foreignKey:MatchedConsultantID" json:"matched_consultant,omitempty"`
	Invitations       []Invitation `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"invitations,omitempty"`
}

func (ConsultationRequest) TableName() string {
	return "consultation_requests"
}

// Excluded reports whether the consultant has already been tried on
// this request.
func (r *ConsultationRequest) Excluded(consultantID uint) bool {
	for _, id := range r.ExcludedConsultants {
		if uint(id) == consultantID {
			return true
		}
	}
	return false
}
