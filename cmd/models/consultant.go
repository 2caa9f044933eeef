package models

import (
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	ConsultantPending   = "pending"
	ConsultantApproved  = "approved"
	ConsultantSuspended = "suspended"
)

type Consultant struct {
	gorm.Model
	UserID          uint           `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Specializations pq.StringArray `gorm:"column:specializations;type:text[]" json:"specializations"`
	Bio             string         `gorm:"column:bio;type:text" json:"bio"`
	ApprovalStatus  string         `gorm:"column:approval_status;size:50;not null;default:pending" json:"approval_status"`
	Available       bool           `gorm:"column:available;default:false" json:"available"`
	SurgeEligible   bool           `gorm:"column:surge_eligible;default:false" json:"surge_eligible"`

	AverageRating     float64 `gorm:"column:average_rating;default:0" json:"average_rating"`
	TotalRatings      int     `gorm:"column:total_ratings;default:0" json:"total_ratings"`
	CompletedSessions int     `gorm:"column:completed_sessions;default:0" json:"completed_sessions"`

	AvailabilityWindows []AvailabilityWindow `gorm:"foreignKey:ConsultantID;constraint:OnDelete:CASCADE" json:"availability_windows"`
	User                *User                `gorm:"foreignKey:UserID" json:"-"`
}

func (Consultant) TableName() string {
	return "consultants"
}

// AvailabilityWindow is a recurring weekly slot during which the
// consultant is reachable for live sessions. Times are wall-clock
// "15:04" strings interpreted in the window's timezone.
type AvailabilityWindow struct {
	gorm.Model
	ConsultantID uint   `gorm:"column:consultant_id;not null;index" json:"consultant_id"`
	DayOfWeek    int    `gorm:"column:day_of_week;not null" json:"day_of_week"`
	StartTime    string `gorm:"column:start_time;size:5;not null" json:"start_time"`
	EndTime      string `gorm:"column:end_time;size:5;not null" json:"end_time"`
	Timezone     string `gorm:"column:timezone;size:64;not null;default:UTC" json:"timezone"`
}

func (AvailabilityWindow) TableName() string {
	return "availability_windows"
}
