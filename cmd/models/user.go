package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	FullName     string `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email        string `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role         string `gorm:"column:role;size:50;not null;default:requester" json:"role"`
	Phone        string `gorm:"column:phone;size:20" json:"phone"`
	Status       string `gorm:"column:status;size:50;not null;default:active" json:"status"`

	Consultant *Consultant `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"consultant,omitempty"`
}

const (
	RoleRequester  = "requester"
	RoleConsultant = "consultant"
	RoleAdmin      = "admin"
)

type Rating struct {
	gorm.Model
	UserID       uint    `gorm:"column:user_id;not null" json:"user_id"`
	ConsultantID uint    `gorm:"column:consultant_id;not null" json:"consultant_id"`
	SessionID    uint    `gorm:"column:session_id;not null;uniqueIndex" json:"session_id"`
	Rating       float64 `gorm:"column:rating;not null" json:"rating"`
	Comment      string  `gorm:"column:comment;type:text" json:"comment"`

	User       *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Consultant *Consultant `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
}

func (Rating) TableName() string {
	return "ratings"
}

// Device is a registered push-notification target for a user.
type Device struct {
	gorm.Model
	UserID     uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	Token      string    `gorm:"column:token;size:255;not null" json:"token"`
	DeviceType string    `gorm:"column:device_type;size:50" json:"device_type"`
	DeviceName string    `gorm:"column:device_name;size:255" json:"device_name"`
	LastSeenAt time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`
}
