package models

import (
	"time"

	"gorm.io/gorm"
)

// Session is one logged-in device. HashedRefreshToken is the sha256 hex of the
// refresh JWT and is the only way a session is looked up.
type Session struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	UserID             string    `gorm:"size:36;index;not null" json:"-"`
	App                string    `gorm:"size:512" json:"app"`
	IPAddress          string    `gorm:"size:64" json:"ipAddress"`
	EstimatedLocation  string    `gorm:"size:255" json:"estimatedLocation"`
	HashedRefreshToken string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	IsMfaAuthenticated bool      `gorm:"default:false" json:"isMfaAuthenticated"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	newID(&s.ID)
	return nil
}

// APISessionID marks the synthesized session of an API key request.
const APISessionID = "api"

// NewAPISession returns the pseudo-session attached to API key requests.
func NewAPISession(userID string) *Session {
	return &Session{
		ID:                 APISessionID,
		UserID:             userID,
		App:                "api",
		IsMfaAuthenticated: true,
	}
}
