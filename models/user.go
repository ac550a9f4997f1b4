package models

import (
	"time"

	"gorm.io/gorm"
)

// User is an account. Passwords are stored as argon2id hashes only.
type User struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	Username          string     `gorm:"size:24;uniqueIndex;not null" json:"username"`
	HashedPassword    string     `gorm:"size:255;not null" json:"-"`
	MfaSecret         *string    `gorm:"size:64" json:"-"`
	MfaBackupCodes    string     `gorm:"size:255" json:"-"`
	HasMfaEnabled     bool       `gorm:"default:false" json:"hasMfaEnabled"`
	ApiKey            string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	IsAdministrator   bool       `gorm:"default:false" json:"isAdministrator"`
	ScheduledDeletion *time.Time `json:"scheduledDeletion"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`

	Limits UserLimits `gorm:"foreignKey:UserID" json:"limits"`
	Usage  UserUsage  `gorm:"foreignKey:UserID" json:"usage"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	newID(&u.ID)
	return nil
}

// UserLimits caps storage and custom URLs. Administrators bypass the storage cap.
type UserLimits struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	UserID     string `gorm:"size:36;uniqueIndex;not null" json:"-"`
	TotalMB    int    `gorm:"column:total_mb" json:"totalMB"`
	CustomUrls int    `json:"customUrls"`
}

func (l *UserLimits) BeforeCreate(tx *gorm.DB) error {
	newID(&l.ID)
	return nil
}

// UserUsage is recalculated from pastes and files after every content change.
type UserUsage struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	UserID    string `gorm:"size:36;uniqueIndex;not null" json:"-"`
	BytesUsed int64  `json:"bytesUsed"`
}

func (u *UserUsage) BeforeCreate(tx *gorm.DB) error {
	newID(&u.ID)
	return nil
}
