package models

import (
	"time"

	"gorm.io/gorm"
)

// UniqueKey is the public identifier of a piece of content. At most one of
// UrlShortener, Paste and File is set.
type UniqueKey struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	UserID     string `gorm:"size:36;index;not null" json:"-"`
	Key        string `gorm:"size:32;uniqueIndex;not null" json:"key"`
	ClickCount int    `gorm:"default:0" json:"clickCount"`

	UrlShortener *UrlShortener `gorm:"foreignKey:UniqueKeyID" json:"-"`
	Paste        *Paste        `gorm:"foreignKey:UniqueKeyID" json:"-"`
	File         *File         `gorm:"foreignKey:UniqueKeyID" json:"-"`
	Clicks       []Click       `gorm:"foreignKey:UniqueKeyID" json:"-"`
}

func (k *UniqueKey) BeforeCreate(tx *gorm.DB) error {
	newID(&k.ID)
	return nil
}

// Click is an append-only visit record.
type Click struct {
	ID          string    `gorm:"primaryKey;size:36" json:"-"`
	UniqueKeyID *string   `gorm:"size:36;index" json:"-"`
	IPAddress   string    `gorm:"size:64" json:"-"`
	Location    string    `gorm:"size:255" json:"location"`
	UserAgent   string    `gorm:"size:512" json:"userAgent"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}

func (c *Click) BeforeCreate(tx *gorm.DB) error {
	newID(&c.ID)
	return nil
}
