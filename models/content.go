package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// UrlShortener redirects its key to DestinationURL until it expires or hits MaxClicks.
type UrlShortener struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	UserID         string     `gorm:"size:36;index;not null" json:"-"`
	UniqueKeyID    string     `gorm:"size:36;uniqueIndex;not null" json:"-"`
	IsCustomKey    bool       `gorm:"default:false" json:"isCustomKey"`
	ExpirationDate *time.Time `json:"expirationDate"`
	MaxClicks      *int       `json:"maxClicks"`
	DestinationURL string     `gorm:"size:4096;not null" json:"destinationUrl"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	UniqueKey *UniqueKey `gorm:"foreignKey:UniqueKeyID" json:"uniqueKey,omitempty"`
}

func (u *UrlShortener) BeforeCreate(tx *gorm.DB) error {
	newID(&u.ID)
	return nil
}

// Expired reports whether the expiration date has passed.
func (u *UrlShortener) Expired(now time.Time) bool {
	return u.ExpirationDate != nil && u.ExpirationDate.Before(now)
}

// Paste is a titled text snippet.
type Paste struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"size:36;index;not null" json:"-"`
	UniqueKeyID string    `gorm:"size:36;uniqueIndex;not null" json:"-"`
	Title       string    `gorm:"size:100" json:"title"`
	Content     string    `gorm:"type:text" json:"content"`
	Bytes       int64     `json:"bytes"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	UniqueKey *UniqueKey `gorm:"foreignKey:UniqueKeyID" json:"uniqueKey,omitempty"`
}

func (p *Paste) BeforeCreate(tx *gorm.DB) error {
	newID(&p.ID)
	return nil
}

// File is an upload stored on disk as <id>.<ext>.
type File struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"size:36;index;not null" json:"-"`
	UniqueKeyID    string    `gorm:"size:36;uniqueIndex;not null" json:"-"`
	Filename       string    `gorm:"size:255" json:"filename"`
	Ext            string    `gorm:"size:32" json:"ext"`
	MimeType       string    `gorm:"size:255" json:"mimeType"`
	Bytes          int64     `json:"bytes"`
	ThumbnailBytes int64     `json:"thumbnailBytes"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	UniqueKey *UniqueKey `gorm:"foreignKey:UniqueKeyID" json:"uniqueKey,omitempty"`
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	newID(&f.ID)
	return nil
}

// StoredName is the on-disk file name.
func (f *File) StoredName() string {
	return f.ID + "." + f.Ext
}

func (f *File) IsImage() bool { return strings.HasPrefix(f.MimeType, "image/") }
func (f *File) IsVideo() bool { return strings.HasPrefix(f.MimeType, "video/") }
func (f *File) IsAudio() bool { return strings.HasPrefix(f.MimeType, "audio/") }
