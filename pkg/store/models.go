package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID             string `gorm:"primaryKey"`
	Email          string `gorm:"uniqueIndex;not null"`
	Name           string `gorm:"not null"`
	AvatarURL      string
	Role           string `gorm:"not null"`
	Tier           string `gorm:"not null"`
	BooksGenerated int    `gorm:"not null;default:0"`
	WordsGenerated int    `gorm:"not null;default:0"`
	UsageResetAt   time.Time
	Settings       SettingsModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time     `gorm:"not null"`
	UpdatedAt      time.Time
}

type SettingsModel struct {
	UserID       string `gorm:"primaryKey"`
	Theme        string `gorm:"not null"`
	DefaultModel string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID           string `gorm:"primaryKey"`
	OwnerID      string `gorm:"not null;index"`
	Title        string `gorm:"not null"`
	Premise      string `gorm:"type:text"`
	Status       string `gorm:"not null"`
	ErrorMessage string
	WordCount    int `gorm:"not null;default:0"`
	StorageKey   string
	StoryMemory  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}
