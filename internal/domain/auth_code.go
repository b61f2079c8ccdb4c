package domain

import (
	"time"

	"gorm.io/gorm"
)

// AuthCode is a single-use authorization code. ClientID is the client app's public client id.
type AuthCode struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	CodeHash  string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserID    string    `gorm:"size:36;index;not null" json:"user_id"`
	ClientID  string    `gorm:"size:191;index;not null" json:"client_id"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *AuthCode) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

func (c *AuthCode) IsExpired(now time.Time) bool { return !c.ExpiresAt.After(now) }
func (c *AuthCode) IsRevoked() bool             { return false }
