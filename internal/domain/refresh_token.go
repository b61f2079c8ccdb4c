package domain

import (
	"time"

	"gorm.io/gorm"
)

// RefreshToken is one portal session. Only the sha256 of the opaque secret is stored.
// Rotation hard-deletes the row; logout sets Revoked.
type RefreshToken struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	UserID    string    `gorm:"size:36;index;not null" json:"user_id"`
	TokenHash string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Revoked   bool      `gorm:"index;not null;default:false" json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *RefreshToken) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}

func (t *RefreshToken) IsExpired(now time.Time) bool { return !t.ExpiresAt.After(now) }
func (t *RefreshToken) IsRevoked() bool             { return t.Revoked }
