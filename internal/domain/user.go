package domain

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID           string    `gorm:"size:36;primaryKey" json:"id"`
	Name         string    `gorm:"size:191;not null" json:"name"`
	Email        string    `gorm:"size:191;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password;size:255;not null" json:"-"`
	FailedLogins int       `gorm:"not null;default:0" json:"-"`
	IsLocked     bool      `gorm:"not null;default:false" json:"is_locked"`
	RoleID       string    `gorm:"size:36;index;not null" json:"role_id"`
	UnitID       string    `gorm:"size:36;index;not null" json:"unit_id"`
	DivisionID   string    `gorm:"size:36;index;not null" json:"division_id"`
	Role         Role      `gorm:"foreignKey:RoleID" json:"role"`
	Unit         Unit      `gorm:"foreignKey:UnitID" json:"unit"`
	Division     Division  `gorm:"foreignKey:DivisionID" json:"division"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	assignID(&u.ID)
	return nil
}
