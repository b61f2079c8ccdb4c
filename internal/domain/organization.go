package domain

import (
	"time"

	"gorm.io/gorm"
)

type Role struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Unit struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	Code      string    `gorm:"size:20;uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"size:191;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Division struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Role) BeforeCreate(*gorm.DB) error     { assignID(&r.ID); return nil }
func (u *Unit) BeforeCreate(*gorm.DB) error     { assignID(&u.ID); return nil }
func (d *Division) BeforeCreate(*gorm.DB) error { assignID(&d.ID); return nil }
