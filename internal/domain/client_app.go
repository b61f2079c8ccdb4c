package domain

import (
	"time"

	"gorm.io/gorm"
)

type ClientApp struct {
	ID           string    `gorm:"size:36;primaryKey" json:"id"`
	Name         string    `gorm:"size:191;not null" json:"name"`
	Description  *string   `gorm:"size:512" json:"description"`
	ClientID     string    `gorm:"size:191;uniqueIndex;not null" json:"client_id"`
	ClientSecret string    `gorm:"size:255;not null" json:"-"`
	RedirectURI  string    `gorm:"size:512;not null" json:"redirect_uri"`
	DashboardURL string    `gorm:"size:512" json:"dashboard_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserAppAccess grants a user the right to sign in to a client app.
type UserAppAccess struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	UserID    string    `gorm:"size:36;not null;uniqueIndex:idx_user_app" json:"user_id"`
	AppID     string    `gorm:"size:36;not null;uniqueIndex:idx_user_app;index" json:"app_id"`
	App       ClientApp `gorm:"foreignKey:AppID" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *ClientApp) BeforeCreate(*gorm.DB) error     { assignID(&a.ID); return nil }
func (a *UserAppAccess) BeforeCreate(*gorm.DB) error { assignID(&a.ID); return nil }

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&Role{}, &Unit{}, &Division{}, &User{},
		&ClientApp{}, &UserAppAccess{}, &RefreshToken{}, &AuthCode{},
	}
}
