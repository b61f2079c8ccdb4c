package seed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/security"
)

func newSeedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSeederIsIdempotent(t *testing.T) {
	db := newSeedDB(t)
	hasher := security.NewPasswordHasher(4)
	s := NewSeeder(db, hasher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	first, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.AdminID != second.AdminID {
		t.Fatalf("admin recreated: %s vs %s", first.AdminID, second.AdminID)
	}

	counts := map[string]int64{}
	for name, model := range map[string]any{
		"roles": &domain.Role{}, "divisions": &domain.Division{}, "units": &domain.Unit{},
		"apps": &domain.ClientApp{}, "users": &domain.User{}, "grants": &domain.UserAppAccess{},
	} {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		counts[name] = n
	}
	want := map[string]int64{"roles": 8, "divisions": 7, "units": 15, "apps": 1, "users": 1, "grants": 1}
	for k, v := range want {
		if counts[k] != v {
			t.Fatalf("%s: expected %d rows, got %d", k, v, counts[k])
		}
	}
}

func TestSeededAdminProfile(t *testing.T) {
	db := newSeedDB(t)
	hasher := security.NewPasswordHasher(4)
	if _, err := NewSeeder(db, hasher, slog.New(slog.NewTextHandler(io.Discard, nil))).Run(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var admin domain.User
	if err := db.Preload("Role").Preload("Unit").Preload("Division").Where("email = ?", AdminEmail).First(&admin).Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	if admin.Role.Name != "Admin" || admin.Unit.Code != "HO" || admin.Division.Name != "IT Support" {
		t.Fatalf("unexpected admin relations: role=%s unit=%s division=%s", admin.Role.Name, admin.Unit.Code, admin.Division.Name)
	}
	if ok, err := hasher.Compare(admin.PasswordHash, AdminPassword); err != nil || !ok {
		t.Fatalf("admin password does not match: ok=%v err=%v", ok, err)
	}
}

func TestSeederRestoresDriftedValues(t *testing.T) {
	db := newSeedDB(t)
	s := NewSeeder(db, security.NewPasswordHasher(4), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	db.Model(&domain.Unit{}).Where("code = ?", "HO").Update("name", "Renamed")
	db.Model(&domain.ClientApp{}).Where("client_id = ?", "app_feedback").Update("client_secret", "rotated")

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	var unit domain.Unit
	db.Where("code = ?", "HO").First(&unit)
	var app domain.ClientApp
	db.Where("client_id = ?", "app_feedback").First(&app)
	if unit.Name != "Head Office" || app.ClientSecret != "secret_key_feedback" {
		t.Fatalf("expected drift to be repaired, got unit=%q secret=%q", unit.Name, app.ClientSecret)
	}
}
