// Package seed loads the reference data a fresh portal needs: roles, divisions, units, the
// bundled feedback client and an administrator with access to every client app.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/portalsso/sso-server/internal/domain"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
)

const (
	AdminEmail    = "admin@example.com"
	AdminPassword = "admin123"
	adminName     = "Administrator"
	adminRole     = "Admin"
	adminUnit     = "HO"
	adminDivision = "IT Support"
)

var roles = []string{
	"Staff", "Manajer", "General Manajer", "Kepala Divisi",
	"Direktur Operasional", "Direktur Keuangan", "Direktur Utama", adminRole,
}

var divisions = []string{
	"Human Resources", "Administration", "Finance", "Operational",
	"General Affair", "Media Social", adminDivision,
}

var units = []domain.Unit{
	{Code: adminUnit, Name: "Head Office"},
	{Code: "UBGH", Name: "UB Guest House"},
	{Code: "GBA", Name: "Griya Brawijaya"},
	{Code: "UBC", Name: "UB Coffee"},
	{Code: "BLC", Name: "Brawijaya Language Center"},
	{Code: "UBK", Name: "UB Kantin"},
	{Code: "UBSC", Name: "UB Sport Center"},
	{Code: "UMC", Name: "UB Merchandise & Creative"},
	{Code: "BCR", Name: "Brawijaya Catering"},
	{Code: "LPH", Name: "Lembaga Pemeriksa Halal Universitas Brawijaya"},
	{Code: "BTT", Name: "Brawijaya Tour & Travel"},
	{Code: "BST", Name: "Brawijaya Science & Technology"},
	{Code: "BPA", Name: "Brawijaya Property and Advertising"},
	{Code: "BOS", Name: "Brawijaya Outsourcing"},
	{Code: "AGRO", Name: "Depo Agro"},
}

func clientApps() []domain.ClientApp {
	desc := "Internal feedback portal application"
	return []domain.ClientApp{{
		Name:         "Feedback System",
		Description:  &desc,
		ClientID:     "app_feedback",
		ClientSecret: "secret_key_feedback",
		RedirectURI:  "http://localhost:3000/api/auth/callback",
		DashboardURL: "http://localhost:3000/dashboard",
	}}
}

type Result struct {
	Roles      int    `json:"roles"`
	Divisions  int    `json:"divisions"`
	Units      int    `json:"units"`
	ClientApps int    `json:"client_apps"`
	Grants     int    `json:"grants"`
	AdminID    string `json:"admin_id"`
}

type Seeder struct {
	roles     repository.EntityRepository[domain.Role]
	divisions repository.EntityRepository[domain.Division]
	units     repository.EntityRepository[domain.Unit]
	apps      repository.EntityRepository[domain.ClientApp]
	users     repository.UserRepository
	clients   repository.ClientAppRepository
	hasher    *security.PasswordHasher
	logger    *slog.Logger
}

func NewSeeder(db *gorm.DB, hasher *security.PasswordHasher, logger *slog.Logger) *Seeder {
	return &Seeder{
		roles:     repository.NewEntityRepository[domain.Role](db, "role"),
		divisions: repository.NewEntityRepository[domain.Division](db, "division"),
		units:     repository.NewEntityRepository[domain.Unit](db, "unit"),
		apps:      repository.NewEntityRepository[domain.ClientApp](db, "client_app"),
		users:     repository.NewUserRepository(db),
		clients:   repository.NewClientAppRepository(db),
		hasher:    hasher,
		logger:    logger,
	}
}

// Run is idempotent. Existing rows are matched on their natural key; unit names and client app
// settings are brought back in line with the bundled values.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	rolesByName := map[string]string{}
	for _, name := range roles {
		role := domain.Role{Name: name}
		if err := s.roles.FirstOrCreate(ctx, repository.Filter{"name": name}, &role); err != nil {
			return nil, fmt.Errorf("seed role %s: %w", name, err)
		}
		rolesByName[name] = role.ID
		res.Roles++
	}

	divisionsByName := map[string]string{}
	for _, name := range divisions {
		division := domain.Division{Name: name}
		if err := s.divisions.FirstOrCreate(ctx, repository.Filter{"name": name}, &division); err != nil {
			return nil, fmt.Errorf("seed division %s: %w", name, err)
		}
		divisionsByName[name] = division.ID
		res.Divisions++
	}

	unitsByCode := map[string]string{}
	for _, u := range units {
		unit := u
		if err := s.units.FirstOrCreate(ctx, repository.Filter{"code": u.Code}, &unit); err != nil {
			return nil, fmt.Errorf("seed unit %s: %w", u.Code, err)
		}
		if unit.Name != u.Name {
			if err := s.units.Update(ctx, unit.ID, map[string]any{"name": u.Name}); err != nil {
				return nil, fmt.Errorf("update unit %s: %w", u.Code, err)
			}
		}
		unitsByCode[u.Code] = unit.ID
		res.Units++
	}

	for _, a := range clientApps() {
		app := a
		if err := s.apps.FirstOrCreate(ctx, repository.Filter{"client_id": a.ClientID}, &app); err != nil {
			return nil, fmt.Errorf("seed client app %s: %w", a.ClientID, err)
		}
		err := s.apps.Update(ctx, app.ID, map[string]any{
			"name":          a.Name,
			"description":   a.Description,
			"client_secret": a.ClientSecret,
			"redirect_uri":  a.RedirectURI,
			"dashboard_url": a.DashboardURL,
		})
		if err != nil {
			return nil, fmt.Errorf("update client app %s: %w", a.ClientID, err)
		}
		res.ClientApps++
	}

	admin, err := s.ensureAdmin(ctx, rolesByName[adminRole], unitsByCode[adminUnit], divisionsByName[adminDivision])
	if err != nil {
		return nil, err
	}
	res.AdminID = admin.ID

	res.Grants, err = s.grantAllApps(ctx, admin.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("seed completed", "roles", res.Roles, "divisions", res.Divisions, "units", res.Units, "client_apps", res.ClientApps, "grants", res.Grants)
	return res, nil
}

func (s *Seeder) ensureAdmin(ctx context.Context, roleID, unitID, divisionID string) (*domain.User, error) {
	admin, err := s.users.FindByEmail(ctx, AdminEmail)
	if err == nil {
		return admin, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("find admin: %w", err)
	}
	hash, err := s.hasher.Hash(AdminPassword)
	if err != nil {
		return nil, err
	}
	admin = &domain.User{
		Name:         adminName,
		Email:        AdminEmail,
		PasswordHash: hash,
		RoleID:       roleID,
		UnitID:       unitID,
		DivisionID:   divisionID,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	return admin, nil
}

func (s *Seeder) grantAllApps(ctx context.Context, userID string) (int, error) {
	granted := 0
	for page := 1; ; page++ {
		result, err := s.apps.FindMany(ctx, nil, repository.PageRequest{Page: page, PageSize: repository.MaxPageSize})
		if err != nil {
			return granted, fmt.Errorf("list client apps: %w", err)
		}
		for _, app := range result.Items {
			if err := s.clients.GrantAccess(ctx, userID, app.ID); err != nil {
				return granted, fmt.Errorf("grant %s: %w", app.ClientID, err)
			}
			granted++
		}
		if page >= result.TotalPages {
			return granted, nil
		}
	}
}
