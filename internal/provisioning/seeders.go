package provisioning

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tenancy/internal/tenantdb"
)

//go:embed seeds/reference.yaml
var referenceYAML []byte

// ReferenceData is the static data every tenant starts with.
type ReferenceData struct {
	SuperAdminRole  string              `yaml:"super_admin_role"`
	Roles           []string            `yaml:"roles"`
	Permissions     []string            `yaml:"permissions"`
	RolePermissions map[string][]string `yaml:"role_permissions"`
	Panel           struct {
		Resources []string `yaml:"resources"`
		Actions   []string `yaml:"actions"`
	} `yaml:"panel"`
	PaymentGateways []PaymentGateway `yaml:"payment_gateways"`
	Categories      []Category       `yaml:"categories"`
	Currencies      []Currency       `yaml:"currencies"`
	Pages           []Page           `yaml:"pages"`
	SocialMedia     []string         `yaml:"social_media"`
}

type PaymentGateway struct {
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

type Category struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`
}

// Page titles are keyed by locale; "en" is the fallback.
type Page struct {
	Slug   string            `yaml:"slug"`
	Titles map[string]string `yaml:"titles"`
}

type Currency struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
}

// LoadReferenceData parses the embedded reference data.
func LoadReferenceData() (*ReferenceData, error) {
	var data ReferenceData
	if err := yaml.Unmarshal(referenceYAML, &data); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	if data.SuperAdminRole == "" {
		data.SuperAdminRole = "super_admin"
	}
	return &data, nil
}

// SeedContext carries the per-tenant settings seeders depend on.
type SeedContext struct {
	TenantID int64
	Locale   string
	Timezone string
	Currency string
}

// Seeder writes one category of reference data. Seeders must be re-runnable.
type Seeder interface {
	Name() string
	Seed(ctx context.Context, tx pgx.Tx, sc SeedContext) error
}

type seederFunc struct {
	name string
	fn   func(ctx context.Context, tx pgx.Tx, sc SeedContext) error
}

func (s seederFunc) Name() string { return s.name }
func (s seederFunc) Seed(ctx context.Context, tx pgx.Tx, sc SeedContext) error {
	return s.fn(ctx, tx, sc)
}

// ReferenceDataSeeder runs the enabled seeders in their fixed dependency order.
type ReferenceDataSeeder struct {
	plan []Seeder
	log  *zap.Logger
}

// NewReferenceDataSeeder decides once which seeders run; enabled is consulted per
// seeder name at construction only.
func NewReferenceDataSeeder(data *ReferenceData, enabled func(name string) bool, log *zap.Logger) *ReferenceDataSeeder {
	all := []Seeder{
		seederFunc{"roles_permissions", data.seedRolesAndPermissions},
		seederFunc{"panel_permissions", data.seedPanelPermissions},
		seederFunc{"payment_gateways", data.seedPaymentGateways},
		seederFunc{"categories", data.seedCategories},
		seederFunc{"currencies", data.seedCurrencies},
		seederFunc{"pages", data.seedPages},
		seederFunc{"social_media", data.seedSocialMedia},
	}
	s := &ReferenceDataSeeder{log: log}
	for _, seeder := range all {
		if enabled == nil || enabled(seeder.Name()) {
			s.plan = append(s.plan, seeder)
		}
	}
	return s
}

// Names lists the seeders that will run, in order.
func (s *ReferenceDataSeeder) Names() []string {
	names := make([]string, len(s.plan))
	for i, seeder := range s.plan {
		names[i] = seeder.Name()
	}
	return names
}

// Run executes each seeder in its own transaction and stops at the first failure.
func (s *ReferenceDataSeeder) Run(ctx context.Context, conn tenantdb.Conn, sc SeedContext) ([]string, error) {
	var done []string
	for _, seeder := range s.plan {
		err := inTx(ctx, conn, func(tx pgx.Tx) error { return seeder.Seed(ctx, tx, sc) })
		if err != nil {
			return done, fmt.Errorf("seeder %s: %w", seeder.Name(), err)
		}
		s.log.Debug("seeded", zap.Int64("tenant_id", sc.TenantID), zap.String("seeder", seeder.Name()))
		done = append(done, seeder.Name())
	}
	return done, nil
}

func (d *ReferenceData) seedRolesAndPermissions(ctx context.Context, tx pgx.Tx, _ SeedContext) error {
	for _, p := range d.Permissions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name, guard_name) DO NOTHING`, p); err != nil {
			return err
		}
	}
	for _, r := range d.Roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name, guard_name) DO NOTHING`, r); err != nil {
			return err
		}
	}
	grants := map[string][]string{d.SuperAdminRole: d.Permissions}
	for role, perms := range d.RolePermissions {
		if role != d.SuperAdminRole {
			grants[role] = perms
		}
	}
	for role, perms := range grants {
		if err := grant(ctx, tx, role, perms); err != nil {
			return err
		}
	}
	return nil
}

func (d *ReferenceData) seedPanelPermissions(ctx context.Context, tx pgx.Tx, _ SeedContext) error {
	var names []string
	for _, resource := range d.Panel.Resources {
		for _, action := range d.Panel.Actions {
			names = append(names, action+"_"+resource)
		}
	}
	for _, name := range names {
		if _, err := tx.Exec(ctx,
			`INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name, guard_name) DO NOTHING`, name); err != nil {
			return err
		}
	}
	return grant(ctx, tx, d.SuperAdminRole, names)
}

func (d *ReferenceData) seedPaymentGateways(ctx context.Context, tx pgx.Tx, _ SeedContext) error {
	for _, g := range d.PaymentGateways {
		if _, err := tx.Exec(ctx,
			`INSERT INTO payment_gateways (code, name, is_enabled) VALUES ($1, $2, $3) ON CONFLICT (code) DO NOTHING`,
			g.Code, g.Name, g.Enabled); err != nil {
			return err
		}
	}
	return nil
}

func (d *ReferenceData) seedCategories(ctx context.Context, tx pgx.Tx, _ SeedContext) error {
	for i, c := range d.Categories {
		if _, err := tx.Exec(ctx,
			`INSERT INTO categories (slug, name, sort_order) VALUES ($1, $2, $3) ON CONFLICT (slug) DO NOTHING`,
			c.Slug, c.Name, i); err != nil {
			return err
		}
	}
	return nil
}

func (d *ReferenceData) seedCurrencies(ctx context.Context, tx pgx.Tx, sc SeedContext) error {
	for _, c := range d.Currencies {
		if _, err := tx.Exec(ctx,
			`INSERT INTO currencies (code, name, symbol, decimals) VALUES ($1, $2, $3, $4) ON CONFLICT (code) DO NOTHING`,
			c.Code, c.Name, c.Symbol, c.Decimals); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE currencies SET is_default = (code = $1)`, sc.Currency); err != nil {
		return err
	}
	return putSetting(ctx, tx, "default_currency", sc.Currency)
}

func (d *ReferenceData) seedPages(ctx context.Context, tx pgx.Tx, sc SeedContext) error {
	for _, p := range d.Pages {
		title, ok := p.Titles[sc.Locale]
		if !ok {
			title = p.Titles["en"]
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO pages (slug, locale, title) VALUES ($1, $2, $3) ON CONFLICT (slug, locale) DO NOTHING`,
			p.Slug, sc.Locale, title); err != nil {
			return err
		}
	}
	if err := putSetting(ctx, tx, "locale", sc.Locale); err != nil {
		return err
	}
	return putSetting(ctx, tx, "timezone", sc.Timezone)
}

func (d *ReferenceData) seedSocialMedia(ctx context.Context, tx pgx.Tx, _ SeedContext) error {
	for i, platform := range d.SocialMedia {
		if _, err := tx.Exec(ctx,
			`INSERT INTO social_links (platform, sort_order) VALUES ($1, $2) ON CONFLICT (platform) DO NOTHING`,
			platform, i); err != nil {
			return err
		}
	}
	return nil
}

func grant(ctx context.Context, tx pgx.Tx, role string, permissions []string) error {
	if len(permissions) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO role_has_permissions (role_id, permission_id)
		SELECT r.id, p.id FROM roles r, permissions p
		WHERE r.name = $1 AND p.name = ANY($2)
		ON CONFLICT DO NOTHING`, role, permissions)
	return err
}

func putSetting(ctx context.Context, tx pgx.Tx, key, value string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	return err
}
