package provisioning

import (
	"context"
	"errors"
	"regexp"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadReferenceData(t *testing.T) {
	data, err := LoadReferenceData()
	require.NoError(t, err)

	assert.Equal(t, "super_admin", data.SuperAdminRole)
	assert.Contains(t, data.Roles, data.SuperAdminRole)
	assert.NotEmpty(t, data.Permissions)
	assert.NotEmpty(t, data.Currencies)
	for _, p := range data.Pages {
		assert.NotEmpty(t, p.Titles["en"], "page %s needs an English title", p.Slug)
	}
}

func TestReferenceDataSeeder_Plan(t *testing.T) {
	data, err := LoadReferenceData()
	require.NoError(t, err)

	all := NewReferenceDataSeeder(data, nil, zap.NewNop())
	assert.Equal(t, []string{
		"roles_permissions", "panel_permissions", "payment_gateways",
		"categories", "currencies", "pages", "social_media",
	}, all.Names())

	disabled := map[string]bool{"payment_gateways": true, "pages": true}
	some := NewReferenceDataSeeder(data, func(name string) bool { return !disabled[name] }, zap.NewNop())
	assert.Equal(t, []string{
		"roles_permissions", "panel_permissions", "categories", "currencies", "social_media",
	}, some.Names())
}

func onlySeeder(name string) func(string) bool {
	return func(n string) bool { return n == name }
}

func TestReferenceDataSeeder_SocialMedia(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	data := &ReferenceData{SocialMedia: []string{"facebook", "x"}}
	seeder := NewReferenceDataSeeder(data, onlySeeder("social_media"), zap.NewNop())

	insert := regexp.QuoteMeta(`INSERT INTO social_links (platform, sort_order) VALUES ($1, $2) ON CONFLICT (platform) DO NOTHING`)
	mock.ExpectBegin()
	mock.ExpectExec(insert).WithArgs("facebook", 0).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insert).WithArgs("x", 1).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	done, err := seeder.Run(context.Background(), mock, SeedContext{TenantID: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"social_media"}, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferenceDataSeeder_PagesUseTenantLocale(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	data := &ReferenceData{Pages: []Page{
		{Slug: "about", Titles: map[string]string{"en": "About us", "fr": "À propos"}},
	}}
	seeder := NewReferenceDataSeeder(data, onlySeeder("pages"), zap.NewNop())

	upsertSetting := regexp.QuoteMeta(`INSERT INTO settings (key, value) VALUES ($1, $2)`)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO pages (slug, locale, title)`)).
		WithArgs("about", "fr", "À propos").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(upsertSetting).WithArgs("locale", "fr").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(upsertSetting).WithArgs("timezone", "Europe/Paris").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err = seeder.Run(context.Background(), mock, SeedContext{TenantID: 1, Locale: "fr", Timezone: "Europe/Paris"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferenceDataSeeder_StopsAtFirstFailure(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	data := &ReferenceData{
		Categories:  []Category{{Slug: "health", Name: "Health"}},
		SocialMedia: []string{"facebook"},
	}
	seeder := NewReferenceDataSeeder(data, func(n string) bool {
		return n == "categories" || n == "social_media"
	}, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO categories`)).
		WithArgs("health", "Health", 0).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	done, err := seeder.Run(context.Background(), mock, SeedContext{TenantID: 1})
	assert.ErrorContains(t, err, "seeder categories")
	assert.Empty(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}
