package provisioning

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"testing/fstest"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

var (
	createMigrationsTable = regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS schema_migrations`)
	selectVersions        = regexp.QuoteMeta(`SELECT version FROM schema_migrations`)
	insertVersion         = regexp.QuoteMeta(`INSERT INTO schema_migrations (version) VALUES ($1)`)
)

type SchemaMigratorTestSuite struct {
	suite.Suite
	mock     pgxmock.PgxConnIface
	migrator *SchemaMigrator
	context  context.Context
}

func (suite *SchemaMigratorTestSuite) SetupTest() {
	mock, err := pgxmock.NewConn()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.migrator = NewSchemaMigrator(fstest.MapFS{
		"tenant/0001_roles.sql":  {Data: []byte("CREATE TABLE roles (id BIGSERIAL PRIMARY KEY);")},
		"tenant/0002_users.sql":  {Data: []byte("CREATE TABLE users (id BIGSERIAL PRIMARY KEY);")},
		"tenant/0003_pages.sql":  {Data: []byte("CREATE TABLE pages (id BIGSERIAL PRIMARY KEY);")},
		"tenant/README.md":       {Data: []byte("not a migration")},
		"central/0001_other.sql": {Data: []byte("CREATE TABLE other (id INT);")},
	}, zap.NewNop())
	suite.context = context.Background()
}

func (suite *SchemaMigratorTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close(suite.context)
}

func TestSchemaMigratorTestSuite(t *testing.T) {
	suite.Run(t, new(SchemaMigratorTestSuite))
}

func (suite *SchemaMigratorTestSuite) expectApply(script, version string) {
	suite.mock.ExpectBegin()
	suite.mock.ExpectExec(regexp.QuoteMeta(script)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	suite.mock.ExpectExec(insertVersion).WithArgs(version).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	suite.mock.ExpectCommit()
}

func (suite *SchemaMigratorTestSuite) TestAppliesPendingScriptsInOrder() {
	suite.mock.ExpectExec(createMigrationsTable).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	suite.mock.ExpectQuery(selectVersions).WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow("0001"))
	suite.expectApply("CREATE TABLE users", "0002")
	suite.expectApply("CREATE TABLE pages", "0003")

	res, err := suite.migrator.Run(suite.context, suite.mock, TenantMigrations)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"0002_users.sql", "0003_pages.sql"}, res.Applied)
	assert.Equal(suite.T(), 0, res.ExitCode)
	assert.Contains(suite.T(), res.Output, "Migrated: 0003_pages.sql")
}

func (suite *SchemaMigratorTestSuite) TestNothingToMigrate() {
	suite.mock.ExpectExec(createMigrationsTable).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	suite.mock.ExpectQuery(selectVersions).WillReturnRows(
		pgxmock.NewRows([]string{"version"}).AddRow("0001").AddRow("0002").AddRow("0003"))

	res, err := suite.migrator.Run(suite.context, suite.mock, TenantMigrations)

	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), res.Applied)
	assert.Equal(suite.T(), "Nothing to migrate.\n", res.Output)
}

func (suite *SchemaMigratorTestSuite) TestFailedScriptRollsBackAndStops() {
	suite.mock.ExpectExec(createMigrationsTable).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	suite.mock.ExpectQuery(selectVersions).WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow("0001"))
	suite.mock.ExpectBegin()
	suite.mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE users")).WillReturnError(errors.New("syntax error"))
	suite.mock.ExpectRollback()

	res, err := suite.migrator.Run(suite.context, suite.mock, TenantMigrations)

	assert.ErrorContains(suite.T(), err, "migration 0002_users.sql")
	assert.Equal(suite.T(), 1, res.ExitCode)
	assert.Empty(suite.T(), res.Applied)
	assert.Contains(suite.T(), res.Output, "Failed: 0002_users.sql")
}

func (suite *SchemaMigratorTestSuite) TestUnknownPath() {
	res, err := suite.migrator.Run(suite.context, suite.mock, "missing")

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), 1, res.ExitCode)
}

func TestEmbeddedTenantMigrations(t *testing.T) {
	m := NewSchemaMigrator(nil, zap.NewNop())
	entries, err := fs.ReadDir(m.source, TenantMigrations)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		_, err := scriptVersion(e.Name())
		assert.NoError(t, err, e.Name())
	}
}

func TestScriptVersion(t *testing.T) {
	v, err := scriptVersion("0012_add_index.sql")
	require.NoError(t, err)
	assert.Equal(t, "0012", v)

	_, err = scriptVersion("add_index.sql")
	assert.Error(t, err)
}
