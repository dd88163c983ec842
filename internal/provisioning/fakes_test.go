package provisioning

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tenancy/internal/model"
	"tenancy/internal/secret"
	"tenancy/internal/tenantdb"
)

const testAppKey = "0123456789abcdef0123456789abcdef"

func testBox(t *testing.T) *secret.Box {
	t.Helper()
	box, err := secret.NewBox(testAppKey)
	require.NoError(t, err)
	return box
}

type fakeDatabases struct {
	mu        sync.Mutex
	databases map[string]bool
	roles     map[string]string
	creates   int
	err       error
}

func newFakeDatabases() *fakeDatabases {
	return &fakeDatabases{databases: map[string]bool{}, roles: map[string]string{}}
}

func (f *fakeDatabases) CreateDatabase(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.databases[name] {
		return false, nil
	}
	f.databases[name] = true
	f.creates++
	return true, nil
}

func (f *fakeDatabases) RoleExists(_ context.Context, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.roles[role]
	return ok, nil
}

func (f *fakeDatabases) EnsureRole(_ context.Context, _, role, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[role] = password
	return nil
}

type fakeConnector struct {
	conn tenantdb.Conn
	seen []*model.Tenant
}

func (f *fakeConnector) Connect(_ context.Context, t *model.Tenant) (tenantdb.Conn, error) {
	f.seen = append(f.seen, t)
	return f.conn, nil
}

type fakeMigrator struct {
	runs int
	err  error
}

func (f *fakeMigrator) Run(context.Context, tenantdb.Conn, string) (*MigrationResult, error) {
	f.runs++
	if f.err != nil {
		return &MigrationResult{ExitCode: 1}, f.err
	}
	return &MigrationResult{Applied: []string{"0001_roles_permissions.sql"}}, nil
}

type fakeSearch struct {
	calls  int
	err    error
	during func(t *model.Tenant)
}

func (f *fakeSearch) CreateTenantIndexes(_ context.Context, t *model.Tenant) ([]string, error) {
	f.calls++
	if f.during != nil {
		f.during(t)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []string{t.SearchNamespace() + "_campaigns"}, nil
}

type recordingProgress struct {
	mu      sync.Mutex
	reports []Progress
}

func (r *recordingProgress) Report(_ context.Context, p Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, p)
	return nil
}

func (r *recordingProgress) Load(_ context.Context, tenantID int64) (*Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.reports) - 1; i >= 0; i-- {
		if r.reports[i].TenantID == tenantID {
			p := r.reports[i]
			return &p, nil
		}
	}
	return nil, nil
}
