package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"tenancy/internal/errs"
	"tenancy/internal/model"
)

// Memory is an in-process Directory used by tests and local tooling.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	tenants map[int64]*model.Tenant
	domains []model.Domain
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tenants: make(map[int64]*model.Tenant),
		now:     time.Now,
	}
}

func (m *Memory) CreateTenant(_ context.Context, t *model.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tenants {
		if existing.Subdomain == t.Subdomain {
			return errs.New(errs.EConflict, "storage.CreateTenant", "subdomain "+t.Subdomain+" is taken")
		}
	}
	m.nextID++
	now := m.now()
	t.ID = m.nextID
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	t.CreatedAt, t.UpdatedAt, t.StatusChangedAt = now, now, now
	m.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id int64) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (m *Memory) GetTenantBySubdomain(_ context.Context, subdomain string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Subdomain == subdomain {
			return cloneTenant(t), nil
		}
	}
	return nil, ErrTenantNotFound
}

func (m *Memory) GetTenantByDomain(_ context.Context, host string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.domains {
		if d.Domain == host {
			if t, ok := m.tenants[d.TenantID]; ok {
				return cloneTenant(t), nil
			}
		}
	}
	return nil, ErrTenantNotFound
}

func (m *Memory) ListTenantsByStatus(_ context.Context, status model.ProvisioningStatus, changedBefore time.Time) ([]model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Tenant
	for _, t := range m.tenants {
		if t.Status == status && t.StatusChangedAt.Before(changedBefore) {
			out = append(out, *cloneTenant(t))
		}
	}
	slices.SortFunc(out, func(a, b model.Tenant) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *Memory) TransitionStatus(_ context.Context, id int64, tr Transition) (*model.Tenant, error) {
	if err := validateTransition(tr); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	if !slices.Contains(tr.From, t.Status) {
		return nil, rejected(t.Status, tr)
	}

	now := m.now()
	t.Status = tr.To
	t.StatusChangedAt, t.UpdatedAt = now, now
	switch tr.To {
	case model.StatusFailed:
		msg := tr.Error
		t.ProvisioningError = &msg
	case model.StatusProvisioned:
		t.ProvisioningError = nil
		t.ProvisionedAt = &now
	}
	return cloneTenant(t), nil
}

func (m *Memory) RecordFailure(_ context.Context, id int64, msg string) error {
	return m.update(id, func(t *model.Tenant) { t.ProvisioningError = &msg })
}

func (m *Memory) SetDatabase(_ context.Context, id int64, name string) error {
	return m.update(id, func(t *model.Tenant) {
		if t.Database == nil {
			t.Database = &name
		}
	})
}

func (m *Memory) SetCredentials(_ context.Context, id int64, user, password []byte) error {
	return m.update(id, func(t *model.Tenant) {
		t.DatabaseUser = slices.Clone(user)
		t.DatabasePassword = slices.Clone(password)
	})
}

func (m *Memory) SetAdmin(_ context.Context, id int64, admin model.AdminAccount) error {
	return m.update(id, func(t *model.Tenant) {
		t.AdminID, t.AdminEmail, t.AdminName = &admin.ID, &admin.Email, &admin.Name
	})
}

func (m *Memory) EnsureDomain(_ context.Context, tenantID int64, host string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.domains {
		if d.Domain != host {
			continue
		}
		if d.TenantID != tenantID {
			return false, domainConflict(host)
		}
		return false, nil
	}
	now := m.now()
	m.domains = append(m.domains, model.Domain{
		ID:        int64(len(m.domains) + 1),
		TenantID:  tenantID,
		Domain:    host,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return true, nil
}

func (m *Memory) ListDomains(_ context.Context, tenantID int64) ([]model.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Domain
	for _, d := range m.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) update(id int64, fn func(*model.Tenant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	fn(t)
	t.UpdatedAt = m.now()
	return nil
}

func cloneTenant(t *model.Tenant) *model.Tenant {
	c := *t
	c.DatabaseUser = slices.Clone(t.DatabaseUser)
	c.DatabasePassword = slices.Clone(t.DatabasePassword)
	c.Domains = slices.Clone(t.Domains)
	return &c
}
