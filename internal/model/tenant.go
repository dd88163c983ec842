// internal/model/tenant.go
package model

import (
	"errors"
	"fmt"
	"time"

	"tenancy/internal/errs"
)

type ProvisioningStatus string

const (
	StatusPending      ProvisioningStatus = "pending"
	StatusProvisioning ProvisioningStatus = "provisioning"
	StatusProvisioned  ProvisioningStatus = "provisioned"
	StatusFailed       ProvisioningStatus = "failed"
	StatusSuspended    ProvisioningStatus = "suspended"
)

// ErrInvalidTransition is returned for any status change outside the lifecycle graph.
var ErrInvalidTransition = errors.New("invalid provisioning status transition")

// transitions lists the allowed successor states. Suspension is handled separately:
// every state except suspended itself may move to suspended.
var transitions = map[ProvisioningStatus][]ProvisioningStatus{
	StatusPending:      {StatusProvisioning},
	StatusProvisioning: {StatusProvisioned, StatusFailed},
	StatusFailed:       {StatusPending},
}

func (s ProvisioningStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProvisioning, StatusProvisioned, StatusFailed, StatusSuspended:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to ProvisioningStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if to == StatusSuspended {
		return from != StatusSuspended
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition wraps ErrInvalidTransition with a conflict code when from -> to is not allowed.
func CheckTransition(from, to ProvisioningStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &errs.Error{
		Code: errs.EConflict,
		Msg:  fmt.Sprintf("%s -> %s", from, to),
		Err:  ErrInvalidTransition,
	}
}

// Tenant is the aggregate root stored in the central database.
type Tenant struct {
	ID                int64              `db:"id" json:"id"`
	Name              string             `db:"name" json:"name"`
	Subdomain         string             `db:"subdomain" json:"subdomain"`
	Database          *string            `db:"database_name" json:"database,omitempty"`
	DatabaseUser      []byte             `db:"database_user" json:"-"`
	DatabasePassword  []byte             `db:"database_password" json:"-"`
	Status            ProvisioningStatus `db:"provisioning_status" json:"provisioning_status"`
	ProvisioningError *string            `db:"provisioning_error" json:"provisioning_error,omitempty"`
	AdminID           *int64             `db:"admin_id" json:"admin_id,omitempty"`
	AdminEmail        *string            `db:"admin_email" json:"admin_email,omitempty"`
	AdminName         *string            `db:"admin_name" json:"admin_name,omitempty"`
	ProvisionedAt     *time.Time         `db:"provisioned_at" json:"provisioned_at,omitempty"`
	StatusChangedAt   time.Time          `db:"status_changed_at" json:"status_changed_at"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`

	Domains []Domain `db:"-" json:"domains,omitempty"`
}

// IsActive reports whether the tenant may serve requests.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusProvisioned
}

// HasCredentials reports whether an encrypted credential pair has been persisted.
func (t *Tenant) HasCredentials() bool {
	return len(t.DatabaseUser) > 0 && len(t.DatabasePassword) > 0
}

// DatabaseName returns the allocated database name or "".
func (t *Tenant) DatabaseName() string {
	if t.Database == nil {
		return ""
	}
	return *t.Database
}

// SearchNamespace is the prefix for all of the tenant's search indexes.
func (t *Tenant) SearchNamespace() string {
	return fmt.Sprintf("tenant_%d", t.ID)
}

// Domain is a host that routes to a tenant.
type Domain struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  int64     `db:"tenant_id" json:"tenant_id"`
	Domain    string    `db:"domain" json:"domain"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
