package model

import (
	"time"

	"github.com/google/uuid"
)

// ProvisioningJob is the queued unit of work for one tenant.
type ProvisioningJob struct {
	ID         uuid.UUID `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	Subdomain  string    `json:"subdomain"`
	AdminName  string    `json:"admin_name"`
	AdminEmail string    `json:"admin_email"`
	// AdminPassword is sealed with the application key; empty when none was supplied.
	AdminPassword []byte    `json:"admin_password,omitempty"`
	Attempt       int       `json:"attempt"`
	LastError     string    `json:"last_error,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Event types published on the tenant event exchange.
const (
	EventTenantProvisioned  = "tenant.provisioned"
	EventProvisioningFailed = "tenant.provisioning_failed"
)

// TenantEvent is a lifecycle notification for downstream consumers.
type TenantEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	TenantID   int64     `json:"tenant_id"`
	Subdomain  string    `json:"subdomain"`
	AdminEmail string    `json:"admin_email,omitempty"`
	// PasswordGenerated tells notification delivery to send a password reset link.
	PasswordGenerated bool      `json:"password_generated,omitempty"`
	Error             string    `json:"error,omitempty"`
	Attempts          int       `json:"attempts,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}
