package model

// AdminSeed describes the super-administrator to create for a new tenant.
// An empty Password means one is generated during provisioning.
type AdminSeed struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

// AdminAccount is the super-administrator inside a tenant database.
type AdminAccount struct {
	ID                int64
	Name              string
	Email             string
	Active            bool
	SuperAdmin        bool
	PasswordGenerated bool
	Reused            bool
}
