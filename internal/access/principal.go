package access

import "time"

const (
	AdminStatusActive   = "active"
	AdminStatusDisabled = "disabled"
)

// Admin is the registry record for one privileged operator.
type Admin struct {
	ID           string
	Email        string
	Role         Role
	PasswordHash string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is an authenticated operator with the capability set resolved
// from its role. It is constructed per request and never persisted.
type Principal struct {
	ID           string
	Email        string
	Role         Role
	capabilities map[Capability]struct{}
}

// NewPrincipal builds a principal from a registry record.
func NewPrincipal(a *Admin) Principal {
	set := make(map[Capability]struct{})
	for _, c := range Capabilities(a.Role) {
		set[c] = struct{}{}
	}
	return Principal{ID: a.ID, Email: a.Email, Role: a.Role, capabilities: set}
}

// Can reports whether the principal holds the capability.
func (p Principal) Can(c Capability) bool {
	_, ok := p.capabilities[c]
	return ok
}

// CapabilityList returns the principal's capabilities in sorted order.
func (p Principal) CapabilityList() []Capability {
	return Capabilities(p.Role)
}
