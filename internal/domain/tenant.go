package domain

// Role of an authenticated principal, supplied by the external identity
// provider. How authentication happens is out of scope.
type Role string

const (
	// RoleSuper is the top-level role. It may act on the global rule set
	// or impersonate a tenant.
	RoleSuper Role = "superadmin"

	// RoleAdmin is a tenant-scoped administrator.
	RoleAdmin Role = "admin"
)

// Principal is the authenticated caller as reported by the identity provider.
type Principal struct {
	Role     Role   `json:"role"`
	TenantID string `json:"tenantId,omitempty"`
}

// TenantScope identifies whose rule set an operation targets.
// The empty scope is the shared global rule set.
type TenantScope string

// ScopeGlobal targets the tenant-less global rule set.
const ScopeGlobal TenantScope = ""

// Global reports whether the scope targets the global rule set.
func (s TenantScope) Global() bool { return s == ScopeGlobal }

// CacheKey returns the scope segment used for cache and bus addressing,
// where the global scope is spelled "*".
func (s TenantScope) CacheKey() string {
	if s.Global() {
		return "*"
	}
	return string(s)
}
