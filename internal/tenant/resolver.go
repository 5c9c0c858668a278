// Package tenant derives the tenant scope a request operates against.
package tenant

import (
	"fmt"

	"github.com/impulso-energetico/comision/internal/domain"
)

// Resolve maps an authenticated principal to a tenant scope.
//
// A super principal may pass actAs to operate as that tenant; with an empty
// actAs it targets the global rule set. Any other role is forced to its own
// tenant regardless of actAs, which prevents cross-tenant access, and fails
// with ErrTenantNotResolved when the principal carries no tenant id.
func Resolve(p domain.Principal, actAs string) (domain.TenantScope, error) {
	if p.Role == domain.RoleSuper {
		return domain.TenantScope(actAs), nil
	}
	if p.TenantID == "" {
		return domain.ScopeGlobal, fmt.Errorf("%w: role %q has no tenant id", domain.ErrTenantNotResolved, p.Role)
	}
	return domain.TenantScope(p.TenantID), nil
}
