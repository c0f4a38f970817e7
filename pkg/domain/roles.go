package domain

import (
	"fmt"
	"time"
)

// RoleKind discriminates the role variants understood by the access store.
type RoleKind string

// Known role kinds, listed in comparison order.
const (
	RoleAdmin     RoleKind = "admin"
	RoleHospital  RoleKind = "hospital"
	RoleDonor     RoleKind = "donor"
	RoleRider     RoleKind = "rider"
	RoleBloodBank RoleKind = "blood_bank"
	RoleCustom    RoleKind = "custom"
)

// Role is a tagged variant: Code carries meaning only when Kind is RoleCustom
// and is zero otherwise.
type Role struct {
	Kind RoleKind `json:"kind"`
	Code uint32   `json:"code,omitempty"`
}

// CustomRole builds a custom role carrying an application-defined code.
func CustomRole(code uint32) Role {
	return Role{Kind: RoleCustom, Code: code}
}

// Valid reports whether the role names a known kind.
func (r Role) Valid() bool {
	switch r.Kind {
	case RoleAdmin, RoleHospital, RoleDonor, RoleRider, RoleBloodBank, RoleCustom:
		return true
	default:
		return false
	}
}

// String renders the role for logs and violation messages.
func (r Role) String() string {
	if r.Kind == RoleCustom {
		return fmt.Sprintf("custom(%d)", r.Code)
	}
	return string(r.Kind)
}

// roleRank fixes the total order of kinds; custom roles sort after every
// built-in kind and among themselves by code.
func roleRank(kind RoleKind) int {
	switch kind {
	case RoleAdmin:
		return 0
	case RoleHospital:
		return 1
	case RoleDonor:
		return 2
	case RoleRider:
		return 3
	case RoleBloodBank:
		return 4
	default:
		return 5
	}
}

// CompareRoles is the single ordering authority for role grants. It returns a
// negative value when a sorts before b, zero when they denote the same role,
// and a positive value otherwise.
func CompareRoles(a, b Role) int {
	ra, rb := roleRank(a.Kind), roleRank(b.Kind)
	if ra != rb {
		return ra - rb
	}
	if a.Kind != RoleCustom {
		return 0
	}
	switch {
	case a.Code < b.Code:
		return -1
	case a.Code > b.Code:
		return 1
	default:
		return 0
	}
}

// SameRole reports whether two roles denote the same grant slot.
func SameRole(a, b Role) bool {
	return CompareRoles(a, b) == 0
}

// RoleGrant binds one role to an address, optionally until an expiry instant.
type RoleGrant struct {
	Role      Role       `json:"role"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the grant has lapsed at the given instant. Grants
// without an expiry never lapse; the expiry boundary itself counts as lapsed.
func (g RoleGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// RoleRecord is the stored per-address grant sequence, ordered by CompareRoles.
type RoleRecord struct {
	Address string      `json:"address"`
	Grants  []RoleGrant `json:"grants"`
}

// SweepExpiredGrants drops every grant lapsed at now, preserving the relative
// order of survivors. The returned count is the number removed.
func SweepExpiredGrants(grants []RoleGrant, now time.Time) ([]RoleGrant, int) {
	kept := make([]RoleGrant, 0, len(grants))
	for _, grant := range grants {
		if grant.Expired(now) {
			continue
		}
		kept = append(kept, grant)
	}
	return kept, len(grants) - len(kept)
}

// RemoveGrant drops the grant for role when present; the slice is otherwise
// returned unchanged.
func RemoveGrant(grants []RoleGrant, role Role) []RoleGrant {
	out := make([]RoleGrant, 0, len(grants))
	for _, grant := range grants {
		if SameRole(grant.Role, role) {
			continue
		}
		out = append(out, grant)
	}
	return out
}

// InsertGrantOrdered places grant before the first entry whose role compares
// greater, keeping the sequence sorted by CompareRoles. Callers remove any
// existing grant for the same role first.
func InsertGrantOrdered(grants []RoleGrant, grant RoleGrant) []RoleGrant {
	idx := len(grants)
	for i, existing := range grants {
		if CompareRoles(existing.Role, grant.Role) > 0 {
			idx = i
			break
		}
	}
	out := make([]RoleGrant, 0, len(grants)+1)
	out = append(out, grants[:idx]...)
	out = append(out, grant)
	out = append(out, grants[idx:]...)
	return out
}

// FindGrant returns the grant for role when one is stored.
func FindGrant(grants []RoleGrant, role Role) (RoleGrant, bool) {
	for _, grant := range grants {
		if SameRole(grant.Role, role) {
			return grant, true
		}
	}
	return RoleGrant{}, false
}

// GrantsOrdered reports whether grants are strictly ascending under
// CompareRoles, which also implies per-role uniqueness.
func GrantsOrdered(grants []RoleGrant) bool {
	for i := 1; i < len(grants); i++ {
		if CompareRoles(grants[i-1].Role, grants[i].Role) >= 0 {
			return false
		}
	}
	return true
}
