package domain

import (
	"testing"
	"time"
)

func TestCompareRolesTotalOrder(t *testing.T) {
	ordered := []Role{
		{Kind: RoleAdmin},
		{Kind: RoleHospital},
		{Kind: RoleDonor},
		{Kind: RoleRider},
		{Kind: RoleBloodBank},
		CustomRole(0),
		CustomRole(7),
		CustomRole(900),
	}
	for i := 1; i < len(ordered); i++ {
		if CompareRoles(ordered[i-1], ordered[i]) >= 0 {
			t.Fatalf("expected %s < %s", ordered[i-1], ordered[i])
		}
		if CompareRoles(ordered[i], ordered[i-1]) <= 0 {
			t.Fatalf("expected %s > %s", ordered[i], ordered[i-1])
		}
	}
	for _, role := range ordered {
		if CompareRoles(role, role) != 0 {
			t.Fatalf("expected %s to equal itself", role)
		}
	}
}

func TestCompareRolesIgnoresCodeForBuiltins(t *testing.T) {
	a := Role{Kind: RoleHospital}
	b := Role{Kind: RoleHospital, Code: 42}
	if !SameRole(a, b) {
		t.Fatalf("built-in roles must compare equal regardless of code")
	}
}

func TestInsertGrantOrderedKeepsSequenceSorted(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var grants []RoleGrant
	for _, role := range []Role{
		{Kind: RoleBloodBank},
		{Kind: RoleAdmin},
		CustomRole(9),
		{Kind: RoleRider},
		CustomRole(2),
	} {
		grants = InsertGrantOrdered(grants, RoleGrant{Role: role, GrantedAt: now})
	}
	if !GrantsOrdered(grants) {
		t.Fatalf("expected ordered grants, got %v", grants)
	}
	if len(grants) != 5 {
		t.Fatalf("expected 5 grants, got %d", len(grants))
	}
	if grants[0].Role.Kind != RoleAdmin {
		t.Fatalf("expected admin first, got %s", grants[0].Role)
	}
	if grants[len(grants)-1].Role.Code != 9 {
		t.Fatalf("expected custom(9) last, got %s", grants[len(grants)-1].Role)
	}
}

func TestGrantExpiryIsInclusive(t *testing.T) {
	deadline := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	grant := RoleGrant{Role: Role{Kind: RoleDonor}, ExpiresAt: &deadline}

	if grant.Expired(deadline.Add(-time.Second)) {
		t.Fatalf("grant must be live before the deadline")
	}
	if !grant.Expired(deadline) {
		t.Fatalf("grant must lapse exactly at the deadline")
	}
	if !grant.Expired(deadline.Add(time.Second)) {
		t.Fatalf("grant must stay lapsed after the deadline")
	}

	forever := RoleGrant{Role: Role{Kind: RoleDonor}}
	if forever.Expired(deadline.Add(100 * 365 * 24 * time.Hour)) {
		t.Fatalf("grant without expiry must never lapse")
	}
}

func TestSweepExpiredGrantsPreservesSurvivorOrder(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	grants := []RoleGrant{
		{Role: Role{Kind: RoleAdmin}, ExpiresAt: &past},
		{Role: Role{Kind: RoleHospital}, ExpiresAt: &future},
		{Role: Role{Kind: RoleDonor}},
		{Role: CustomRole(4), ExpiresAt: &now},
	}
	kept, removed := SweepExpiredGrants(grants, now)
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if len(kept) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(kept))
	}
	if kept[0].Role.Kind != RoleHospital || kept[1].Role.Kind != RoleDonor {
		t.Fatalf("survivor order changed: %v", kept)
	}
}

func TestRemoveGrantIsNoopWhenAbsent(t *testing.T) {
	grants := []RoleGrant{{Role: Role{Kind: RoleAdmin}}}
	out := RemoveGrant(grants, Role{Kind: RoleRider})
	if len(out) != 1 {
		t.Fatalf("expected untouched slice, got %v", out)
	}
	out = RemoveGrant(out, Role{Kind: RoleAdmin})
	if len(out) != 0 {
		t.Fatalf("expected empty slice, got %v", out)
	}
}

func TestFindGrant(t *testing.T) {
	grants := []RoleGrant{
		{Role: Role{Kind: RoleHospital}},
		{Role: CustomRole(3)},
	}
	if _, ok := FindGrant(grants, CustomRole(3)); !ok {
		t.Fatalf("expected custom(3) to be found")
	}
	if _, ok := FindGrant(grants, CustomRole(4)); ok {
		t.Fatalf("custom(4) must not match custom(3)")
	}
}

func TestRoleValidity(t *testing.T) {
	if (Role{Kind: "courier"}).Valid() {
		t.Fatalf("unknown kind must be invalid")
	}
	if !CustomRole(1).Valid() {
		t.Fatalf("custom roles are valid")
	}
}
