package core

import (
	"context"
	"fmt"

	"hemoledger/pkg/domain"
)

// NewRoleGrantOrderingRule returns the default rule keeping per-address grant
// sequences strictly ordered (which also guarantees one grant per role) and
// rejecting empty records, which must be deleted instead.
func NewRoleGrantOrderingRule() domain.Rule {
	return roleGrantOrderingRule{}
}

type roleGrantOrderingRule struct{}

func (roleGrantOrderingRule) Name() string { return "role_grant_ordering" }

func (roleGrantOrderingRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, record := range view.ListRoleRecords() {
		if len(record.Grants) == 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "role_grant_ordering",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("role record for %s holds no grants", record.Address),
				Entity:   domain.EntityRoleRecord,
				EntityID: record.Address,
			})
			continue
		}
		if !domain.GrantsOrdered(record.Grants) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "role_grant_ordering",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("grants for %s are not strictly ordered", record.Address),
				Entity:   domain.EntityRoleRecord,
				EntityID: record.Address,
			})
		}
	}
	return res, nil
}
