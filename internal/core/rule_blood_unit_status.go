package core

import (
	"context"
	"fmt"

	"hemoledger/pkg/domain"
)

// NewBloodUnitStatusRule returns the default rule holding blood units to their
// status lattice: registered units start available, available units can be
// reserved, reserved units can be delivered (or restored to reserved when a
// transfer is cancelled), delivered and expired units never move again, and
// units are never deleted.
func NewBloodUnitStatusRule() domain.Rule {
	return bloodUnitStatusRule{}
}

type bloodUnitStatusRule struct{}

// bloodTransitions maps each non-terminal status to the statuses it may move to.
var bloodTransitions = map[string]map[string]struct{}{
	string(domain.BloodStatusAvailable): toSet(string(domain.BloodStatusReserved)),
	string(domain.BloodStatusReserved):  toSet(string(domain.BloodStatusDelivered)),
}

func (bloodUnitStatusRule) Name() string { return "blood_unit_status" }

func (bloodUnitStatusRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityBloodUnit {
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			unit, ok := domain.DecodeChangePayload[domain.BloodUnit](change.After)
			if !ok {
				continue
			}
			if unit.Status != domain.BloodStatusAvailable {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "blood_unit_status",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("unit %d registered in state %s instead of %s", unit.ID, unit.Status, domain.BloodStatusAvailable),
					Entity:   domain.EntityBloodUnit,
					EntityID: unitKey(unit.ID),
				})
			}
		case domain.ActionUpdate:
			before, okBefore := domain.DecodeChangePayload[domain.BloodUnit](change.Before)
			after, okAfter := domain.DecodeChangePayload[domain.BloodUnit](change.After)
			if !okBefore || !okAfter {
				continue
			}
			if !after.Status.Valid() {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "blood_unit_status",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("unit %d is set to invalid state %s", after.ID, after.Status),
					Entity:   domain.EntityBloodUnit,
					EntityID: unitKey(after.ID),
				})
				continue
			}
			if after.Status == before.Status {
				continue
			}
			if before.Status.Terminal() {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "blood_unit_status",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("cannot move unit %d from terminal state %s to %s", after.ID, before.Status, after.Status),
					Entity:   domain.EntityBloodUnit,
					EntityID: unitKey(after.ID),
				})
				continue
			}
			if _, ok := bloodTransitions[string(before.Status)][string(after.Status)]; !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "blood_unit_status",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("cannot move unit %d from %s to %s", after.ID, before.Status, after.Status),
					Entity:   domain.EntityBloodUnit,
					EntityID: unitKey(after.ID),
				})
			}
		case domain.ActionDelete:
			unit, ok := domain.DecodeChangePayload[domain.BloodUnit](change.Before)
			if !ok {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "blood_unit_status",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %d cannot be deleted, registry records are permanent", unit.ID),
				Entity:   domain.EntityBloodUnit,
				EntityID: unitKey(unit.ID),
			})
		}
	}
	return res, nil
}
