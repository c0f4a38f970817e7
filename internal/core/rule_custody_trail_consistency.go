package core

import (
	"context"
	"fmt"

	"hemoledger/pkg/domain"
)

// NewCustodyTrailConsistencyRule returns the default rule cross-checking each
// unit's trail counter against the event store: TotalEvents must equal the
// number of confirmed transfers, with an absent record counting as zero.
func NewCustodyTrailConsistencyRule() domain.Rule {
	return custodyTrailConsistencyRule{}
}

type custodyTrailConsistencyRule struct{}

func (custodyTrailConsistencyRule) Name() string { return "custody_trail_consistency" }

func (custodyTrailConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	confirmed := make(map[uint64]uint64)
	for _, event := range view.ListCustodyEvents() {
		if event.Status == domain.CustodyStatusConfirmed {
			confirmed[event.UnitID]++
		}
	}

	res := domain.Result{}
	for _, unit := range view.ListBloodUnits() {
		var total uint64
		if trail, ok := view.FindTrailMetadata(unit.ID); ok {
			total = trail.TotalEvents
		}
		if want := confirmed[unit.ID]; total != want {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "custody_trail_consistency",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %d trail reports %d confirmed transfers, event store holds %d", unit.ID, total, want),
				Entity:   domain.EntityCustodyTrail,
				EntityID: unitKey(unit.ID),
			})
		}
	}
	for _, trail := range view.ListTrailMetadata() {
		if _, ok := view.FindBloodUnit(trail.UnitID); !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "custody_trail_consistency",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("trail for unknown unit %d", trail.UnitID),
				Entity:   domain.EntityCustodyTrail,
				EntityID: unitKey(trail.UnitID),
			})
		}
	}
	return res, nil
}
