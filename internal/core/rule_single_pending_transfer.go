package core

import (
	"context"
	"fmt"

	"hemoledger/pkg/domain"
)

// NewSinglePendingTransferRule returns the default rule enforcing at most one
// pending custody event per blood unit across the whole store.
func NewSinglePendingTransferRule() domain.Rule {
	return singlePendingTransferRule{}
}

type singlePendingTransferRule struct{}

func (singlePendingTransferRule) Name() string { return "single_pending_transfer" }

func (singlePendingTransferRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	pending := make(map[uint64]int)
	for _, event := range view.ListCustodyEvents() {
		if event.Status == domain.CustodyStatusPending {
			pending[event.UnitID]++
		}
	}

	res := domain.Result{}
	for _, unit := range view.ListBloodUnits() {
		count := pending[unit.ID]
		if count > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "single_pending_transfer",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %d has %d pending transfers, at most one is allowed", unit.ID, count),
				Entity:   domain.EntityBloodUnit,
				EntityID: unitKey(unit.ID),
			})
		}
	}
	return res, nil
}
