package core

import (
	"context"
	"fmt"

	"hemoledger/pkg/domain"
)

// NewCustodyEventTransitionRule returns the default rule holding transfer
// events to their state machine: created events start pending, pending events
// resolve to confirmed or cancelled, and resolved events are immutable.
func NewCustodyEventTransitionRule() domain.Rule {
	return custodyEventTransitionRule{}
}

type custodyEventTransitionRule struct{}

// custodyResolutions lists the states a pending event may move to.
var custodyResolutions = toSet(
	string(domain.CustodyStatusConfirmed),
	string(domain.CustodyStatusCancelled),
)

func (custodyEventTransitionRule) Name() string { return "custody_event_transition" }

func (custodyEventTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityCustodyEvent {
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			event, ok := domain.DecodeChangePayload[domain.CustodyEvent](change.After)
			if !ok {
				continue
			}
			if event.Status != domain.CustodyStatusPending {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "custody_event_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("custody event %s created in state %s instead of %s", event.ID, event.Status, domain.CustodyStatusPending),
					Entity:   domain.EntityCustodyEvent,
					EntityID: event.ID,
				})
			}
		case domain.ActionUpdate:
			before, okBefore := domain.DecodeChangePayload[domain.CustodyEvent](change.Before)
			after, okAfter := domain.DecodeChangePayload[domain.CustodyEvent](change.After)
			if !okBefore || !okAfter {
				continue
			}
			if !after.Status.Valid() {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "custody_event_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("custody event %s is set to invalid state %s", after.ID, after.Status),
					Entity:   domain.EntityCustodyEvent,
					EntityID: after.ID,
				})
				continue
			}
			if before.Status.Terminal() {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "custody_event_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("custody event %s is immutable in terminal state %s", after.ID, before.Status),
					Entity:   domain.EntityCustodyEvent,
					EntityID: after.ID,
				})
				continue
			}
			if after.Status == before.Status {
				continue
			}
			if _, ok := custodyResolutions[string(after.Status)]; !ok || before.Status != domain.CustodyStatusPending {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "custody_event_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("cannot move custody event %s from %s to %s", after.ID, before.Status, after.Status),
					Entity:   domain.EntityCustodyEvent,
					EntityID: after.ID,
				})
			}
		}
	}
	return res, nil
}
