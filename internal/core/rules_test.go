package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"hemoledger/internal/infra/persistence/memory"
	"hemoledger/pkg/domain"
)

// seedUnchecked builds store state through a rule-free engine so tests can
// craft snapshots the default policy would reject.
func seedUnchecked(t *testing.T, build func(tx Transaction) error) *memory.Store {
	t.Helper()
	store := memory.NewStore(NewRulesEngine())
	if _, err := store.RunInTransaction(context.Background(), build); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	return store
}

func evaluateOnStore(t *testing.T, store *memory.Store, rule domain.Rule, changes []domain.Change) domain.Result {
	t.Helper()
	ctx := context.Background()
	var res domain.Result
	if err := store.View(ctx, func(v domain.TransactionView) error {
		var err error
		res, err = rule.Evaluate(ctx, v, changes)
		return err
	}); err != nil {
		t.Fatalf("evaluate %s: %v", rule.Name(), err)
	}
	return res
}

func newPendingEvent(unitID uint64) domain.CustodyEvent {
	return domain.CustodyEvent{UnitID: unitID, Status: domain.CustodyStatusPending, Initiator: "b1", Counterparty: "h1"}
}

func newAvailableUnit() domain.BloodUnit {
	return domain.BloodUnit{
		BloodType:        domain.BloodTypeOPositive,
		VolumeML:         450,
		Expiration:       time.Now().UTC().Add(time.Hour),
		Status:           domain.BloodStatusAvailable,
		BankID:           "b1",
		CurrentCustodian: "b1",
	}
}

func TestSinglePendingTransferRuleCountsPerUnit(t *testing.T) {
	store := seedUnchecked(t, func(tx Transaction) error {
		unit, err := tx.CreateBloodUnit(newAvailableUnit())
		if err != nil {
			return err
		}
		if _, err := tx.CreateCustodyEvent(newPendingEvent(unit.ID)); err != nil {
			return err
		}
		_, err = tx.CreateCustodyEvent(newPendingEvent(unit.ID))
		return err
	})

	res := evaluateOnStore(t, store, NewSinglePendingTransferRule(), nil)
	if !hasViolation(res, "single_pending_transfer") {
		t.Fatalf("expected pending duplication violation, got %v", res.Violations)
	}
}

func TestSinglePendingTransferRuleAllowsOnePending(t *testing.T) {
	store := seedUnchecked(t, func(tx Transaction) error {
		unit, err := tx.CreateBloodUnit(newAvailableUnit())
		if err != nil {
			return err
		}
		if _, err := tx.CreateCustodyEvent(newPendingEvent(unit.ID)); err != nil {
			return err
		}
		cancelled := newPendingEvent(unit.ID)
		cancelled.Status = domain.CustodyStatusCancelled
		_, err = tx.CreateCustodyEvent(cancelled)
		return err
	})

	res := evaluateOnStore(t, store, NewSinglePendingTransferRule(), nil)
	if len(res.Violations) != 0 {
		t.Fatalf("resolved events must not count against the pending cap, got %v", res.Violations)
	}
}

func TestCustodyTrailConsistencyRuleDetectsDrift(t *testing.T) {
	store := seedUnchecked(t, func(tx Transaction) error {
		unit, err := tx.CreateBloodUnit(newAvailableUnit())
		if err != nil {
			return err
		}
		_, err = tx.PutTrailMetadata(domain.TrailMetadata{UnitID: unit.ID, TotalEvents: 3})
		return err
	})

	res := evaluateOnStore(t, store, NewCustodyTrailConsistencyRule(), nil)
	if !hasViolation(res, "custody_trail_consistency") {
		t.Fatalf("expected trail drift violation, got %v", res.Violations)
	}
}

func TestCustodyTrailConsistencyRuleAcceptsMatchingCounts(t *testing.T) {
	store := seedUnchecked(t, func(tx Transaction) error {
		unit, err := tx.CreateBloodUnit(newAvailableUnit())
		if err != nil {
			return err
		}
		confirmed := newPendingEvent(unit.ID)
		confirmed.Status = domain.CustodyStatusConfirmed
		if _, err := tx.CreateCustodyEvent(confirmed); err != nil {
			return err
		}
		_, err = tx.PutTrailMetadata(domain.TrailMetadata{UnitID: unit.ID, TotalEvents: 1})
		return err
	})

	res := evaluateOnStore(t, store, NewCustodyTrailConsistencyRule(), nil)
	if len(res.Violations) != 0 {
		t.Fatalf("expected matching trail to pass, got %v", res.Violations)
	}
}

func TestCustodyTrailConsistencyRuleFlagsOrphanTrail(t *testing.T) {
	store := seedUnchecked(t, func(tx Transaction) error {
		_, err := tx.PutTrailMetadata(domain.TrailMetadata{UnitID: 77, TotalEvents: 1})
		return err
	})

	res := evaluateOnStore(t, store, NewCustodyTrailConsistencyRule(), nil)
	if !hasViolation(res, "custody_trail_consistency") {
		t.Fatalf("expected orphan trail violation, got %v", res.Violations)
	}
}

func TestRoleGrantOrderingRuleDetectsDisorder(t *testing.T) {
	now := time.Now().UTC()
	store := seedUnchecked(t, func(tx Transaction) error {
		_, err := tx.PutRoleGrants("addr-x", []domain.RoleGrant{
			{Role: domain.Role{Kind: domain.RoleRider}, GrantedAt: now},
			{Role: domain.Role{Kind: domain.RoleAdmin}, GrantedAt: now},
		})
		return err
	})

	res := evaluateOnStore(t, store, NewRoleGrantOrderingRule(), nil)
	if !hasViolation(res, "role_grant_ordering") {
		t.Fatalf("expected ordering violation, got %v", res.Violations)
	}
}

func TestRoleGrantOrderingRuleAcceptsOrderedRecords(t *testing.T) {
	now := time.Now().UTC()
	store := seedUnchecked(t, func(tx Transaction) error {
		_, err := tx.PutRoleGrants("addr-x", []domain.RoleGrant{
			{Role: domain.Role{Kind: domain.RoleAdmin}, GrantedAt: now},
			{Role: domain.CustomRole(2), GrantedAt: now},
		})
		return err
	})

	res := evaluateOnStore(t, store, NewRoleGrantOrderingRule(), nil)
	if len(res.Violations) != 0 {
		t.Fatalf("expected ordered record to pass, got %v", res.Violations)
	}
}

func TestRoleGrantOrderingRuleRejectsEmptyRecords(t *testing.T) {
	view := stubRuleView{records: []domain.RoleRecord{{Address: "addr-x"}}}
	res, err := NewRoleGrantOrderingRule().Evaluate(context.Background(), view, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !hasViolation(res, "role_grant_ordering") {
		t.Fatalf("expected empty record violation, got %v", res.Violations)
	}
}

func TestDefaultRulesEngineBlocksHandCraftedDrift(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(NewDefaultRulesEngine())

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		unit, err := tx.CreateBloodUnit(newAvailableUnit())
		if err != nil {
			return err
		}
		if _, err := tx.CreateCustodyEvent(newPendingEvent(unit.ID)); err != nil {
			return err
		}
		_, err = tx.CreateCustodyEvent(newPendingEvent(unit.ID))
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !hasViolation(violation.Result, "single_pending_transfer") {
		t.Fatalf("expected single_pending_transfer violation, got %v", violation.Result.Violations)
	}
	if units := store.ListBloodUnits(); len(units) != 0 {
		t.Fatalf("blocked transaction must not commit, found %d units", len(units))
	}
}

func TestDefaultRulesEngineComposition(t *testing.T) {
	store := seedUnchecked(t, func(tx Transaction) error {
		unit, err := tx.CreateBloodUnit(newAvailableUnit())
		if err != nil {
			return err
		}
		if _, err := tx.CreateCustodyEvent(newPendingEvent(unit.ID)); err != nil {
			return err
		}
		if _, err := tx.CreateCustodyEvent(newPendingEvent(unit.ID)); err != nil {
			return err
		}
		if _, err := tx.PutTrailMetadata(domain.TrailMetadata{UnitID: unit.ID, TotalEvents: 9}); err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.PutRoleGrants("addr-x", []domain.RoleGrant{
			{Role: domain.Role{Kind: domain.RoleRider}, GrantedAt: now},
			{Role: domain.Role{Kind: domain.RoleAdmin}, GrantedAt: now},
		})
		return err
	})

	ctx := context.Background()
	engine := NewDefaultRulesEngine()
	var res domain.Result
	if err := store.View(ctx, func(v domain.TransactionView) error {
		var err error
		res, err = engine.Evaluate(ctx, v, nil)
		return err
	}); err != nil {
		t.Fatalf("evaluate default engine: %v", err)
	}

	for _, rule := range []string{"single_pending_transfer", "custody_trail_consistency", "role_grant_ordering"} {
		if !hasViolation(res, rule) {
			t.Fatalf("expected %s violation, got %v", rule, res.Violations)
		}
	}
}

type stubRuleView struct {
	records []domain.RoleRecord
}

func (v stubRuleView) ListBloodUnits() []domain.BloodUnit         { return nil }
func (v stubRuleView) ListCustodyEvents() []domain.CustodyEvent   { return nil }
func (v stubRuleView) ListTrailMetadata() []domain.TrailMetadata  { return nil }
func (v stubRuleView) ListRoleRecords() []domain.RoleRecord       { return v.records }
func (v stubRuleView) FindBloodUnit(uint64) (domain.BloodUnit, bool) {
	return domain.BloodUnit{}, false
}
func (v stubRuleView) FindCustodyEvent(string) (domain.CustodyEvent, bool) {
	return domain.CustodyEvent{}, false
}
func (v stubRuleView) FindTrailMetadata(uint64) (domain.TrailMetadata, bool) {
	return domain.TrailMetadata{}, false
}
func (v stubRuleView) Config() (domain.Config, bool) { return domain.Config{}, false }
