package core

import "hemoledger/pkg/domain"

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewSinglePendingTransferRule())
	engine.Register(NewCustodyEventTransitionRule())
	engine.Register(NewBloodUnitStatusRule())
	engine.Register(NewCustodyTrailConsistencyRule())
	engine.Register(NewRoleGrantOrderingRule())
	return engine
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
