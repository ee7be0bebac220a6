package core

import "foodshare/pkg/domain"

// NewRulesEngine constructs an engine with no rules registered. Every claim
// and delivery status change is accepted.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(StatusDomainRule())
	engine.Register(QuantityBoundsRule())
	engine.Register(DeliveryTransitionRule())
	engine.Register(OrphanedClaimsRule())
	return engine
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
