package core

import (
	"context"
	"fmt"

	"foodshare/pkg/domain"
)

// DeliveryTransitionRule blocks delivery status changes that skip or reverse
// the scheduled, in-transit, delivered progression. Any delivery may move to
// failed, and failed is terminal.
func DeliveryTransitionRule() domain.Rule {
	return deliveryTransitionRule{}
}

type deliveryTransitionRule struct{}

type lifecycleMachine struct {
	entity    domain.EntityType
	label     string
	terminal  map[string]struct{}
	valid     map[string]struct{}
	next      map[string]map[string]struct{}
	extractor func(payload any) (id string, state string, ok bool)
}

func (m lifecycleMachine) allows(from, to string) bool {
	if from == to {
		return true
	}
	if _, done := m.terminal[from]; done {
		return false
	}
	_, ok := m.next[from][to]
	return ok
}

var deliveryMachine = lifecycleMachine{
	entity:   domain.EntityDelivery,
	label:    "delivery",
	terminal: toSet(deliveryStatusStrings(domain.DeliveryStatus.Terminal)...),
	valid:    toSet(deliveryStatusStrings(nil)...),
	next: map[string]map[string]struct{}{
		string(domain.DeliveryStatusScheduled): toSet(string(domain.DeliveryStatusInTransit), string(domain.DeliveryStatusFailed)),
		string(domain.DeliveryStatusInTransit): toSet(string(domain.DeliveryStatusDelivered), string(domain.DeliveryStatusFailed)),
		string(domain.DeliveryStatusDelivered): toSet(string(domain.DeliveryStatusFailed)),
	},
	extractor: func(payload any) (string, string, bool) {
		delivery, ok := payload.(domain.Delivery)
		if !ok {
			return "", "", false
		}
		return delivery.ID, string(delivery.Status), true
	},
}

// deliveryStatusStrings lists the delivery statuses matching keep, or all of
// them when keep is nil.
func deliveryStatusStrings(keep func(domain.DeliveryStatus) bool) []string {
	var out []string
	for _, s := range domain.DeliveryStatuses() {
		if keep == nil || keep(s) {
			out = append(out, string(s))
		}
	}
	return out
}

func (deliveryTransitionRule) Name() string { return "delivery_transition" }

func (r deliveryTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	machine := deliveryMachine
	for _, change := range changes {
		if change.Entity != machine.entity || change.Action != domain.ActionUpdate {
			continue
		}
		beforeID, beforeState, ok := machine.extractor(change.Before)
		if !ok {
			continue
		}
		_, afterState, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		// Unknown states are reported by the status domain rule.
		if _, valid := machine.valid[afterState]; !valid {
			continue
		}
		if machine.allows(beforeState, afterState) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("cannot move %s %s from %s to %s", machine.label, beforeID, beforeState, afterState),
			Entity:   machine.entity,
			EntityID: beforeID,
			Cause: domain.ErrInvalidTransition{
				Entity: machine.entity,
				ID:     beforeID,
				From:   beforeState,
				To:     afterState,
			},
		})
	}
	return res, nil
}
