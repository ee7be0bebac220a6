package domain

import (
	"context"
	"fmt"
)

// RuleView is the state a rule sees: the transaction's working copy, with
// every change already applied.
type RuleView = TransactionView

// Rule inspects the changes of one transaction. Blocking violations in its
// Result abort the commit; an error aborts it without violations.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs rules in registration order.
type RulesEngine struct {
	rules []Rule
}

func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register adds rule after those already registered. Nil rules are ignored.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Rules lists rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate merges every rule's violations. The first rule error, or a
// cancelled ctx, stops evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var out Result
	for _, r := range e.rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := r.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", r.Name(), err)
		}
		out.Merge(res)
	}
	return out, nil
}
