package core

import (
	"context"
	"fmt"

	"foodshare/pkg/domain"
)

// StatusDomainRule blocks writes that leave a listing, claim or delivery in a
// status outside its enumeration.
func StatusDomainRule() domain.Rule {
	return statusDomainRule{}
}

type statusDomainRule struct{}

func (statusDomainRule) Name() string { return "status_domain" }

func statusOf(change domain.Change) (id string, status string, valid bool, ok bool) {
	switch after := change.After.(type) {
	case domain.Listing:
		return after.ID, string(after.Status), after.Status.Valid(), true
	case domain.Claim:
		return after.ID, string(after.Status), after.Status.Valid(), true
	case domain.Delivery:
		return after.ID, string(after.Status), after.Status.Valid(), true
	}
	return "", "", false, false
}

func (r statusDomainRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		id, status, valid, ok := statusOf(change)
		if !ok || valid {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s has unknown status %q", change.Entity, id, status),
			Entity:   change.Entity,
			EntityID: id,
			Cause:    domain.ErrValidation{Entity: change.Entity, Field: "status", Reason: fmt.Sprintf("unknown status %q", status)},
		})
	}
	return res, nil
}
