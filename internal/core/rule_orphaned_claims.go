package core

import (
	"context"
	"fmt"

	"foodshare/pkg/domain"
)

// OrphanedClaimsRule warns when a deleted listing leaves claims behind.
func OrphanedClaimsRule() domain.Rule {
	return orphanedClaimsRule{}
}

type orphanedClaimsRule struct{}

func (orphanedClaimsRule) Name() string { return "orphaned_claims" }

func (r orphanedClaimsRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityListing || change.Action != domain.ActionDelete {
			continue
		}
		before, ok := change.Before.(domain.Listing)
		if !ok {
			continue
		}
		claims := view.ClaimsForListing(before.ID)
		if len(claims) == 0 {
			continue
		}
		active := 0
		for _, claim := range claims {
			if claim.Status.Active() {
				active++
			}
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("listing %s deleted with %d claims (%d active) left referencing it", before.ID, len(claims), active),
			Entity:   domain.EntityListing,
			EntityID: before.ID,
		})
	}
	return res, nil
}
