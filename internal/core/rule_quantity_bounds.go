package core

import (
	"context"
	"fmt"

	"foodshare/pkg/domain"
)

// QuantityBoundsRule blocks negative listing quantities, claim quantities and
// delivery distances. A claim asking for more than its listing offers is
// accepted with a warning.
func QuantityBoundsRule() domain.Rule {
	return quantityBoundsRule{}
}

type quantityBoundsRule struct{}

func (quantityBoundsRule) Name() string { return "quantity_bounds" }

func (r quantityBoundsRule) negative(entity domain.EntityType, id, field string, value float64) domain.Violation {
	return domain.Violation{
		Rule:     r.Name(),
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("%s %s has negative %s %v", entity, id, field, value),
		Entity:   entity,
		EntityID: id,
		Cause:    domain.ErrValidation{Entity: entity, Field: field, Reason: "must not be negative"},
	}
}

func (r quantityBoundsRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.Listing:
			if after.Quantity < 0 {
				res.Violations = append(res.Violations, r.negative(domain.EntityListing, after.ID, "quantity", after.Quantity))
			}
		case domain.Claim:
			if after.Quantity < 0 {
				res.Violations = append(res.Violations, r.negative(domain.EntityClaim, after.ID, "quantity", after.Quantity))
				continue
			}
			listing, ok := view.FindListing(after.ListingID)
			if !ok || after.Quantity <= listing.Quantity {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("claim %s requests %v but listing %s offers %v", after.ID, after.Quantity, listing.ID, listing.Quantity),
				Entity:   domain.EntityClaim,
				EntityID: after.ID,
			})
		case domain.Delivery:
			if after.Distance < 0 {
				res.Violations = append(res.Violations, r.negative(domain.EntityDelivery, after.ID, "distance", after.Distance))
			}
		}
	}
	return res, nil
}
