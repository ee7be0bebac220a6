package core

import "foodshare/pkg/domain"

// ClaimTransition bundles every record touched by a claim status change.
// Listing is nil when the claim's listing no longer exists. Delivery is set
// whenever the claim has one after the change.
type ClaimTransition struct {
	Claim           domain.Claim
	Listing         *domain.Listing
	Delivery        *domain.Delivery
	DeliveryCreated bool
	ListingChanged  bool
}

// DeriveListingStatus computes a listing's status after one of its claims
// moved to newStatus. claims must reflect the listing's claims after the
// update, including the claim that changed.
//
// Approval marks the listing claimed and completion marks it distributed.
// A rejection returns a claimed listing to available only when no pending or
// approved claim remains. Every other combination keeps the current status.
func DeriveListingStatus(current domain.ListingStatus, newStatus domain.ClaimStatus, claims []domain.Claim) domain.ListingStatus {
	switch newStatus {
	case domain.ClaimStatusApproved:
		return domain.ListingStatusClaimed
	case domain.ClaimStatusCompleted:
		return domain.ListingStatusDistributed
	case domain.ClaimStatusRejected:
		if current != domain.ListingStatusClaimed {
			return current
		}
		for _, claim := range claims {
			if claim.Status.Active() {
				return current
			}
		}
		return domain.ListingStatusAvailable
	}
	return current
}
