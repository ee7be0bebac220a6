package core

import (
	"context"
	"fmt"
	"sort"

	"foodshare/pkg/domain"
)

// ClaimRequest is a recipient's request for part of a listing.
type ClaimRequest struct {
	ListingID     string
	Quantity      float64
	RecipientID   string
	RecipientName string
	Message       string
}

// CreateClaim records a pending claim against an existing listing. The
// listing's status is left unchanged.
func (s *Service) CreateClaim(ctx context.Context, req ClaimRequest) (Claim, Result, error) {
	var created Claim
	res, err := s.run(ctx, "create_claim", func(tx domain.Transaction) (string, error) {
		var err error
		created, err = tx.CreateClaim(Claim{
			ListingID:     req.ListingID,
			Quantity:      req.Quantity,
			RecipientID:   req.RecipientID,
			RecipientName: req.RecipientName,
			Message:       req.Message,
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateClaimStatus sets a claim's status and applies the cascade in the same
// transaction: the owning listing's status is re-derived and an approval
// schedules the claim's delivery if it has none yet.
//
// Any status may follow any other. A claim whose listing was deleted is still
// updated; no listing is touched.
func (s *Service) UpdateClaimStatus(ctx context.Context, claimID string, status ClaimStatus) (ClaimTransition, Result, error) {
	var out ClaimTransition
	res, err := s.run(ctx, "update_claim_status", func(tx domain.Transaction) (string, error) {
		out = ClaimTransition{}
		if !status.Valid() {
			return claimID, domain.ErrValidation{Entity: domain.EntityClaim, Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
		}
		claim, err := tx.UpdateClaim(claimID, func(c *Claim) error {
			c.Status = status
			if status == domain.ClaimStatusCompleted && c.CompletedAt == nil {
				now := tx.Now()
				c.CompletedAt = &now
			}
			return nil
		})
		if err != nil {
			return claimID, err
		}
		out.Claim = claim

		if listing, ok := tx.FindListing(claim.ListingID); ok {
			next := DeriveListingStatus(listing.Status, status, tx.Snapshot().ClaimsForListing(listing.ID))
			if next != listing.Status {
				listing, err = tx.UpdateListing(listing.ID, func(l *Listing) error {
					l.Status = next
					return nil
				})
				if err != nil {
					return claimID, err
				}
				out.ListingChanged = true
			}
			out.Listing = &listing
		}

		delivery, exists := tx.FindDeliveryByClaim(claim.ID)
		if !exists && status == domain.ClaimStatusApproved {
			pickup := tx.Now()
			delivery, err = tx.CreateDelivery(Delivery{
				ClaimID:     claim.ID,
				Status:      domain.DeliveryStatusScheduled,
				PickupTime:  &pickup,
				ProofPhotos: []string{},
			})
			if err != nil {
				return claimID, err
			}
			exists = true
			out.DeliveryCreated = true
		}
		if exists {
			out.Delivery = &delivery
		}
		return claimID, nil
	})
	if err != nil {
		return ClaimTransition{}, res, err
	}
	if out.ListingChanged {
		s.logger.Info("listing status derived", "listing_id", out.Listing.ID, "status", string(out.Listing.Status), "claim_id", claimID)
	}
	if out.DeliveryCreated {
		s.logger.Info("delivery scheduled", "delivery_id", out.Delivery.ID, "claim_id", claimID)
	}
	return out, res, nil
}

// GetClaim returns a claim by ID.
func (s *Service) GetClaim(id string) (Claim, bool) {
	return s.store.GetClaim(id)
}

// ListClaims returns claims matching pred, newest first. A nil pred matches
// every claim.
func (s *Service) ListClaims(pred func(Claim) bool) []Claim {
	all := s.store.ListClaims()
	out := make([]Claim, 0, len(all))
	for _, claim := range all {
		if pred == nil || pred(claim) {
			out = append(out, claim)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ClaimedAt.Equal(out[j].ClaimedAt) {
			return out[i].ClaimedAt.After(out[j].ClaimedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClaimsByListing returns the claims made against listingID.
func (s *Service) ClaimsByListing(listingID string) []Claim {
	return s.ListClaims(func(c Claim) bool { return c.ListingID == listingID })
}

// ClaimsByRecipient returns the claims made by recipientID.
func (s *Service) ClaimsByRecipient(recipientID string) []Claim {
	return s.ListClaims(func(c Claim) bool { return c.RecipientID == recipientID })
}

// ClaimsByStatus returns the claims currently in status.
func (s *Service) ClaimsByStatus(status ClaimStatus) []Claim {
	return s.ListClaims(func(c Claim) bool { return c.Status == status })
}
