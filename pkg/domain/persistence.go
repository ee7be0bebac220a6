package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	CreateListing(Listing) (Listing, error)
	UpdateListing(id string, mutator func(*Listing) error) (Listing, error)
	DeleteListing(id string) error
	CreateClaim(Claim) (Claim, error)
	UpdateClaim(id string, mutator func(*Claim) error) (Claim, error)
	CreateDelivery(Delivery) (Delivery, error)
	UpdateDelivery(id string, mutator func(*Delivery) error) (Delivery, error)
	AddMetric(WasteMetric) (WasteMetric, error)
	FindListing(id string) (Listing, bool)
	FindClaim(id string) (Claim, bool)
	FindDelivery(id string) (Delivery, bool)
	FindDeliveryByClaim(claimID string) (Delivery, bool)
}

// TransactionView provides read-only access to snapshot data for rules and queries.
type TransactionView interface {
	ListListings() []Listing
	ListClaims() []Claim
	ListDeliveries() []Delivery
	ListMetrics() []WasteMetric
	FindListing(id string) (Listing, bool)
	FindClaim(id string) (Claim, bool)
	FindDelivery(id string) (Delivery, bool)
	FindDeliveryByClaim(claimID string) (Delivery, bool)
	ClaimsForListing(listingID string) []Claim
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetListing(id string) (Listing, bool)
	ListListings() []Listing
	GetClaim(id string) (Claim, bool)
	ListClaims() []Claim
	GetDelivery(id string) (Delivery, bool)
	ListDeliveries() []Delivery
	DeliveryForClaim(claimID string) (Delivery, bool)
	ListMetrics() []WasteMetric
}
