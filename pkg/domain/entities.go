// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by foodshare.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityListing identifies a donated food listing.
	EntityListing EntityType = "listing"
	// EntityClaim identifies a recipient claim against a listing.
	EntityClaim EntityType = "claim"
	// EntityDelivery identifies the delivery tracking record of a claim.
	EntityDelivery EntityType = "delivery"
	// EntityWasteMetric identifies a reported food waste metric snapshot.
	EntityWasteMetric EntityType = "waste_metric"
)

// ListingStatus is the aggregate availability state of a listing.
type ListingStatus string

// Listing statuses. Claimed and distributed are derived from claim statuses.
const (
	ListingStatusAvailable   ListingStatus = "available"
	ListingStatusClaimed     ListingStatus = "claimed"
	ListingStatusDistributed ListingStatus = "distributed"
	ListingStatusExpired     ListingStatus = "expired"
)

// ClaimStatus enumerates claim workflow states. Pending is the only initial state.
type ClaimStatus string

// Claim statuses.
const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusApproved  ClaimStatus = "approved"
	ClaimStatusRejected  ClaimStatus = "rejected"
	ClaimStatusCompleted ClaimStatus = "completed"
)

// DeliveryStatus enumerates the physical handoff states of a delivery.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryStatusScheduled DeliveryStatus = "scheduled"
	DeliveryStatusInTransit DeliveryStatus = "in-transit"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// ListingStatuses returns every listing status in display order.
func ListingStatuses() []ListingStatus {
	return []ListingStatus{ListingStatusAvailable, ListingStatusClaimed, ListingStatusDistributed, ListingStatusExpired}
}

// ClaimStatuses returns every claim status in display order.
func ClaimStatuses() []ClaimStatus {
	return []ClaimStatus{ClaimStatusPending, ClaimStatusApproved, ClaimStatusRejected, ClaimStatusCompleted}
}

// DeliveryStatuses returns every delivery status in display order.
func DeliveryStatuses() []DeliveryStatus {
	return []DeliveryStatus{DeliveryStatusScheduled, DeliveryStatusInTransit, DeliveryStatusDelivered, DeliveryStatusFailed}
}

// Valid reports whether the status belongs to the listing status domain.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusAvailable, ListingStatusClaimed, ListingStatusDistributed, ListingStatusExpired:
		return true
	}
	return false
}

// Valid reports whether the status belongs to the claim status domain.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusPending, ClaimStatusApproved, ClaimStatusRejected, ClaimStatusCompleted:
		return true
	}
	return false
}

// Active reports whether the claim still holds a reservation on its listing.
func (s ClaimStatus) Active() bool {
	return s == ClaimStatusPending || s == ClaimStatusApproved
}

// Valid reports whether the status belongs to the delivery status domain.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusScheduled, DeliveryStatusInTransit, DeliveryStatusDelivered, DeliveryStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further delivery transition is allowed.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusFailed
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Listing is a posted quantity of donated food available for claiming.
//
// Claims is never stored with the record. Stores populate it on every read by
// joining claims on ListingID, so it cannot drift from the canonical claims.
type Listing struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Quantity    float64        `json:"quantity"`
	Unit        string         `json:"unit"`
	Category    string         `json:"category"`
	ExpiryDate  time.Time      `json:"expiry_date"`
	Location    string         `json:"location"`
	Latitude    *float64       `json:"latitude,omitempty"`
	Longitude   *float64       `json:"longitude,omitempty"`
	DonorID     string         `json:"donor_id"`
	DonorName   string         `json:"donor_name"`
	Status      ListingStatus  `json:"status"`
	Image       string         `json:"image,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Claims      []ClaimSummary `json:"claims"`
}

// ClaimSummary is the read-only projection of a claim embedded in a listing.
type ClaimSummary struct {
	ID            string      `json:"id"`
	RecipientID   string      `json:"recipient_id"`
	RecipientName string      `json:"recipient_name"`
	Quantity      float64     `json:"quantity"`
	Status        ClaimStatus `json:"status"`
	ClaimedAt     time.Time   `json:"claimed_at"`
}

// Claim is a recipient's request against a specific listing's quantity.
type Claim struct {
	ID            string      `json:"id"`
	ListingID     string      `json:"listing_id"`
	RecipientID   string      `json:"recipient_id"`
	RecipientName string      `json:"recipient_name"`
	Quantity      float64     `json:"quantity"`
	Status        ClaimStatus `json:"status"`
	Message       string      `json:"message,omitempty"`
	ClaimedAt     time.Time   `json:"claimed_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// Summary projects the claim into the form embedded in its listing.
func (c Claim) Summary() ClaimSummary {
	return ClaimSummary{
		ID:            c.ID,
		RecipientID:   c.RecipientID,
		RecipientName: c.RecipientName,
		Quantity:      c.Quantity,
		Status:        c.Status,
		ClaimedAt:     c.ClaimedAt,
	}
}

// Delivery tracks pickup, transit and drop-off for an approved claim.
type Delivery struct {
	ID           string         `json:"id"`
	ClaimID      string         `json:"claim_id"`
	Status       DeliveryStatus `json:"status"`
	PickupTime   *time.Time     `json:"pickup_time,omitempty"`
	DeliveryTime *time.Time     `json:"delivery_time,omitempty"`
	Distance     float64        `json:"distance"`
	Route        string         `json:"route,omitempty"`
	ProofPhotos  []string       `json:"proof_photos"`
	Notes        string         `json:"notes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CategoryAmount is the waste reduced for a single food category.
type CategoryAmount struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// WasteMetric is a reported impact snapshot. Transitions never mutate it.
type WasteMetric struct {
	Date                time.Time        `json:"date"`
	WasteReduced        float64          `json:"waste_reduced"`
	FoodDonated         float64          `json:"food_donated"`
	RecipientsBenefited int              `json:"recipients_benefited"`
	CO2Saved            float64          `json:"co2_saved"`
	MealsProvided       int              `json:"meals_provided"`
	MonetaryValue       decimal.Decimal  `json:"monetary_value"`
	CategoriesWaste     []CategoryAmount `json:"categories_waste"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
	// Cause is the typed error surfaced through RuleViolationError when the
	// violation blocks the commit.
	Cause error `json:"-"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Message != "" {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// Unwrap exposes the typed causes of blocking violations to errors.As.
func (e RuleViolationError) Unwrap() []error {
	var errs []error
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Cause != nil {
			errs = append(errs, v.Cause)
		}
	}
	return errs
}
