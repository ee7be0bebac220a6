package core

import (
	"context"
	"sort"

	"foodshare/pkg/domain"

	"github.com/shopspring/decimal"
)

// Per completed claim estimates used for donor impact certificates.
var (
	valuePerCompletedClaim = decimal.NewFromInt(250)
	co2PerCompletedClaim   = 2.5
)

// Aggregator derives read-only impact figures. Every call reads one
// consistent snapshot and recomputes from scratch; nothing is cached.
type Aggregator struct {
	store domain.PersistentStore
}

// NewAggregator constructs an aggregator over store.
func NewAggregator(store domain.PersistentStore) *Aggregator {
	return &Aggregator{store: store}
}

func (a *Aggregator) view(fn func(domain.TransactionView)) {
	_ = a.store.View(context.Background(), func(v domain.TransactionView) error {
		fn(v)
		return nil
	})
}

// ImpactTotals sums every reported waste metric.
type ImpactTotals struct {
	Reports             int             `json:"reports"`
	WasteReduced        float64         `json:"waste_reduced"`
	FoodDonated         float64         `json:"food_donated"`
	RecipientsBenefited int             `json:"recipients_benefited"`
	CO2Saved            float64         `json:"co2_saved"`
	MealsProvided       int             `json:"meals_provided"`
	MonetaryValue       decimal.Decimal `json:"monetary_value"`
}

// Totals sums all recorded waste metrics.
func (a *Aggregator) Totals() ImpactTotals {
	var totals ImpactTotals
	a.view(func(v domain.TransactionView) {
		totals = sumMetrics(v.ListMetrics())
	})
	return totals
}

func sumMetrics(metrics []WasteMetric) ImpactTotals {
	totals := ImpactTotals{MonetaryValue: decimal.Zero}
	for _, m := range metrics {
		totals.Reports++
		totals.WasteReduced += m.WasteReduced
		totals.FoodDonated += m.FoodDonated
		totals.RecipientsBenefited += m.RecipientsBenefited
		totals.CO2Saved += m.CO2Saved
		totals.MealsProvided += m.MealsProvided
		totals.MonetaryValue = totals.MonetaryValue.Add(m.MonetaryValue)
	}
	return totals
}

// CategoryBreakdown sums waste reduced per category across all metrics,
// sorted by category name.
func (a *Aggregator) CategoryBreakdown() []CategoryAmount {
	sums := map[string]float64{}
	a.view(func(v domain.TransactionView) {
		for _, m := range v.ListMetrics() {
			for _, c := range m.CategoriesWaste {
				sums[c.Category] += c.Amount
			}
		}
	})
	out := make([]CategoryAmount, 0, len(sums))
	for category, amount := range sums {
		out = append(out, CategoryAmount{Category: category, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// StatusCounts tallies records per status.
type StatusCounts struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

func newStatusCounts[S ~string](domainValues []S) StatusCounts {
	counts := StatusCounts{Counts: make(map[string]int, len(domainValues))}
	for _, v := range domainValues {
		counts.Counts[string(v)] = 0
	}
	return counts
}

func (c *StatusCounts) add(status string) {
	c.Total++
	c.Counts[status]++
}

// Percentages reports each status as a share of Total in the 0-100 range.
// All shares are zero when nothing was counted.
func (c StatusCounts) Percentages() map[string]float64 {
	out := make(map[string]float64, len(c.Counts))
	for status, n := range c.Counts {
		if c.Total == 0 {
			out[status] = 0
			continue
		}
		out[status] = float64(n) * 100 / float64(c.Total)
	}
	return out
}

// ClaimStatusCounts tallies claims per status.
func (a *Aggregator) ClaimStatusCounts() StatusCounts {
	var counts StatusCounts
	a.view(func(v domain.TransactionView) { counts = claimCounts(v.ListClaims()) })
	return counts
}

// ListingStatusCounts tallies listings per status.
func (a *Aggregator) ListingStatusCounts() StatusCounts {
	var counts StatusCounts
	a.view(func(v domain.TransactionView) { counts = listingCounts(v.ListListings()) })
	return counts
}

// DeliveryStatusCounts tallies deliveries per status.
func (a *Aggregator) DeliveryStatusCounts() StatusCounts {
	var counts StatusCounts
	a.view(func(v domain.TransactionView) { counts = deliveryCounts(v.ListDeliveries()) })
	return counts
}

func claimCounts(claims []Claim) StatusCounts {
	counts := newStatusCounts(domain.ClaimStatuses())
	for _, c := range claims {
		counts.add(string(c.Status))
	}
	return counts
}

func listingCounts(listings []Listing) StatusCounts {
	counts := newStatusCounts(domain.ListingStatuses())
	for _, l := range listings {
		counts.add(string(l.Status))
	}
	return counts
}

func deliveryCounts(deliveries []Delivery) StatusCounts {
	counts := newStatusCounts(domain.DeliveryStatuses())
	for _, d := range deliveries {
		counts.add(string(d.Status))
	}
	return counts
}

// DashboardSummary is the operational overview of the platform.
type DashboardSummary struct {
	AvailableQuantity float64      `json:"available_quantity"`
	AvailableListings int          `json:"available_listings"`
	TotalListings     int          `json:"total_listings"`
	TotalClaims       int          `json:"total_claims"`
	PendingClaims     int          `json:"pending_claims"`
	ApprovedClaims    int          `json:"approved_claims"`
	CompletedClaims   int          `json:"completed_claims"`
	Listings          StatusCounts `json:"listings"`
	Claims            StatusCounts `json:"claims"`
	Deliveries        StatusCounts `json:"deliveries"`
	Impact            ImpactTotals `json:"impact"`
}

// Dashboard computes the overview from one snapshot.
func (a *Aggregator) Dashboard() DashboardSummary {
	var summary DashboardSummary
	a.view(func(v domain.TransactionView) {
		listings := v.ListListings()
		claims := claimCounts(v.ListClaims())
		summary.TotalListings = len(listings)
		for _, l := range listings {
			if l.Status == domain.ListingStatusAvailable {
				summary.AvailableListings++
				summary.AvailableQuantity += l.Quantity
			}
		}
		summary.TotalClaims = claims.Total
		summary.PendingClaims = claims.Counts[string(domain.ClaimStatusPending)]
		summary.ApprovedClaims = claims.Counts[string(domain.ClaimStatusApproved)]
		summary.CompletedClaims = claims.Counts[string(domain.ClaimStatusCompleted)]
		summary.Listings = listingCounts(listings)
		summary.Claims = claims
		summary.Deliveries = deliveryCounts(v.ListDeliveries())
		summary.Impact = sumMetrics(v.ListMetrics())
	})
	return summary
}

// DonorImpact summarises what one donor's listings achieved.
type DonorImpact struct {
	DonorID             string          `json:"donor_id"`
	Listings            int             `json:"listings"`
	AvailableListings   int             `json:"available_listings"`
	QuantityListed      float64         `json:"quantity_listed"`
	QuantityDistributed float64         `json:"quantity_distributed"`
	CompletedClaims     int             `json:"completed_claims"`
	EstimatedValue      decimal.Decimal `json:"estimated_value"`
	CO2Saved            float64         `json:"co2_saved"`
}

// DonorImpact computes the impact certificate figures for donorID.
func (a *Aggregator) DonorImpact(donorID string) DonorImpact {
	impact := DonorImpact{DonorID: donorID, EstimatedValue: decimal.Zero}
	a.view(func(v domain.TransactionView) {
		for _, l := range v.ListListings() {
			if l.DonorID != donorID {
				continue
			}
			impact.Listings++
			impact.QuantityListed += l.Quantity
			switch l.Status {
			case domain.ListingStatusAvailable:
				impact.AvailableListings++
			case domain.ListingStatusDistributed:
				impact.QuantityDistributed += l.Quantity
			}
			for _, c := range v.ClaimsForListing(l.ID) {
				if c.Status == domain.ClaimStatusCompleted {
					impact.CompletedClaims++
				}
			}
		}
	})
	impact.EstimatedValue = valuePerCompletedClaim.Mul(decimal.NewFromInt(int64(impact.CompletedClaims)))
	impact.CO2Saved = co2PerCompletedClaim * float64(impact.CompletedClaims)
	return impact
}
