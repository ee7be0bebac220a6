package core

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"foodshare/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func seedMetric() WasteMetric {
	return WasteMetric{
		Date:                time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		WasteReduced:        150,
		FoodDonated:         200,
		RecipientsBenefited: 45,
		CO2Saved:            45.5,
		MealsProvided:       180,
		MonetaryValue:       decimal.NewFromInt(12500),
		CategoriesWaste: []CategoryAmount{
			{Category: "Vegetables", Amount: 50},
			{Category: "Bakery", Amount: 40},
			{Category: "Dairy", Amount: 30},
			{Category: "Grains", Amount: 30},
		},
	}
}

func TestAggregatorTotalsAndCategories(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(NewDefaultRulesEngine())
	agg := svc.Aggregator()

	empty := agg.Totals()
	if empty.Reports != 0 || !empty.MonetaryValue.IsZero() {
		t.Fatalf("expected empty totals, got %+v", empty)
	}

	if _, _, err := svc.RecordMetric(ctx, seedMetric()); err != nil {
		t.Fatalf("record: %v", err)
	}
	second := WasteMetric{
		Date:            time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
		WasteReduced:    10,
		CO2Saved:        0.25,
		MonetaryValue:   decimal.RequireFromString("99.95"),
		CategoriesWaste: []CategoryAmount{{Category: "Bakery", Amount: 10}},
	}
	if _, _, err := svc.RecordMetric(ctx, second); err != nil {
		t.Fatalf("record: %v", err)
	}

	totals := agg.Totals()
	if totals.Reports != 2 || totals.WasteReduced != 160 || totals.FoodDonated != 200 || totals.RecipientsBenefited != 45 || totals.MealsProvided != 180 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if totals.CO2Saved != 45.75 {
		t.Fatalf("unexpected co2 %v", totals.CO2Saved)
	}
	if !totals.MonetaryValue.Equal(decimal.RequireFromString("12599.95")) {
		t.Fatalf("unexpected monetary value %s", totals.MonetaryValue)
	}

	categories := agg.CategoryBreakdown()
	want := []CategoryAmount{{Category: "Bakery", Amount: 50}, {Category: "Dairy", Amount: 30}, {Category: "Grains", Amount: 30}, {Category: "Vegetables", Amount: 50}}
	if len(categories) != len(want) {
		t.Fatalf("unexpected categories %+v", categories)
	}
	for i := range want {
		if categories[i] != want[i] {
			t.Fatalf("category %d: got %+v want %+v", i, categories[i], want[i])
		}
	}
}

func TestAggregatorStatusCountsAndDashboard(t *testing.T) {
	svc := NewInMemoryService(NewDefaultRulesEngine())
	agg := svc.Aggregator()
	if pct := agg.ClaimStatusCounts().Percentages(); pct[string(domain.ClaimStatusPending)] != 0 || len(pct) != 4 {
		t.Fatalf("empty percentages should be zero for every status, got %v", pct)
	}

	veg := mustListing(t, svc, "Fresh Vegetables", 50)
	bread := mustListing(t, svc, "Bakery Items", 30)
	mustListing(t, svc, "Rice", 20)
	c1 := mustClaim(t, svc, veg.ID, 10)
	c2 := mustClaim(t, svc, bread.ID, 5)
	mustClaim(t, svc, bread.ID, 5)
	c4 := mustClaim(t, svc, bread.ID, 5)
	mustTransition(t, svc, c1.ID, domain.ClaimStatusApproved)
	mustTransition(t, svc, c2.ID, domain.ClaimStatusApproved)
	mustTransition(t, svc, c2.ID, domain.ClaimStatusCompleted)
	mustTransition(t, svc, c4.ID, domain.ClaimStatusRejected)

	claims := agg.ClaimStatusCounts()
	if claims.Total != 4 || claims.Counts["pending"] != 1 || claims.Counts["approved"] != 1 || claims.Counts["completed"] != 1 || claims.Counts["rejected"] != 1 {
		t.Fatalf("unexpected claim counts %+v", claims)
	}
	if pct := claims.Percentages(); pct["approved"] != 25 {
		t.Fatalf("unexpected percentages %v", pct)
	}

	listings := agg.ListingStatusCounts()
	if listings.Counts["available"] != 1 || listings.Counts["claimed"] != 1 || listings.Counts["distributed"] != 1 || listings.Counts["expired"] != 0 {
		t.Fatalf("unexpected listing counts %+v", listings)
	}
	pct := listings.Percentages()
	if math.Abs(pct["available"]-100.0/3) > 1e-9 {
		t.Fatalf("unexpected listing percentage %v", pct)
	}

	deliveries := agg.DeliveryStatusCounts()
	if deliveries.Total != 2 || deliveries.Counts["scheduled"] != 2 {
		t.Fatalf("unexpected delivery counts %+v", deliveries)
	}

	dash := agg.Dashboard()
	if dash.TotalListings != 3 || dash.AvailableListings != 1 || dash.AvailableQuantity != 20 {
		t.Fatalf("unexpected listing summary %+v", dash)
	}
	if dash.TotalClaims != 4 || dash.PendingClaims != 1 || dash.ApprovedClaims != 1 || dash.CompletedClaims != 1 {
		t.Fatalf("unexpected claim summary %+v", dash)
	}
	if dash.Deliveries.Total != 2 || dash.Impact.Reports != 0 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
	for status, n := range listings.Counts {
		if dash.Listings.Counts[status] != n {
			t.Fatalf("dashboard listing count for %s = %d, want %d", status, dash.Listings.Counts[status], n)
		}
	}
	for status, n := range claims.Counts {
		if dash.Claims.Counts[status] != n {
			t.Fatalf("dashboard claim count for %s = %d, want %d", status, dash.Claims.Counts[status], n)
		}
	}
}

type countingViews struct {
	domain.PersistentStore
	views int
}

func (s *countingViews) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.views++
	return s.PersistentStore.View(ctx, fn)
}

func TestPrometheusCollectorReadsOneSnapshotPerScrape(t *testing.T) {
	svc := NewInMemoryService(NewDefaultRulesEngine())
	listing := mustListing(t, svc, "Dal", 12)
	mustClaim(t, svc, listing.ID, 4)

	store := &countingViews{PersistentStore: svc.Store()}
	collector := NewPrometheusCollector(NewAggregator(store))
	if n := testutil.CollectAndCount(collector); n != 19 {
		t.Fatalf("expected 19 metrics, got %d", n)
	}
	if store.views != 1 {
		t.Fatalf("one scrape should read one snapshot, got %d", store.views)
	}
}

func TestDonorImpact(t *testing.T) {
	svc := NewInMemoryService(NewDefaultRulesEngine())
	first := mustListing(t, svc, "Vegetables", 50)
	second := mustListing(t, svc, "Fruit", 20)
	mustListing(t, svc, "Greens", 5)
	for _, listingID := range []string{first.ID, second.ID} {
		claim := mustClaim(t, svc, listingID, 5)
		mustTransition(t, svc, claim.ID, domain.ClaimStatusCompleted)
	}
	if _, _, err := svc.CreateListing(context.Background(), Listing{Title: "Other", Quantity: 99, DonorID: "donor2"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	impact := svc.Aggregator().DonorImpact("donor1")
	if impact.Listings != 3 || impact.AvailableListings != 1 || impact.QuantityListed != 75 || impact.QuantityDistributed != 70 {
		t.Fatalf("unexpected donor listings %+v", impact)
	}
	if impact.CompletedClaims != 2 || !impact.EstimatedValue.Equal(decimal.NewFromInt(500)) || impact.CO2Saved != 5 {
		t.Fatalf("unexpected donor impact %+v", impact)
	}

	none := svc.Aggregator().DonorImpact("nobody")
	if none.Listings != 0 || !none.EstimatedValue.IsZero() {
		t.Fatalf("unexpected empty impact %+v", none)
	}
}

func TestPrometheusCollector(t *testing.T) {
	svc := NewInMemoryService(NewDefaultRulesEngine())
	if _, _, err := svc.RecordMetric(context.Background(), seedMetric()); err != nil {
		t.Fatalf("record: %v", err)
	}
	listing := mustListing(t, svc, "Fresh Vegetables", 50)
	mustClaim(t, svc, listing.ID, 10)

	collector := NewPrometheusCollector(svc.Aggregator())
	// 4 listing + 4 claim + 4 delivery statuses and 7 scalar gauges.
	if n := testutil.CollectAndCount(collector); n != 19 {
		t.Fatalf("expected 19 metrics, got %d", n)
	}

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(collector); err != nil {
		t.Fatalf("register: %v", err)
	}
	expected := `
# HELP foodshare_monetary_value Reported monetary value of rescued food.
# TYPE foodshare_monetary_value gauge
foodshare_monetary_value 12500
# HELP foodshare_available_quantity Quantity offered by available listings.
# TYPE foodshare_available_quantity gauge
foodshare_available_quantity 50
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "foodshare_monetary_value", "foodshare_available_quantity"); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
	expectedClaims := `
# HELP foodshare_claims Claims by status.
# TYPE foodshare_claims gauge
foodshare_claims{status="approved"} 0
foodshare_claims{status="completed"} 0
foodshare_claims{status="pending"} 1
foodshare_claims{status="rejected"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expectedClaims), "foodshare_claims"); err != nil {
		t.Fatalf("unexpected claim exposition: %v", err)
	}
}
