package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"foodshare/pkg/domain"

	"github.com/shopspring/decimal"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedListing(t *testing.T, store *Store, quantity float64) domain.Listing {
	t.Helper()
	var listing domain.Listing
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		created, err := tx.CreateListing(domain.Listing{Title: "Fresh Vegetables", Quantity: quantity, Unit: "kg", Category: "Vegetables", DonorID: "donor1"})
		listing = created
		return err
	})
	if err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return listing
}

func seedClaim(t *testing.T, store *Store, listingID string, quantity float64) domain.Claim {
	t.Helper()
	var claim domain.Claim
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		created, err := tx.CreateClaim(domain.Claim{ListingID: listingID, RecipientID: "r1", RecipientName: "Shelter", Quantity: quantity})
		claim = created
		return err
	})
	if err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	return claim
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindListing("missing"); ok {
			t.Fatalf("expected missing listing lookup")
		}
		created, err := tx.CreateListing(domain.Listing{Title: "Bakery Items", Quantity: 30, Unit: "items"})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if created.Status != domain.ListingStatusAvailable {
			t.Fatalf("expected default available status, got %s", created.Status)
		}
		if len(tx.Snapshot().ListListings()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListListings()) != 1 {
		t.Fatalf("expected persisted listing")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListListings()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListListings()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestStoreRuleViolationLeavesStateUntouched(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateListing(domain.Listing{Title: "Fail"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if !domain.IsValidation(err) {
		t.Fatalf("expected blocking cause to unwrap, got %v", err)
	}
	if len(store.ListListings()) != 0 {
		t.Fatalf("expected blocked transaction to discard changes")
	}
}

func TestStoreCallbackErrorDiscardsChanges(t *testing.T) {
	store := NewStore(nil)
	listing := seedListing(t, store, 10)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateListing(listing.ID, func(l *domain.Listing) error {
			l.Status = domain.ListingStatusClaimed
			return nil
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	got, _ := store.GetListing(listing.ID)
	if got.Status != domain.ListingStatusAvailable {
		t.Fatalf("expected rollback to keep available status, got %s", got.Status)
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "block",
		Severity: domain.SeverityBlock,
		Message:  "blocked",
		Cause:    domain.ErrValidation{Field: "quantity", Reason: "blocked"},
	}}}, nil
}

func TestUpdateListingErrors(t *testing.T) {
	store := NewStore(nil)
	listing := seedListing(t, store, 5)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateListing("missing", func(*domain.Listing) error { return nil }); !domain.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := tx.UpdateListing(listing.ID, func(*domain.Listing) error { return fmt.Errorf("boom") }); err == nil {
			t.Fatalf("expected mutator error")
		}
		if err := tx.DeleteListing("missing"); !domain.IsNotFound(err) {
			t.Fatalf("expected not found on delete, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestListingClaimsAreDerivedFromClaims(t *testing.T) {
	store := NewStore(nil)
	listing := seedListing(t, store, 50)
	claim := seedClaim(t, store, listing.ID, 20)

	got, ok := store.GetListing(listing.ID)
	if !ok {
		t.Fatalf("expected listing")
	}
	if len(got.Claims) != 1 || got.Claims[0].ID != claim.ID || got.Claims[0].Status != domain.ClaimStatusPending {
		t.Fatalf("expected embedded pending claim, got %+v", got.Claims)
	}

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateClaim(claim.ID, func(c *domain.Claim) error {
			c.Status = domain.ClaimStatusApproved
			c.ListingID = "elsewhere"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update claim: %v", err)
	}
	got, _ = store.GetListing(listing.ID)
	if got.Claims[0].Status != domain.ClaimStatusApproved {
		t.Fatalf("expected embedded claim to follow canonical status, got %s", got.Claims[0].Status)
	}
	updated, _ := store.GetClaim(claim.ID)
	if updated.ListingID != listing.ID {
		t.Fatalf("expected listing reference to stay immutable, got %s", updated.ListingID)
	}
}

func TestCreateClaimRequiresListing(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateClaim(domain.Claim{ListingID: "nope", Quantity: 1})
		return err
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityListing || nf.ID != "nope" {
		t.Fatalf("expected listing not found, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateClaim(domain.Claim{Quantity: 1})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty listing id, got %v", err)
	}
}

func TestCreateClaimForcesPendingAndTimestamps(t *testing.T) {
	store := NewStore(nil)
	now := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	store.SetNowFunc(fixedClock(now))
	listing := seedListing(t, store, 10)
	var claim domain.Claim
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		claim, err = tx.CreateClaim(domain.Claim{ListingID: listing.ID, Quantity: 2, Status: domain.ClaimStatusCompleted})
		return err
	})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	if claim.Status != domain.ClaimStatusPending {
		t.Fatalf("expected pending, got %s", claim.Status)
	}
	if !claim.ClaimedAt.Equal(now) || !claim.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps from clock, got %v %v", claim.ClaimedAt, claim.UpdatedAt)
	}
	if claim.CompletedAt != nil {
		t.Fatalf("expected no completion stamp")
	}
}

func TestDeliveryUniquenessAndReferences(t *testing.T) {
	store := NewStore(nil)
	listing := seedListing(t, store, 10)
	claim := seedClaim(t, store, listing.ID, 5)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDelivery(domain.Delivery{ClaimID: "missing"})
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected claim not found, got %v", err)
	}

	var first domain.Delivery
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		first, err = tx.CreateDelivery(domain.Delivery{ClaimID: claim.ID})
		return err
	})
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if first.Status != domain.DeliveryStatusScheduled || first.ProofPhotos == nil {
		t.Fatalf("expected scheduled delivery with empty photos, got %+v", first)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDelivery(domain.Delivery{ClaimID: claim.ID})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate delivery rejection, got %v", err)
	}
	if len(store.ListDeliveries()) != 1 {
		t.Fatalf("expected exactly one delivery")
	}
	got, ok := store.DeliveryForClaim(claim.ID)
	if !ok || got.ID != first.ID {
		t.Fatalf("expected delivery lookup by claim")
	}
}

func TestUpdateDeliveryKeepsIdentity(t *testing.T) {
	store := NewStore(nil)
	listing := seedListing(t, store, 10)
	claim := seedClaim(t, store, listing.ID, 5)
	var delivery domain.Delivery
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		delivery, err = tx.CreateDelivery(domain.Delivery{ClaimID: claim.ID})
		if err != nil {
			return err
		}
		delivery, err = tx.UpdateDelivery(delivery.ID, func(d *domain.Delivery) error {
			d.ClaimID = "other"
			d.Status = domain.DeliveryStatusDelivered
			d.ProofPhotos = nil
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update delivery: %v", err)
	}
	if delivery.ClaimID != claim.ID {
		t.Fatalf("expected claim reference to be preserved")
	}
	if delivery.DeliveryTime != nil {
		t.Fatalf("expected raw update not to stamp delivery time")
	}
	if delivery.ProofPhotos == nil {
		t.Fatalf("expected photos to normalise to empty slice")
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateDelivery("missing", func(*domain.Delivery) error { return nil })
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteListingOrphansClaims(t *testing.T) {
	store := NewStore(nil)
	listing := seedListing(t, store, 10)
	claim := seedClaim(t, store, listing.ID, 5)
	var changes int
	store.RulesEngine().Register(countingRule{count: &changes})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteListing(listing.ID)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if changes != 1 {
		t.Fatalf("expected one recorded change, got %d", changes)
	}
	if _, ok := store.GetListing(listing.ID); ok {
		t.Fatalf("expected listing removed")
	}
	if _, ok := store.GetClaim(claim.ID); !ok {
		t.Fatalf("expected orphaned claim to remain")
	}
}

type countingRule struct{ count *int }

func (countingRule) Name() string { return "count" }

func (r countingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	*r.count += len(changes)
	return domain.Result{}, nil
}

func TestReadsReturnClones(t *testing.T) {
	store := NewStore(nil)
	lat := 28.6328
	var id string
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		l, err := tx.CreateListing(domain.Listing{Title: "Geo", Latitude: &lat})
		id = l.ID
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.GetListing(id)
	*got.Latitude = 0
	again, _ := store.GetListing(id)
	if *again.Latitude != 28.6328 {
		t.Fatalf("expected stored latitude to be isolated from caller mutation")
	}
}

func TestAddMetricAndSetNowFunc(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.AddMetric(domain.WasteMetric{}); !domain.IsValidation(err) {
			t.Fatalf("expected dateless metric rejection, got %v", err)
		}
		_, err := tx.AddMetric(domain.WasteMetric{
			Date:            time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
			WasteReduced:    150,
			MonetaryValue:   decimal.NewFromInt(12500),
			CategoriesWaste: []domain.CategoryAmount{{Category: "Vegetables", Amount: 50}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("add metric: %v", err)
	}
	metrics := store.ListMetrics()
	if len(metrics) != 1 || metrics[0].WasteReduced != 150 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	metrics[0].CategoriesWaste[0].Amount = 0
	if store.ListMetrics()[0].CategoriesWaste[0].Amount != 50 {
		t.Fatalf("expected metrics to be cloned")
	}

	store.SetNowFunc(nil)
	if store.NowFunc()().Location() != time.UTC {
		t.Fatalf("expected nil clock to restore UTC wall clock")
	}
}

func TestMigrateSnapshotInitialisesAndFilters(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := Snapshot{
		Listings: map[string]Listing{
			"l1": {Title: "No status", Claims: []domain.ClaimSummary{{ID: "stale"}}},
		},
		Claims: map[string]Claim{"c1": {ListingID: "l1"}},
		Deliveries: map[string]Delivery{
			"d-missing": {ClaimID: "gone"},
			"d-late":    {ClaimID: "c1", CreatedAt: early.Add(time.Hour)},
			"d-early":   {ClaimID: "c1", CreatedAt: early},
		},
	}

	migrated := migrateSnapshot(snapshot)

	if migrated.Listings["l1"].Status != domain.ListingStatusAvailable {
		t.Fatalf("expected default listing status")
	}
	if migrated.Listings["l1"].Claims != nil {
		t.Fatalf("expected stored claim summaries to be dropped")
	}
	if migrated.Claims["c1"].Status != domain.ClaimStatusPending {
		t.Fatalf("expected default claim status")
	}
	if len(migrated.Deliveries) != 1 {
		t.Fatalf("expected a single delivery per claim, got %d", len(migrated.Deliveries))
	}
	if _, ok := migrated.Deliveries["d-early"]; !ok {
		t.Fatalf("expected earliest delivery to survive")
	}

	empty := migrateSnapshot(Snapshot{})
	if empty.Listings == nil || empty.Claims == nil || empty.Deliveries == nil {
		t.Fatalf("expected migrateSnapshot to initialise nil maps")
	}
}

func TestViewUsesSnapshot(t *testing.T) {
	store := NewStore(nil)
	listing := seedListing(t, store, 4)
	seedClaim(t, store, listing.ID, 1)
	err := store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ClaimsForListing(listing.ID)) != 1 {
			t.Fatalf("expected claim for listing")
		}
		if len(view.ListClaims()) != 1 || len(view.ListDeliveries()) != 0 {
			t.Fatalf("unexpected view contents")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
