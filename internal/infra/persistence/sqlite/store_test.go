package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"foodshare/pkg/domain"

	"github.com/shopspring/decimal"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	var claimID string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		listing, err := tx.CreateListing(domain.Listing{Title: "Persist", Quantity: 10, Category: "Bakery"})
		if err != nil {
			return err
		}
		claim, err := tx.CreateClaim(domain.Claim{ListingID: listing.ID, Quantity: 4})
		if err != nil {
			return err
		}
		claimID = claim.ID
		if _, err := tx.CreateDelivery(domain.Delivery{ClaimID: claim.ID}); err != nil {
			return err
		}
		_, err = tx.AddMetric(domain.WasteMetric{Date: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), MonetaryValue: decimal.RequireFromString("12500.50")})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if got := len(reloaded.ListListings()); got != 1 {
		t.Fatalf("expected 1 listing, got %d", got)
	}
	listing := reloaded.ListListings()[0]
	if len(listing.Claims) != 1 || listing.Claims[0].ID != claimID {
		t.Fatalf("expected claim summaries rebuilt on reload, got %+v", listing.Claims)
	}
	if _, ok := reloaded.DeliveryForClaim(claimID); !ok {
		t.Fatalf("expected delivery to reload")
	}
	metrics := reloaded.ListMetrics()
	if len(metrics) != 1 || !metrics[0].MonetaryValue.Equal(decimal.RequireFromString("12500.50")) {
		t.Fatalf("expected metric to round-trip, got %+v", metrics)
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreCreatesStateTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var tableName string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", "state").Scan(&tableName); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
	if tableName != "state" {
		t.Fatalf("expected state table, got %s", tableName)
	}
}

func TestSQLiteStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT OR REPLACE INTO state(bucket,payload) VALUES(?,?)`, "claims", []byte("not-json")); err != nil {
		t.Fatalf("inject invalid state: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	_, err = NewStore(path, domain.NewRulesEngine())
	if err == nil || !strings.Contains(err.Error(), "decode claims") {
		t.Fatalf("expected decode claims error, got %v", err)
	}
}

func TestSQLiteStoreSkipsPersistOnCallbackError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateClaim(domain.Claim{ListingID: "missing"})
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var rows int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected nothing persisted, got %d rows", rows)
	}
}

func TestSQLiteStoreRefreshPicksUpOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	serve, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = serve.Close() })
	if serve.Generation() != 0 {
		t.Fatalf("fresh database should start at generation 0, got %d", serve.Generation())
	}
	if reloaded, err := serve.Refresh(context.Background()); err != nil || reloaded {
		t.Fatalf("nothing to refresh yet: %v %v", reloaded, err)
	}

	oneShot, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if _, err := oneShot.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateListing(domain.Listing{Title: "Idli batter", Quantity: 8})
		return err
	}); err != nil {
		t.Fatalf("write from second process: %v", err)
	}
	if oneShot.Generation() != 1 {
		t.Fatalf("expected generation 1 after first snapshot, got %d", oneShot.Generation())
	}
	_ = oneShot.Close()

	if len(serve.ListListings()) != 0 {
		t.Fatalf("serve store should not see the write before refreshing")
	}
	reloaded, err := serve.Refresh(context.Background())
	if err != nil || !reloaded {
		t.Fatalf("expected reload, got %v %v", reloaded, err)
	}
	if got := serve.ListListings(); len(got) != 1 || got[0].Title != "Idli batter" {
		t.Fatalf("unexpected listings after refresh %+v", got)
	}

	// the next local commit continues from the stored generation
	if _, err := serve.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if serve.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", serve.Generation())
	}
	if reloaded, _ := serve.Refresh(context.Background()); reloaded {
		t.Fatalf("own writes must not trigger a reload")
	}
}

func TestSQLiteDSNPragmas(t *testing.T) {
	got := dsn("/var/lib/foodshare/state.db")
	if !strings.HasPrefix(got, "/var/lib/foodshare/state.db?") || !strings.Contains(got, "busy_timeout%285000%29") || !strings.Contains(got, "journal_mode%28WAL%29") {
		t.Fatalf("unexpected dsn %s", got)
	}
}

func TestSQLiteStoreRefreshWaitsForInflightTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	serve, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = serve.Close() })

	other, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if _, err := other.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateListing(domain.Listing{Title: "Upma", Quantity: 3})
		return err
	}); err != nil {
		t.Fatalf("write from other process: %v", err)
	}
	_ = other.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		_, err := serve.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			close(entered)
			<-release
			_, err := tx.CreateListing(domain.Listing{Title: "Khichdi", Quantity: 6})
			return err
		})
		txDone <- err
	}()
	<-entered

	refreshDone := make(chan bool, 1)
	go func() {
		reloaded, _ := serve.Refresh(context.Background())
		refreshDone <- reloaded
	}()
	select {
	case <-refreshDone:
		t.Fatalf("refresh should wait for the in-flight transaction")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-txDone; err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if reloaded := <-refreshDone; reloaded {
		t.Fatalf("the local write is the newest generation; nothing to reload")
	}

	got := serve.ListListings()
	if len(got) != 1 || got[0].Title != "Khichdi" {
		t.Fatalf("local write must survive the refresh, got %+v", got)
	}
	reopened, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if got := reopened.ListListings(); len(got) != 1 || got[0].Title != "Khichdi" {
		t.Fatalf("persisted snapshot should hold the local write, got %+v", got)
	}
}
