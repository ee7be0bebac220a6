// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"foodshare/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Listing aliases domain.Listing for in-memory persistence operations.
	Listing = domain.Listing
	// Claim aliases domain.Claim.
	Claim = domain.Claim
	// Delivery aliases domain.Delivery.
	Delivery = domain.Delivery
	// WasteMetric aliases domain.WasteMetric.
	WasteMetric = domain.WasteMetric
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	listings   map[string]Listing
	claims     map[string]Claim
	deliveries map[string]Delivery
	metrics    []WasteMetric
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Listings   map[string]Listing  `json:"listings"`
	Claims     map[string]Claim    `json:"claims"`
	Deliveries map[string]Delivery `json:"deliveries"`
	Metrics    []WasteMetric       `json:"metrics"`
}

func newMemoryState() memoryState {
	return memoryState{
		listings:   make(map[string]Listing),
		claims:     make(map[string]Claim),
		deliveries: make(map[string]Delivery),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Listings:   make(map[string]Listing, len(state.listings)),
		Claims:     make(map[string]Claim, len(state.claims)),
		Deliveries: make(map[string]Delivery, len(state.deliveries)),
		Metrics:    make([]WasteMetric, 0, len(state.metrics)),
	}
	for k, v := range state.listings {
		s.Listings[k] = cloneListing(v)
	}
	for k, v := range state.claims {
		s.Claims[k] = cloneClaim(v)
	}
	for k, v := range state.deliveries {
		s.Deliveries[k] = cloneDelivery(v)
	}
	for _, m := range state.metrics {
		s.Metrics = append(s.Metrics, cloneMetric(m))
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Listings {
		state.listings[k] = cloneListing(v)
	}
	for k, v := range s.Claims {
		state.claims[k] = cloneClaim(v)
	}
	for k, v := range s.Deliveries {
		state.deliveries[k] = cloneDelivery(v)
	}
	for _, m := range s.Metrics {
		state.metrics = append(state.metrics, cloneMetric(m))
	}
	return state
}

// migrateSnapshot normalizes snapshots written by older builds: missing
// buckets become empty, stored claim lists are dropped (they are derived),
// deliveries pointing at unknown claims are removed and duplicate deliveries
// for one claim collapse to the earliest record.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Listings == nil {
		snapshot.Listings = map[string]Listing{}
	}
	if snapshot.Claims == nil {
		snapshot.Claims = map[string]Claim{}
	}
	if snapshot.Deliveries == nil {
		snapshot.Deliveries = map[string]Delivery{}
	}

	for id, listing := range snapshot.Listings {
		if listing.Status == "" {
			listing.Status = domain.ListingStatusAvailable
		}
		listing.ID = id
		listing.Claims = nil
		snapshot.Listings[id] = listing
	}

	for id, claim := range snapshot.Claims {
		if claim.Status == "" {
			claim.Status = domain.ClaimStatusPending
		}
		claim.ID = id
		snapshot.Claims[id] = claim
	}

	kept := make(map[string]Delivery, len(snapshot.Deliveries))
	for id, delivery := range snapshot.Deliveries {
		if _, ok := snapshot.Claims[delivery.ClaimID]; !ok {
			continue
		}
		delivery.ID = id
		if delivery.Status == "" {
			delivery.Status = domain.DeliveryStatusScheduled
		}
		if delivery.ProofPhotos == nil {
			delivery.ProofPhotos = []string{}
		}
		if existing, ok := kept[delivery.ClaimID]; ok {
			if !deliveryBefore(delivery, existing) {
				continue
			}
		}
		kept[delivery.ClaimID] = delivery
	}
	deliveries := make(map[string]Delivery, len(kept))
	for _, delivery := range kept {
		deliveries[delivery.ID] = delivery
	}
	snapshot.Deliveries = deliveries
	return snapshot
}

func deliveryBefore(a, b Delivery) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.listings {
		cloned.listings[k] = cloneListing(v)
	}
	for k, v := range s.claims {
		cloned.claims[k] = cloneClaim(v)
	}
	for k, v := range s.deliveries {
		cloned.deliveries[k] = cloneDelivery(v)
	}
	if len(s.metrics) > 0 {
		cloned.metrics = make([]WasteMetric, 0, len(s.metrics))
		for _, m := range s.metrics {
			cloned.metrics = append(cloned.metrics, cloneMetric(m))
		}
	}
	return cloned
}

func cloneFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneListing(l Listing) Listing {
	cp := l
	cp.Latitude = cloneFloatPtr(l.Latitude)
	cp.Longitude = cloneFloatPtr(l.Longitude)
	if l.Claims != nil {
		cp.Claims = append([]domain.ClaimSummary(nil), l.Claims...)
	}
	return cp
}

func cloneClaim(c Claim) Claim {
	cp := c
	cp.CompletedAt = cloneTimePtr(c.CompletedAt)
	return cp
}

func cloneDelivery(d Delivery) Delivery {
	cp := d
	cp.PickupTime = cloneTimePtr(d.PickupTime)
	cp.DeliveryTime = cloneTimePtr(d.DeliveryTime)
	cp.ProofPhotos = append([]string{}, d.ProofPhotos...)
	return cp
}

func cloneMetric(m WasteMetric) WasteMetric {
	cp := m
	cp.CategoriesWaste = append([]domain.CategoryAmount(nil), m.CategoriesWaste...)
	return cp
}

func listingClaims(state *memoryState, listingID string) []Claim {
	var claims []Claim
	for _, claim := range state.claims {
		if claim.ListingID == listingID {
			claims = append(claims, cloneClaim(claim))
		}
	}
	sortClaims(claims)
	return claims
}

func sortClaims(claims []Claim) {
	sort.Slice(claims, func(i, j int) bool {
		if !claims[i].ClaimedAt.Equal(claims[j].ClaimedAt) {
			return claims[i].ClaimedAt.Before(claims[j].ClaimedAt)
		}
		return claims[i].ID < claims[j].ID
	})
}

// decorateListing joins the listing's claims from the canonical claim map.
func decorateListing(state *memoryState, listing Listing) Listing {
	claims := listingClaims(state, listing.ID)
	listing.Claims = make([]domain.ClaimSummary, 0, len(claims))
	for _, claim := range claims {
		listing.Claims = append(listing.Claims, claim.Summary())
	}
	return listing
}

func deliveryForClaim(state *memoryState, claimID string) (Delivery, bool) {
	for _, delivery := range state.deliveries {
		if delivery.ClaimID == claimID {
			return cloneDelivery(delivery), true
		}
	}
	return Delivery{}, false
}

func sortedListings(state *memoryState) []Listing {
	out := make([]Listing, 0, len(state.listings))
	for _, l := range state.listings {
		out = append(out, cloneListing(decorateListing(state, l)))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedClaims(state *memoryState) []Claim {
	out := make([]Claim, 0, len(state.claims))
	for _, c := range state.claims {
		out = append(out, cloneClaim(c))
	}
	sortClaims(out)
	return out
}

func sortedDeliveries(state *memoryState) []Delivery {
	out := make([]Delivery, 0, len(state.deliveries))
	for _, d := range state.deliveries {
		out = append(out, cloneDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clonedMetrics(state *memoryState) []WasteMetric {
	out := make([]WasteMetric, 0, len(state.metrics))
	for _, m := range state.metrics {
		out = append(out, cloneMetric(m))
	}
	return out
}

// Store provides an in-memory transactional store for the core domain.
// A single RWMutex guards all three collections so a cascade spanning
// listing, claim and delivery commits as one unit.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider. A nil fn restores the UTC wall clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

// ListListings returns all listings ordered by creation time.
func (v transactionView) ListListings() []Listing { return sortedListings(v.state) }

// ListClaims returns all claims ordered by claim time.
func (v transactionView) ListClaims() []Claim { return sortedClaims(v.state) }

// ListDeliveries returns all deliveries ordered by creation time.
func (v transactionView) ListDeliveries() []Delivery { return sortedDeliveries(v.state) }

// ListMetrics returns the seeded waste metrics.
func (v transactionView) ListMetrics() []WasteMetric { return clonedMetrics(v.state) }

// FindListing retrieves a listing by ID from the snapshot.
func (v transactionView) FindListing(id string) (Listing, bool) {
	l, ok := v.state.listings[id]
	if !ok {
		return Listing{}, false
	}
	return cloneListing(decorateListing(v.state, l)), true
}

// FindClaim retrieves a claim by ID from the snapshot.
func (v transactionView) FindClaim(id string) (Claim, bool) {
	c, ok := v.state.claims[id]
	if !ok {
		return Claim{}, false
	}
	return cloneClaim(c), true
}

// FindDelivery retrieves a delivery by ID from the snapshot.
func (v transactionView) FindDelivery(id string) (Delivery, bool) {
	d, ok := v.state.deliveries[id]
	if !ok {
		return Delivery{}, false
	}
	return cloneDelivery(d), true
}

// FindDeliveryByClaim returns the delivery attached to a claim.
func (v transactionView) FindDeliveryByClaim(claimID string) (Delivery, bool) {
	return deliveryForClaim(v.state, claimID)
}

// ClaimsForListing returns the claims referencing a listing.
func (v transactionView) ClaimsForListing(listingID string) []Claim {
	return listingClaims(v.state, listingID)
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the instant stamped on every record touched by the transaction.
func (tx *transaction) Now() time.Time { return tx.now }

// FindListing exposes listing lookup within the transaction scope.
func (tx *transaction) FindListing(id string) (Listing, bool) {
	return newTransactionView(&tx.state).FindListing(id)
}

// FindClaim exposes claim lookup within the transaction scope.
func (tx *transaction) FindClaim(id string) (Claim, bool) {
	return newTransactionView(&tx.state).FindClaim(id)
}

// FindDelivery exposes delivery lookup within the transaction scope.
func (tx *transaction) FindDelivery(id string) (Delivery, bool) {
	return newTransactionView(&tx.state).FindDelivery(id)
}

// FindDeliveryByClaim exposes the per-claim delivery lookup within the transaction scope.
func (tx *transaction) FindDeliveryByClaim(claimID string) (Delivery, bool) {
	return deliveryForClaim(&tx.state, claimID)
}

// CreateListing stores a new listing. Status defaults to available.
func (tx *transaction) CreateListing(l Listing) (Listing, error) {
	if l.ID == "" {
		l.ID = tx.store.newID()
	}
	if _, exists := tx.state.listings[l.ID]; exists {
		return Listing{}, fmt.Errorf("listing %q already exists", l.ID)
	}
	if l.Status == "" {
		l.Status = domain.ListingStatusAvailable
	}
	l.Claims = nil
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	tx.state.listings[l.ID] = cloneListing(l)
	created := decorateListing(&tx.state, l)
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionCreate, After: cloneListing(created)})
	return cloneListing(created), nil
}

// UpdateListing mutates an existing listing. Any field may change except the
// identity and creation timestamp; the claim list is always re-derived.
func (tx *transaction) UpdateListing(id string, mutator func(*Listing) error) (Listing, error) {
	current, ok := tx.state.listings[id]
	if !ok {
		return Listing{}, domain.ErrNotFound{Entity: domain.EntityListing, ID: id}
	}
	before := cloneListing(decorateListing(&tx.state, current))
	createdAt := current.CreatedAt
	if err := mutator(&current); err != nil {
		return Listing{}, err
	}
	current.ID = id
	current.CreatedAt = createdAt
	current.Claims = nil
	current.UpdatedAt = tx.now
	tx.state.listings[id] = cloneListing(current)
	after := decorateListing(&tx.state, current)
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionUpdate, Before: before, After: cloneListing(after)})
	return cloneListing(after), nil
}

// DeleteListing removes a listing. Claims referencing it are left in place.
func (tx *transaction) DeleteListing(id string) error {
	current, ok := tx.state.listings[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityListing, ID: id}
	}
	before := cloneListing(decorateListing(&tx.state, current))
	delete(tx.state.listings, id)
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionDelete, Before: before})
	return nil
}

// CreateClaim stores a new pending claim against an existing listing.
func (tx *transaction) CreateClaim(c Claim) (Claim, error) {
	if c.ListingID == "" {
		return Claim{}, domain.ErrValidation{Entity: domain.EntityClaim, Field: "listing_id", Reason: "required"}
	}
	if _, ok := tx.state.listings[c.ListingID]; !ok {
		return Claim{}, domain.ErrNotFound{Entity: domain.EntityListing, ID: c.ListingID}
	}
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.claims[c.ID]; exists {
		return Claim{}, fmt.Errorf("claim %q already exists", c.ID)
	}
	c.Status = domain.ClaimStatusPending
	c.ClaimedAt = tx.now
	c.UpdatedAt = tx.now
	c.CompletedAt = nil
	tx.state.claims[c.ID] = cloneClaim(c)
	tx.recordChange(Change{Entity: domain.EntityClaim, Action: domain.ActionCreate, After: cloneClaim(c)})
	return cloneClaim(c), nil
}

// UpdateClaim mutates an existing claim. The listing reference and claim
// timestamp are immutable.
func (tx *transaction) UpdateClaim(id string, mutator func(*Claim) error) (Claim, error) {
	current, ok := tx.state.claims[id]
	if !ok {
		return Claim{}, domain.ErrNotFound{Entity: domain.EntityClaim, ID: id}
	}
	before := cloneClaim(current)
	if err := mutator(&current); err != nil {
		return Claim{}, err
	}
	current.ID = id
	current.ListingID = before.ListingID
	current.ClaimedAt = before.ClaimedAt
	current.UpdatedAt = tx.now
	tx.state.claims[id] = cloneClaim(current)
	tx.recordChange(Change{Entity: domain.EntityClaim, Action: domain.ActionUpdate, Before: before, After: cloneClaim(current)})
	return cloneClaim(current), nil
}

// CreateDelivery stores the delivery for a claim. A claim carries at most one delivery.
func (tx *transaction) CreateDelivery(d Delivery) (Delivery, error) {
	if _, ok := tx.state.claims[d.ClaimID]; !ok {
		return Delivery{}, domain.ErrNotFound{Entity: domain.EntityClaim, ID: d.ClaimID}
	}
	if existing, ok := deliveryForClaim(&tx.state, d.ClaimID); ok {
		return Delivery{}, domain.ErrValidation{
			Entity: domain.EntityDelivery,
			Field:  "claim_id",
			Reason: fmt.Sprintf("claim %s already has delivery %s", d.ClaimID, existing.ID),
		}
	}
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.deliveries[d.ID]; exists {
		return Delivery{}, fmt.Errorf("delivery %q already exists", d.ID)
	}
	if d.Status == "" {
		d.Status = domain.DeliveryStatusScheduled
	}
	if d.ProofPhotos == nil {
		d.ProofPhotos = []string{}
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.deliveries[d.ID] = cloneDelivery(d)
	tx.recordChange(Change{Entity: domain.EntityDelivery, Action: domain.ActionCreate, After: cloneDelivery(d)})
	return cloneDelivery(d), nil
}

// UpdateDelivery mutates an existing delivery. DeliveryTime is never stamped here.
func (tx *transaction) UpdateDelivery(id string, mutator func(*Delivery) error) (Delivery, error) {
	current, ok := tx.state.deliveries[id]
	if !ok {
		return Delivery{}, domain.ErrNotFound{Entity: domain.EntityDelivery, ID: id}
	}
	before := cloneDelivery(current)
	if err := mutator(&current); err != nil {
		return Delivery{}, err
	}
	current.ID = id
	current.ClaimID = before.ClaimID
	current.CreatedAt = before.CreatedAt
	if current.ProofPhotos == nil {
		current.ProofPhotos = []string{}
	}
	current.UpdatedAt = tx.now
	tx.state.deliveries[id] = cloneDelivery(current)
	tx.recordChange(Change{Entity: domain.EntityDelivery, Action: domain.ActionUpdate, Before: before, After: cloneDelivery(current)})
	return cloneDelivery(current), nil
}

// AddMetric appends an externally reported waste metric.
func (tx *transaction) AddMetric(m WasteMetric) (WasteMetric, error) {
	if m.Date.IsZero() {
		return WasteMetric{}, domain.ErrValidation{Entity: domain.EntityWasteMetric, Field: "date", Reason: "required"}
	}
	tx.state.metrics = append(tx.state.metrics, cloneMetric(m))
	tx.recordChange(Change{Entity: domain.EntityWasteMetric, Action: domain.ActionCreate, After: cloneMetric(m)})
	return cloneMetric(m), nil
}

// Read helpers ---------------------------------------------------------------

// GetListing retrieves a listing by ID from committed state.
func (s *Store) GetListing(id string) (Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindListing(id)
}

// ListListings returns all listings from committed state.
func (s *Store) ListListings() []Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedListings(&s.state)
}

// GetClaim retrieves a claim by ID.
func (s *Store) GetClaim(id string) (Claim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindClaim(id)
}

// ListClaims returns all claims.
func (s *Store) ListClaims() []Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedClaims(&s.state)
}

// GetDelivery retrieves a delivery by ID.
func (s *Store) GetDelivery(id string) (Delivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindDelivery(id)
}

// ListDeliveries returns all deliveries.
func (s *Store) ListDeliveries() []Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedDeliveries(&s.state)
}

// DeliveryForClaim returns the single delivery of a claim, if any.
func (s *Store) DeliveryForClaim(claimID string) (Delivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deliveryForClaim(&s.state, claimID)
}

// ListMetrics returns the seeded waste metrics.
func (s *Store) ListMetrics() []WasteMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonedMetrics(&s.state)
}
