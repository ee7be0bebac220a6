package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"foodshare/internal/blob"
	"foodshare/internal/infra/persistence/memory"
	"foodshare/pkg/domain"
)

// Service exposes the transactional listing, claim and delivery operations.
// Every mutating call runs inside a single store transaction so cascades are
// all-or-nothing and readers never observe them half applied.
type Service struct {
	store   domain.PersistentStore
	engine  *RulesEngine
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	blobs   blob.Store
	now     func() time.Time

	photoMu sync.Mutex
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

type nowFuncSetter interface {
	SetNowFunc(func() time.Time)
}

type rulesEngineProvider interface {
	RulesEngine() *domain.RulesEngine
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	cfg := serviceOptions{
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.clock != nil {
		if setter, ok := store.(nowFuncSetter); ok {
			setter.SetNowFunc(cfg.clock.Now)
		}
	}
	return &Service{
		store:   store,
		engine:  extractRulesEngine(store),
		logger:  cfg.logger,
		audit:   cfg.audit,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		blobs:   cfg.blobs,
		now:     selectNowFunc(store, cfg.clock),
	}
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

func selectNowFunc(store domain.PersistentStore, clock Clock) func() time.Time {
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock != nil {
		return clock.Now
	}
	return func() time.Time { return time.Now().UTC() }
}

func extractRulesEngine(store domain.PersistentStore) *domain.RulesEngine {
	if provider, ok := store.(rulesEngineProvider); ok {
		return provider.RulesEngine()
	}
	return nil
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// RulesEngine returns the engine evaluated on every commit, if the store exposes it.
func (s *Service) RulesEngine() *RulesEngine {
	return s.engine
}

// Now reports the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// run wraps one store transaction with tracing, metrics, logging and audit.
// fn returns the ID of the primary entity it touched.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) (string, error)) (Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	var entityID string
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("core operation failed", "operation", op, "entity_id", entityID, "error", err)
		s.recordAuditError(ctx, op, entityID, duration, err)
		return res, err
	}
	for _, v := range res.Warnings() {
		s.logger.Warn("rule warning", "operation", op, "rule", v.Rule, "entity", string(v.Entity), "entity_id", v.EntityID, "message", v.Message)
	}
	s.logger.Debug("core operation completed", "operation", op, "entity_id", entityID, "violations", len(res.Violations), "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return res, nil
}

// CreateListing persists a new listing. Status defaults to available.
func (s *Service) CreateListing(ctx context.Context, listing Listing) (Listing, Result, error) {
	var created Listing
	res, err := s.run(ctx, "create_listing", func(tx domain.Transaction) (string, error) {
		var err error
		created, err = tx.CreateListing(listing)
		return created.ID, err
	})
	return created, res, err
}

// UpdateListing applies mutator to a listing. Any field including status may
// be overwritten; this is the explicit status override path.
func (s *Service) UpdateListing(ctx context.Context, id string, mutator func(*Listing) error) (Listing, Result, error) {
	var updated Listing
	res, err := s.run(ctx, "update_listing", func(tx domain.Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateListing(id, mutator)
		return id, err
	})
	return updated, res, err
}

// DeleteListing removes a listing. Claims referencing it are kept and reported
// through an orphaned_claims warning when the default rules are active.
func (s *Service) DeleteListing(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "delete_listing", func(tx domain.Transaction) (string, error) {
		return id, tx.DeleteListing(id)
	})
}

// GetListing returns a listing with its claim summaries.
func (s *Service) GetListing(id string) (Listing, bool) {
	return s.store.GetListing(id)
}

// ListListings returns listings matching pred, newest first. A nil pred
// matches every listing.
func (s *Service) ListListings(pred func(Listing) bool) []Listing {
	all := s.store.ListListings()
	out := make([]Listing, 0, len(all))
	for _, listing := range all {
		if pred == nil || pred(listing) {
			out = append(out, listing)
		}
	}
	sortListingsNewestFirst(out)
	return out
}

func sortListingsNewestFirst(listings []Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		if !listings[i].CreatedAt.Equal(listings[j].CreatedAt) {
			return listings[i].CreatedAt.After(listings[j].CreatedAt)
		}
		return listings[i].ID < listings[j].ID
	})
}

// AvailableListings returns the listings open for claiming, newest first.
func (s *Service) AvailableListings() []Listing {
	return s.ListListings(func(l Listing) bool { return l.Status == domain.ListingStatusAvailable })
}

// ListingsByDonor returns the listings posted by donorID.
func (s *Service) ListingsByDonor(donorID string) []Listing {
	return s.ListListings(func(l Listing) bool { return l.DonorID == donorID })
}

// ListingsByCategory returns the listings in category.
func (s *Service) ListingsByCategory(category string) []Listing {
	return s.ListListings(func(l Listing) bool { return l.Category == category })
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExpireListings moves every available listing whose expiry date falls before
// asOf's date to expired. The sweep is a single transaction.
func (s *Service) ExpireListings(ctx context.Context, asOf time.Time) ([]Listing, Result, error) {
	cutoff := dateOf(asOf)
	var expired []Listing
	res, err := s.run(ctx, "expire_listings", func(tx domain.Transaction) (string, error) {
		expired = nil
		for _, listing := range tx.Snapshot().ListListings() {
			if listing.Status != domain.ListingStatusAvailable || listing.ExpiryDate.IsZero() {
				continue
			}
			if !dateOf(listing.ExpiryDate).Before(cutoff) {
				continue
			}
			updated, err := tx.UpdateListing(listing.ID, func(l *Listing) error {
				l.Status = domain.ListingStatusExpired
				return nil
			})
			if err != nil {
				return listing.ID, err
			}
			expired = append(expired, updated)
		}
		return "", nil
	})
	if err != nil {
		return nil, res, err
	}
	if len(expired) > 0 {
		s.logger.Info("listings expired", "count", len(expired), "as_of", cutoff.Format(time.DateOnly))
	}
	return expired, res, nil
}

// RecordMetric stores an externally reported waste metric snapshot.
func (s *Service) RecordMetric(ctx context.Context, metric WasteMetric) (WasteMetric, Result, error) {
	var recorded WasteMetric
	res, err := s.run(ctx, "record_metric", func(tx domain.Transaction) (string, error) {
		var err error
		recorded, err = tx.AddMetric(metric)
		return recorded.Date.Format(time.DateOnly), err
	})
	return recorded, res, err
}

// Aggregator returns a metrics aggregator reading from the service store.
func (s *Service) Aggregator() *Aggregator {
	return NewAggregator(s.store)
}
