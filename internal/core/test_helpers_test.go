package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (l *captureLogger) add(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf("%s:%s %v", level, msg, args))
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("d", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("i", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("w", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("e", msg, args...) }

func (l *captureLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *captureAuditRecorder) last(t *testing.T) AuditEntry {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		t.Fatalf("no audit entries recorded")
	}
	return r.entries[len(r.entries)-1]
}

type metricObservation struct {
	operation string
	success   bool
}

type captureMetricsRecorder struct {
	mu  sync.Mutex
	obs []metricObservation
}

func (r *captureMetricsRecorder) Observe(_ context.Context, operation string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, metricObservation{operation: operation, success: success})
}

type captureSpan struct {
	tracer    *captureTracer
	operation string
}

func (s captureSpan) End(err error) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.ended = append(s.tracer.ended, s.operation)
	s.tracer.errs = append(s.tracer.errs, err)
}

type captureTracer struct {
	mu      sync.Mutex
	started []string
	ended   []string
	errs    []error
}

func (t *captureTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = append(t.started, operation)
	return ctx, captureSpan{tracer: t, operation: operation}
}

// steppingClock advances by one minute on every read.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock(start time.Time) *steppingClock {
	return &steppingClock{now: start}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(time.Minute)
	return current
}

var fixedNow = time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)

func fixedClock() Clock {
	return ClockFunc(func() time.Time { return fixedNow })
}

func mustListing(t *testing.T, svc *Service, title string, qty float64) Listing {
	t.Helper()
	listing, _, err := svc.CreateListing(context.Background(), Listing{
		Title:      title,
		Quantity:   qty,
		Unit:       "kg",
		Category:   "Vegetables",
		DonorID:    "donor1",
		DonorName:  "Haryana Organic Farms",
		ExpiryDate: time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create listing %s: %v", title, err)
	}
	return listing
}

func mustClaim(t *testing.T, svc *Service, listingID string, qty float64) Claim {
	t.Helper()
	claim, _, err := svc.CreateClaim(context.Background(), ClaimRequest{
		ListingID:     listingID,
		Quantity:      qty,
		RecipientID:   "recipient1",
		RecipientName: "Robin Hood Army",
	})
	if err != nil {
		t.Fatalf("create claim on %s: %v", listingID, err)
	}
	return claim
}

func mustTransition(t *testing.T, svc *Service, claimID string, status ClaimStatus) ClaimTransition {
	t.Helper()
	out, _, err := svc.UpdateClaimStatus(context.Background(), claimID, status)
	if err != nil {
		t.Fatalf("update claim %s to %s: %v", claimID, status, err)
	}
	return out
}
