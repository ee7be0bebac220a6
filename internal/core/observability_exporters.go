package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder counts service operations by outcome and tracks
// their latency.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers with reg, or reuses collectors a
// previous recorder registered there. A nil reg leaves them unregistered.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodshare",
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foodshare",
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
	}
	if reg == nil {
		return r, nil
	}
	var err error
	if r.operations, err = register(reg, r.operations); err != nil {
		return nil, err
	}
	if r.durations, err = register(reg, r.durations); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := string(AuditStatusError)
	if success {
		status = string(AuditStatusSuccess)
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

type spanIDKey struct{}

// SpanID returns the id of the span the context was started under, or "".
func SpanID(ctx context.Context) string {
	id, _ := ctx.Value(spanIDKey{}).(string)
	return id
}

// SpanRecord is one finished service operation as written by SpanJournal.
type SpanRecord struct {
	ID        string    `json:"span_id"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Start     time.Time `json:"start"`
	ElapsedMS float64   `json:"elapsed_ms"`
}

// SpanJournal is a Tracer that appends each finished span to a JSON lines
// writer and keeps the records in memory. Span ids travel in the context so
// audit and log lines can be correlated with them.
type SpanJournal struct {
	mu      sync.Mutex
	w       io.Writer
	records []SpanRecord
}

// NewSpanJournal writes spans to w. A nil w only retains them.
func NewSpanJournal(w io.Writer) *SpanJournal {
	return &SpanJournal{w: w}
}

// Start implements Tracer.
func (j *SpanJournal) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	rec := SpanRecord{ID: uuid.NewString(), Operation: operation, Start: time.Now().UTC()}
	return context.WithValue(ctx, spanIDKey{}, rec.ID), &journalSpan{journal: j, rec: rec}
}

// Records returns the spans finished so far, oldest first.
func (j *SpanJournal) Records() []SpanRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]SpanRecord(nil), j.records...)
}

func (j *SpanJournal) finish(rec SpanRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	if j.w == nil {
		return
	}
	if line, err := json.Marshal(rec); err == nil {
		_, _ = j.w.Write(append(line, '\n'))
	}
}

type journalSpan struct {
	journal *SpanJournal
	rec     SpanRecord
	once    sync.Once
}

func (s *journalSpan) End(err error) {
	s.once.Do(func() {
		rec := s.rec
		rec.ElapsedMS = float64(time.Since(rec.Start)) / float64(time.Millisecond)
		rec.Status = string(AuditStatusSuccess)
		if err != nil {
			rec.Status = string(AuditStatusError)
			rec.Error = err.Error()
		}
		s.journal.finish(rec)
	})
}

// LogAuditRecorder writes the audit trail through a structured logger.
type LogAuditRecorder struct {
	logger Logger
}

// NewLogAuditRecorder returns a recorder logging to logger. A nil logger
// discards entries.
func NewLogAuditRecorder(logger Logger) *LogAuditRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogAuditRecorder{logger: logger}
}

// Record implements AuditRecorder. Failed operations are logged at warn.
func (r *LogAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	args := []any{
		"operation", entry.Operation,
		"entity", string(entry.Entity),
		"action", string(entry.Action),
		"entity_id", entry.EntityID,
		"status", string(entry.Status),
		"duration", entry.Duration,
		"at", entry.Timestamp,
	}
	if id := SpanID(ctx); id != "" {
		args = append(args, "span_id", id)
	}
	if entry.Status == AuditStatusError {
		r.logger.Warn("audit", append(args, "error", entry.Error)...)
		return
	}
	r.logger.Info("audit", args...)
}
