// Command foodsharectl operates a foodshare store from the shell: it seeds
// demo data, sweeps expired listings, prints impact reports, attaches proof
// photos and serves Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"foodshare/internal/blob"
	"foodshare/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	exitFunc  = os.Exit
	openStore = core.OpenPersistentStore
	openBlobs = blob.Open
)

const usage = `usage: foodsharectl [-log-level level] [-trace-file path] <command> [flags]

commands:
  seed     load the demo listings and waste metric into an empty store
  sweep    expire available listings past their expiry date
  report   print dashboard, category and donor impact figures as JSON
  photo    attach (or -list) proof of delivery photos
  serve    expose Prometheus metrics over HTTP
`

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("foodsharectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	level := fs.String("log-level", "info", "debug|info|warn|error")
	traceFile := fs.String("trace-file", "", "append operation spans as JSON lines to this file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	logger, err := newLogger(stderr, *level)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	var run func(context.Context, *app, []string) error
	switch cmd := fs.Arg(0); cmd {
	case "seed":
		run = runSeed
	case "sweep":
		run = runSweep
	case "report":
		run = runReport
	case "photo":
		run = runPhoto
	case "serve":
		run = runServe
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: stdout, stderr: stderr, logger: logger}
	if *traceFile != "" {
		f, err := os.OpenFile(*traceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			logger.Error("open trace file", "path", *traceFile, "error", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		a.tracer = core.NewSpanJournal(f)
	}
	if err := run(ctx, a, fs.Args()[1:]); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			if usageErr.msg != "" {
				_, _ = fmt.Fprintln(stderr, usageErr.msg)
			}
			return 2
		}
		logger.Error("command failed", "command", fs.Arg(0), "error", err)
		return 1
	}
	return 0
}

// usageError ends the command with exit code 2. An empty msg means the flag
// package already reported the problem.
type usageError struct{ msg string }

func (e usageError) Error() string {
	if e.msg == "" {
		return "invalid usage"
	}
	return e.msg
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{}
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	tracer core.Tracer
}

// service opens the configured store and wraps it in a service. The returned
// close func releases the store.
func (a *app) service(opts ...core.Option) (*core.Service, func(), error) {
	store, err := openStore(core.NewDefaultRulesEngine())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closeFn := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.logger.Warn("close store", "error", err)
			}
		}
	}
	opts = append([]core.Option{
		core.WithLogger(a.logger),
		core.WithAuditRecorder(core.NewLogAuditRecorder(a.logger)),
		core.WithTracer(a.tracer),
	}, opts...)
	return core.NewService(store, opts...), closeFn, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSweep(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	asOf := fs.String("as-of", "", "sweep date (YYYY-MM-DD, default today)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	when := time.Now().UTC()
	if *asOf != "" {
		parsed, err := time.Parse(time.DateOnly, *asOf)
		if err != nil {
			return usageError{msg: fmt.Sprintf("parse -as-of: %v", err)}
		}
		when = parsed
	}
	svc, closeFn, err := a.service()
	if err != nil {
		return err
	}
	defer closeFn()
	expired, _, err := svc.ExpireListings(ctx, when)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(expired))
	for _, l := range expired {
		ids = append(ids, l.ID)
	}
	return a.printJSON(map[string]any{"as_of": when.Format(time.DateOnly), "expired": ids})
}

type report struct {
	Dashboard  core.DashboardSummary       `json:"dashboard"`
	Categories []core.CategoryAmount       `json:"categories"`
	Claims     map[string]float64          `json:"claim_percentages"`
	Listings   map[string]float64          `json:"listing_percentages"`
	Donors     map[string]core.DonorImpact `json:"donors,omitempty"`
}

func runReport(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	donor := fs.String("donor", "", "include the impact certificate of this donor")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, closeFn, err := a.service()
	if err != nil {
		return err
	}
	defer closeFn()
	agg := svc.Aggregator()
	out := report{
		Dashboard:  agg.Dashboard(),
		Categories: agg.CategoryBreakdown(),
		Claims:     agg.ClaimStatusCounts().Percentages(),
		Listings:   agg.ListingStatusCounts().Percentages(),
	}
	if *donor != "" {
		out.Donors = map[string]core.DonorImpact{*donor: agg.DonorImpact(*donor)}
	}
	return a.printJSON(out)
}

func runPhoto(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("photo", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	deliveryID := fs.String("delivery", "", "delivery id")
	file := fs.String("file", "", "image to upload")
	contentType := fs.String("content-type", "image/jpeg", "image MIME type")
	list := fs.Bool("list", false, "print the delivery's stored proof photos instead of uploading")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *deliveryID == "" || (*file == "") == !*list {
		return usageError{msg: "photo requires -delivery and exactly one of -file or -list"}
	}
	blobs, err := openBlobs(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	svc, closeFn, err := a.service(core.WithBlobStore(blobs))
	if err != nil {
		return err
	}
	defer closeFn()

	if *list {
		photos, err := svc.ListProofPhotos(ctx, *deliveryID)
		if err != nil {
			return err
		}
		return a.printJSON(photos)
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	delivery, err := svc.AttachProofPhoto(ctx, *deliveryID, filepath.Base(*file), *contentType, f)
	if err != nil {
		return err
	}
	return a.printJSON(delivery)
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	addr := fs.String("metrics-addr", ":9090", "listen address for /metrics")
	sweepEvery := fs.Duration("sweep-interval", time.Hour, "expiry sweep interval (0 disables)")
	refreshEvery := fs.Duration("refresh-interval", 30*time.Second, "reload state written by other processes (0 disables)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}
	svc, closeFn, err := a.service(core.WithMetricsRecorder(recorder))
	if err != nil {
		return err
	}
	defer closeFn()
	if err := reg.Register(core.NewPrometheusCollector(svc.Aggregator())); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("serving metrics", "addr", *addr)

	sweepTick := every(*sweepEvery)
	defer sweepTick.Stop()
	refreshTick := every(*refreshEvery)
	defer refreshTick.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-refreshTick.C:
			a.refresh(ctx, svc)
		case now := <-sweepTick.C:
			a.refresh(ctx, svc)
			if _, _, err := svc.ExpireListings(ctx, now); err != nil {
				a.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// ticker wraps time.Ticker so a zero interval yields a channel that never fires.
type ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t ticker) Stop() { t.stop() }

func every(d time.Duration) ticker {
	if d <= 0 {
		return ticker{stop: func() {}}
	}
	tk := time.NewTicker(d)
	return ticker{C: tk.C, stop: tk.Stop}
}

// refresher is implemented by stores shared with other processes.
type refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

func (a *app) refresh(ctx context.Context, svc *core.Service) {
	r, ok := svc.Store().(refresher)
	if !ok {
		return
	}
	reloaded, err := r.Refresh(ctx)
	if err != nil {
		a.logger.Warn("state refresh failed", "error", err)
		return
	}
	if reloaded {
		a.logger.Debug("state reloaded from disk")
	}
}
