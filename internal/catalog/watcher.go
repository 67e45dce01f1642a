package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// Source fetches the current markup
type Source func(ctx context.Context) (io.ReadCloser, error)

// Applier receives scanned products; the cart engine implements it
type Applier interface {
	ApplyCatalog(ctx context.Context, products []models.Product, warnings []string) error
}

type WatcherOptions struct {
	// Debounce is the quiet period after the last Notify before a scan runs
	Debounce time.Duration
	// PollInterval rescans on a fixed cadence; zero disables polling
	PollInterval time.Duration
}

// Watcher rescans the catalog when the host signals a change, coalescing
// bursts of notifications into one scan.
type Watcher struct {
	scanner *Scanner
	source  Source
	applier Applier
	opts    WatcherOptions
	notify  chan struct{}
	logger  *zap.Logger
}

// NewWatcher creates a watcher. Call Run to start it.
func NewWatcher(scanner *Scanner, source Source, applier Applier, opts WatcherOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	return &Watcher{
		scanner: scanner,
		source:  source,
		applier: applier,
		opts:    opts,
		notify:  make(chan struct{}, 1),
		logger:  util.GetLogger(),
	}
}

// Notify signals that the catalog changed. It never blocks.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run processes notifications until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Starting catalog watcher",
		zap.Duration("debounce", w.opts.Debounce),
		zap.Duration("poll_interval", w.opts.PollInterval))

	var tickC <-chan time.Time
	if w.opts.PollInterval > 0 {
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Catalog watcher stopped")
			return ctx.Err()
		case <-w.notify:
			timer.Reset(w.opts.Debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.scan(ctx)
		case <-tickC:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	if _, err := w.ScanNow(ctx); err != nil {
		w.logger.Error("Catalog scan failed", zap.Error(err))
	}
}

// ScanNow fetches, scans and applies the catalog immediately
func (w *Watcher) ScanNow(ctx context.Context) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Watcher.ScanNow")
	defer span.End()

	body, err := w.source(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer body.Close()

	res, err := w.scanner.Scan(body)
	if err != nil {
		return Result{}, err
	}

	if err := w.applier.ApplyCatalog(ctx, res.Products, res.WarningStrings()); err != nil {
		return res, fmt.Errorf("failed to apply catalog: %w", err)
	}
	return res, nil
}

// HTTPSource fetches markup with a GET request
func HTTPSource(client *http.Client, url string) Source {
	return func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("catalog source returned status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}
}
