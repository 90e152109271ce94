package analysis

import (
	"context"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoadFunc resolves a batch source (usually a path) into an image.
type LoadFunc func(ctx context.Context, source string) (image.Image, error)

// BatchItem is the outcome for one source. Exactly one of Result and Err is set.
type BatchItem struct {
	Source string
	Result *Result
	Err    error
}

// BatchProcessor analyzes disjoint images on a bounded pool of goroutines.
type BatchProcessor struct {
	analyzer    *Analyzer
	load        LoadFunc
	concurrency int
	logger      *slog.Logger
	onDone      func(index int, item BatchItem)
}

type BatchOption func(*BatchProcessor)

func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the pool size. Default is 4.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithItemCallback registers fn to run as each image finishes. fn is called
// from worker goroutines and must be safe for concurrent use.
func WithItemCallback(fn func(index int, item BatchItem)) BatchOption {
	return func(b *BatchProcessor) {
		b.onDone = fn
	}
}

func NewBatchProcessor(a *Analyzer, load LoadFunc, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		analyzer:    a,
		load:        load,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// Process analyzes every source and returns the items in input order.
// A failing image is recorded on its item and does not stop the batch.
// Cancelling ctx stops new images from starting; items never started carry
// the context error.
func (bp *BatchProcessor) Process(ctx context.Context, sources []string) ([]BatchItem, error) {
	bp.logger.Info("starting batch analysis",
		"total_images", len(sources),
		"concurrency", bp.concurrency,
		"preset", bp.analyzer.Preset().Name,
	)
	start := time.Now()

	// each goroutine writes only its own slot
	items := make([]BatchItem, len(sources))
	for i, src := range sources {
		items[i].Source = src
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, src := range sources {
		if gctx.Err() != nil {
			items[i].Err = gctx.Err()
			continue
		}
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}

			item := bp.one(gctx, src)
			items[i] = item
			if item.Err != nil {
				bp.logger.Warn("image failed", "source", src, "index", i+1, "total", len(sources), "error", item.Err)
			} else {
				bp.logger.Info("image analyzed",
					"source", src,
					"index", i+1,
					"total", len(sources),
					"score", item.Result.Assessment.Score,
					"level", item.Result.Assessment.Level,
				)
			}
			if bp.onDone != nil {
				bp.onDone(i, item)
			}
			return nil
		})
	}

	_ = g.Wait() // workers never return errors
	bp.logger.Info("batch analysis complete",
		"total_images", len(sources),
		"elapsed", time.Since(start),
	)
	return items, ctx.Err()
}

func (bp *BatchProcessor) one(ctx context.Context, src string) BatchItem {
	img, err := bp.load(ctx, src)
	if err != nil {
		return BatchItem{Source: src, Err: err}
	}
	res, err := bp.analyzer.Analyze(img)
	if err != nil {
		return BatchItem{Source: src, Err: err}
	}
	return BatchItem{Source: src, Result: res}
}
