package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fedutinova/retinascan/internal/analysis"
	"github.com/fedutinova/retinascan/internal/imageio"
	"github.com/fedutinova/retinascan/internal/report"
	"github.com/spf13/cobra"
)

// NewBatchCmd creates the batch command.
func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <directory>",
		Short: "Analyze every fundus image in a directory",
		Long: `Batch analyzes all .jpg, .jpeg, .png, .tif, .tiff, .bmp and .webp files
directly inside a directory, writes one report per image and prints a
summary table. A failing image is reported and does not stop the batch.

Examples:
  retinactl batch ./images
  retinactl batch --concurrency 8 --output ./reports --masks ./images`,
		Args: cobra.ExactArgs(1),
		RunE: runBatchCmd,
	}

	addPresetFlag(cmd)
	addOutputFlags(cmd)
	cmd.Flags().IntP("concurrency", "c", 4, "Number of images analyzed in parallel")

	return cmd
}

func runBatchCmd(cmd *cobra.Command, args []string) error {
	opts, err := getOutputOptions(cmd)
	if err != nil {
		return err
	}
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	analyzer, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}

	sources, err := listImages(args[0])
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no images found in %s", args[0])
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress io.Writer
	if getVerboseFlag(cmd) {
		progress = cmd.ErrOrStderr()
	}
	reports, failures, err := runBatch(ctx, analyzer, sources, concurrency, opts, progress)
	if sumErr := report.WriteBatchSummary(cmd.OutOrStdout(), reports, failures); sumErr != nil {
		return sumErr
	}
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return fmt.Errorf("all %d images failed", len(failures))
	}
	return nil
}

// runBatch analyzes sources in parallel and writes one report per image.
// When progress is non-nil a line is printed there as each image finishes.
func runBatch(ctx context.Context, analyzer *analysis.Analyzer, sources []string, concurrency int, opts outputOptions, progress io.Writer) ([]*report.Report, []report.Failure, error) {
	// metadata is read during load and picked up when the report is assembled
	var meta sync.Map
	load := func(_ context.Context, src string) (image.Image, error) {
		img, m, err := imageio.Load(src)
		if err != nil {
			return nil, err
		}
		meta.Store(src, m)
		return img, nil
	}

	batchOpts := []analysis.BatchOption{
		analysis.WithConcurrency(concurrency),
		analysis.WithBatchLogger(slog.Default().With("command", "batch")),
	}
	if progress != nil {
		var (
			mu   sync.Mutex
			done int
		)
		batchOpts = append(batchOpts, analysis.WithItemCallback(func(_ int, it analysis.BatchItem) {
			mu.Lock()
			defer mu.Unlock()
			done++
			status := "ok"
			if it.Err != nil {
				status = "failed: " + it.Err.Error()
			}
			fmt.Fprintf(progress, "[%d/%d] %s %s\n", done, len(sources), filepath.Base(it.Source), status)
		}))
	}
	bp := analysis.NewBatchProcessor(analyzer, load, batchOpts...)
	items, err := bp.Process(ctx, sources)

	var (
		reports  []*report.Report
		failures []report.Failure
	)
	now := time.Now()
	for _, it := range items {
		name := filepath.Base(it.Source)
		if it.Err != nil {
			failures = append(failures, report.Failure{Image: name, Err: it.Err})
			continue
		}
		m, _ := meta.Load(it.Source)
		md, _ := m.(imageio.Metadata)
		rep := report.Assemble(name, it.Result, md, now)
		if _, werr := writeOutputs(opts, rep, it.Result); werr != nil {
			failures = append(failures, report.Failure{Image: name, Err: werr})
			continue
		}
		reports = append(reports, rep)
	}
	return reports, failures, err
}
