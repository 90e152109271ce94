package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fedutinova/retinascan/internal/analysis"
	"github.com/fedutinova/retinascan/internal/history"
	"github.com/fedutinova/retinascan/internal/imageio"
	"github.com/fedutinova/retinascan/internal/report"
	"github.com/spf13/cobra"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze one fundus image and write its diagnosis report",
		Long: `Analyze runs the lesion pipeline on a single fundus photograph.

The report is written to the output directory as diagnosis_<image>.json
(or .md with --format markdown) and a short summary is printed. Each run is
recorded in the local history unless --no-history is given.

Examples:
  retinactl analyze eye.png
  retinactl analyze --preset strict --format markdown --masks eye.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyzeCmd,
	}

	addPresetFlag(cmd)
	addOutputFlags(cmd)
	cmd.Flags().Bool("no-history", false, "Do not record this run in the history")

	return cmd
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "json", "Report format: json or markdown")
	cmd.Flags().StringP("output", "o", ".", "Directory for reports and masks")
	cmd.Flags().Bool("masks", false, "Also write the dark and bright lesion masks as PNG")
}

type outputOptions struct {
	format string
	dir    string
	masks  bool
}

func getOutputOptions(cmd *cobra.Command) (outputOptions, error) {
	var o outputOptions
	var err error
	if o.format, err = cmd.Flags().GetString("format"); err != nil {
		return o, err
	}
	if o.dir, err = cmd.Flags().GetString("output"); err != nil {
		return o, err
	}
	if o.masks, err = cmd.Flags().GetBool("masks"); err != nil {
		return o, err
	}
	if _, err := report.New(o.format, io.Discard); err != nil {
		return o, err
	}
	if err := os.MkdirAll(o.dir, 0o750); err != nil {
		return o, fmt.Errorf("failed to create output directory: %w", err)
	}
	return o, nil
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	opts, err := getOutputOptions(cmd)
	if err != nil {
		return err
	}
	noHistory, err := cmd.Flags().GetBool("no-history")
	if err != nil {
		return err
	}
	analyzer, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}

	path := args[0]
	img, meta, err := imageio.Load(path)
	if err != nil {
		return err
	}
	res, err := analyzer.Analyze(img)
	if err != nil {
		return err
	}
	rep := report.Assemble(filepath.Base(path), res, meta, time.Now())

	reportPath, err := writeOutputs(opts, rep, res)
	if err != nil {
		return err
	}

	if !noHistory {
		if err := recordHistory(cmd, rep, reportPath); err != nil {
			slog.Warn("failed to record history", "error", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s risk (score %.3f)\n", rep.ImageName, rep.RiskAssessment.Level, rep.RiskAssessment.Score)
	fmt.Fprintf(out, "  dark lesions:   %d (relative area %.4f)\n", rep.LesionAnalysis.Dark.Count, rep.LesionAnalysis.Dark.RelativeArea)
	fmt.Fprintf(out, "  bright lesions: %d (relative area %.4f)\n", rep.LesionAnalysis.Bright.Count, rep.LesionAnalysis.Bright.RelativeArea)
	fmt.Fprintf(out, "  report: %s\n", reportPath)
	return nil
}

// writeOutputs writes the report, and the masks when asked, returning the report path.
func writeOutputs(opts outputOptions, rep *report.Report, res *analysis.Result) (string, error) {
	f, err := os.CreateTemp(opts.dir, ".report-*")
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}
	defer os.Remove(f.Name()) //nolint:errcheck // gone after a successful rename

	w, err := report.New(opts.format, f)
	if err != nil {
		_ = f.Close()
		return "", err
	}
	if err := w.Write(rep); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	path := filepath.Join(opts.dir, report.FileName(rep.ImageName, w.Extension()))
	if err := os.Rename(f.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	if opts.masks {
		base := baseName(rep.ImageName)
		if err := imageio.SaveMask(filepath.Join(opts.dir, base+"_dark_mask.png"), res.DarkMask); err != nil {
			return "", err
		}
		if err := imageio.SaveMask(filepath.Join(opts.dir, base+"_bright_mask.png"), res.BrightMask); err != nil {
			return "", err
		}
	}
	return path, nil
}

func recordHistory(cmd *cobra.Command, rep *report.Report, reportPath string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	abs, err := filepath.Abs(reportPath)
	if err != nil {
		abs = reportPath
	}
	id, err := store.Record(cmd.Context(), rep, abs)
	if err != nil {
		return err
	}
	slog.Debug("recorded analysis", "id", id, "history", store.Path())
	return nil
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	dir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return nil, err
	}
	return history.Open(dir)
}
