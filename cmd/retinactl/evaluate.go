package main

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/fedutinova/retinascan/internal/analysis"
	"github.com/fedutinova/retinascan/internal/evaluation"
	"github.com/fedutinova/retinascan/internal/imageio"
	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"
)

const (
	lesionDark   = "dark"
	lesionBright = "bright"
	lesionAll    = "all"
)

// NewEvaluateCmd creates the evaluate command.
func NewEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <images-dir> <ground-truth-dir>",
		Short: "Score detected lesion masks against ground-truth masks",
		Long: `Evaluate analyzes every image in images-dir, pairs it with the mask of the
same base name in ground-truth-dir and reports per-image pixel metrics
(accuracy, precision, recall, F1, Dice) plus their mean and standard
deviation over the dataset. Images without a ground-truth mask are skipped.

--lesion selects which predicted mask is compared: dark, bright or all
(the union of both).

Examples:
  retinactl evaluate ./images ./masks
  retinactl evaluate --lesion dark --json ./images ./ma-masks`,
		Args: cobra.ExactArgs(2),
		RunE: runEvaluateCmd,
	}

	addPresetFlag(cmd)
	cmd.Flags().String("lesion", lesionAll, "Predicted mask to compare: dark, bright or all")
	cmd.Flags().BoolP("json", "j", false, "Print results as JSON")

	return cmd
}

type evaluationRow struct {
	Image   string             `json:"image"`
	Metrics evaluation.Metrics `json:"metrics"`
}

type evaluationResult struct {
	Preset  string             `json:"preset"`
	Lesion  string             `json:"lesion"`
	Images  []evaluationRow    `json:"images"`
	Skipped []string           `json:"skipped,omitempty"`
	Summary evaluation.Summary `json:"summary"`
}

func runEvaluateCmd(cmd *cobra.Command, args []string) error {
	lesion, err := cmd.Flags().GetString("lesion")
	if err != nil {
		return err
	}
	switch lesion {
	case lesionDark, lesionBright, lesionAll:
	default:
		return fmt.Errorf("unknown lesion kind %q (want dark, bright or all)", lesion)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	analyzer, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}

	images, err := listImages(args[0])
	if err != nil {
		return err
	}
	truths, err := listImages(args[1])
	if err != nil {
		return err
	}
	truthByBase := make(map[string]string, len(truths))
	for _, p := range truths {
		truthByBase[baseName(p)] = p
	}

	result := evaluationResult{Preset: analyzer.Preset().Name, Lesion: lesion}
	var all []evaluation.Metrics
	for _, img := range images {
		truthPath, ok := truthByBase[baseName(img)]
		if !ok {
			slog.Warn("no ground truth for image", "image", img)
			result.Skipped = append(result.Skipped, filepath.Base(img))
			continue
		}
		m, err := evaluateOne(analyzer, img, truthPath, lesion)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(img), err)
		}
		result.Images = append(result.Images, evaluationRow{Image: filepath.Base(img), Metrics: m})
		all = append(all, m)
	}
	if len(all) == 0 {
		return fmt.Errorf("no image in %s has a ground-truth mask in %s", args[0], args[1])
	}
	result.Summary = evaluation.Summarize(all)

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return writeEvaluationMarkdown(cmd, result)
}

func evaluateOne(analyzer *analysis.Analyzer, imagePath, truthPath, lesion string) (evaluation.Metrics, error) {
	img, _, err := imageio.Load(imagePath)
	if err != nil {
		return evaluation.Metrics{}, err
	}
	truth, err := imageio.LoadMask(truthPath)
	if err != nil {
		return evaluation.Metrics{}, err
	}
	res, err := analyzer.Analyze(img)
	if err != nil {
		return evaluation.Metrics{}, err
	}

	var pred *image.Gray
	switch lesion {
	case lesionDark:
		pred = res.DarkMask
	case lesionBright:
		pred = res.BrightMask
	default:
		if pred, err = evaluation.Union(res.DarkMask, res.BrightMask); err != nil {
			return evaluation.Metrics{}, err
		}
	}
	return evaluation.Evaluate(pred, truth)
}

func writeEvaluationMarkdown(cmd *cobra.Command, r evaluationResult) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

	md := markdown.NewMarkdown(cmd.OutOrStdout())
	md.H2(fmt.Sprintf("Evaluation (%s preset, %s lesions)", r.Preset, r.Lesion))
	md.PlainText("")

	rows := make([][]string, 0, len(r.Images))
	for _, row := range r.Images {
		m := row.Metrics
		rows = append(rows, []string{row.Image, f(m.Accuracy), f(m.Precision), f(m.Recall), f(m.F1), f(m.Dice)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Image", "Accuracy", "Precision", "Recall", "F1", "Dice"},
		Rows:   rows,
	})
	md.PlainText("")

	s := r.Summary
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Mean", "Std"},
		Rows: [][]string{
			{"Accuracy", f(s.Accuracy.Mean), f(s.Accuracy.StdDev)},
			{"Precision", f(s.Precision.Mean), f(s.Precision.StdDev)},
			{"Recall", f(s.Recall.Mean), f(s.Recall.StdDev)},
			{"F1", f(s.F1.Mean), f(s.F1.StdDev)},
			{"Dice", f(s.Dice.Mean), f(s.Dice.StdDev)},
		},
	})
	if len(r.Skipped) > 0 {
		md.PlainText("")
		md.PlainTextf("%d images skipped without ground truth.", len(r.Skipped))
	}
	return md.Build()
}
