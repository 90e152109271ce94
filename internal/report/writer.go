package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fedutinova/retinascan/internal/lesion"
	"github.com/fedutinova/retinascan/internal/risk"
	"github.com/nao1215/markdown"
)

// Writer renders reports to a destination.
type Writer interface {
	Write(r *Report) error
	// Extension is the file extension the format conventionally uses.
	Extension() string
}

// New returns the writer for format ("json" or "markdown").
func New(format string, w io.Writer) (Writer, error) {
	switch format {
	case "", "json":
		return NewJSONWriter(w), nil
	case "markdown", "md":
		return NewMarkdownWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

type JSONWriter struct {
	out io.Writer
}

func NewJSONWriter(out io.Writer) *JSONWriter {
	return &JSONWriter{out: out}
}

func (w *JSONWriter) Write(r *Report) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (w *JSONWriter) Extension() string { return "json" }

// MarkdownWriter renders a human readable report.
type MarkdownWriter struct {
	out io.Writer
}

func NewMarkdownWriter(out io.Writer) *MarkdownWriter {
	return &MarkdownWriter{out: out}
}

func (w *MarkdownWriter) Extension() string { return "md" }

func (w *MarkdownWriter) Write(r *Report) error {
	md := markdown.NewMarkdown(w.out)

	md.H1("Retinal Analysis Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Field", "Value"},
		Rows: [][]string{
			{"Image", r.ImageName},
			{"Analysis date", r.AnalysisDate.Format("2006-01-02 15:04:05 MST")},
			{"Preset", r.Preset},
			{"Size", fmt.Sprintf("%dx%d", r.Width, r.Height)},
		},
	})
	md.PlainText("")

	md.H2("Risk Assessment")
	md.PlainText("")
	alert := fmt.Sprintf("%s (score %.2f)", r.RiskAssessment.Description, r.RiskAssessment.Score)
	switch r.RiskAssessment.Level {
	case risk.LevelHigh:
		md.Cautionf("%s", alert)
	case risk.LevelMedium:
		md.Warningf("%s", alert)
	default:
		md.Tip(alert)
	}
	md.PlainText("")

	md.H2("Lesion Analysis")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Type", "Count", "Relative area", "Average size (px)"},
		Rows: [][]string{
			lesionRow("Dark (microaneurysms, hemorrhages)", r.LesionAnalysis.Dark),
			lesionRow("Bright (exudates)", r.LesionAnalysis.Bright),
		},
	})
	md.PlainText("")

	md.H2("Recommendations")
	md.PlainText("")
	md.BulletList(r.Recommendations...)
	md.PlainText("")

	if a := r.Acquisition; a != nil {
		md.H2("Acquisition")
		md.PlainText("")
		md.BulletList(
			"Camera: "+a.CameraMake+" "+a.CameraModel,
			"Captured: "+a.CapturedAt,
		)
		md.PlainText("")
	}

	md.Note("Automated screening aid. Results must be confirmed by an ophthalmologist.")
	return md.Build()
}

func lesionRow(name string, f lesion.Features) []string {
	return []string{
		name,
		strconv.Itoa(f.Count),
		strconv.FormatFloat(f.RelativeArea*100, 'f', 3, 64) + "%",
		strconv.FormatFloat(f.AvgSize, 'f', 1, 64),
	}
}

// Failure is an image the batch could not analyze.
type Failure struct {
	Image string
	Err   error
}

// WriteBatchSummary renders one row per report and per failure, in order.
func WriteBatchSummary(out io.Writer, reports []*Report, failures []Failure) error {
	md := markdown.NewMarkdown(out)
	md.H2("Batch Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(reports)+len(failures))
	for _, r := range reports {
		rows = append(rows, []string{
			r.ImageName,
			string(r.RiskAssessment.Level),
			strconv.FormatFloat(r.RiskAssessment.Score, 'f', 3, 64),
			strconv.Itoa(r.LesionAnalysis.Dark.Count),
			strconv.Itoa(r.LesionAnalysis.Bright.Count),
		})
	}
	for _, f := range failures {
		rows = append(rows, []string{f.Image, "error", "-", "-", f.Err.Error()})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Image", "Level", "Score", "Dark", "Bright"},
		Rows:   rows,
	})
	md.PlainText("")
	if len(failures) > 0 {
		md.Warningf("%d of %d images failed", len(failures), len(reports)+len(failures))
	}
	return md.Build()
}
