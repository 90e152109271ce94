// Package report assembles the persisted diagnosis record for one analyzed image
// and renders it as JSON or Markdown.
package report

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fedutinova/retinascan/internal/analysis"
	"github.com/fedutinova/retinascan/internal/imageio"
	"github.com/fedutinova/retinascan/internal/lesion"
	"github.com/fedutinova/retinascan/internal/risk"
)

type RiskSummary struct {
	Score       float64    `json:"score"`
	Level       risk.Level `json:"level"`
	Description string     `json:"description"`
}

// Report is the diagnosis record written next to each analyzed image.
type Report struct {
	ImageName       string            `json:"image_name"`
	AnalysisDate    time.Time         `json:"analysis_date"`
	Preset          string            `json:"preset"`
	Width           int               `json:"width"`
	Height          int               `json:"height"`
	RiskAssessment  RiskSummary       `json:"risk_assessment"`
	LesionAnalysis  lesion.Pair       `json:"lesion_analysis"`
	Recommendations []string          `json:"recommendations"`
	Acquisition     *imageio.Metadata `json:"acquisition,omitempty"`
}

// Assemble builds the report for res. now is the only clock read in the
// analysis path, so callers pass it in.
func Assemble(imageName string, res *analysis.Result, meta imageio.Metadata, now time.Time) *Report {
	r := &Report{
		ImageName:    imageName,
		AnalysisDate: now.UTC().Truncate(time.Second),
		Preset:       res.Preset,
		Width:        res.Width,
		Height:       res.Height,
		RiskAssessment: RiskSummary{
			Score:       res.Assessment.Score,
			Level:       res.Assessment.Level,
			Description: res.Assessment.Description,
		},
		LesionAnalysis:  res.Features,
		Recommendations: append([]string(nil), res.Assessment.Recommendations...),
	}
	if !meta.IsZero() {
		m := meta
		r.Acquisition = &m
	}
	return r
}

// FileName is diagnosis_<image base name without extension>.<ext>.
func FileName(imageName, ext string) string {
	base := filepath.Base(imageName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return "diagnosis_" + base + "." + strings.TrimPrefix(ext, ".")
}
