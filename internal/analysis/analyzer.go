package analysis

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/fedutinova/retinascan/internal/fundus"
	"github.com/fedutinova/retinascan/internal/lesion"
	"github.com/fedutinova/retinascan/internal/risk"
)

// Result is everything one Analyze call produces. Masks are 0/255 rasters the
// size of the input image.
type Result struct {
	Preset       string          `json:"preset"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	Preprocessed *image.Gray     `json:"-"`
	DarkMask     *image.Gray     `json:"-"`
	BrightMask   *image.Gray     `json:"-"`
	Features     lesion.Pair     `json:"lesion_analysis"`
	Assessment   risk.Assessment `json:"risk_assessment"`
}

// Analyzer is an immutable, validated pipeline. One Analyzer may serve many
// goroutines.
type Analyzer struct {
	preset Preset
	scorer *risk.Scorer
}

func New(p Preset) (*Analyzer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	scorer, err := risk.NewScorer(p.Risk)
	if err != nil {
		return nil, err
	}
	return &Analyzer{preset: p, scorer: scorer}, nil
}

// NewNamed builds an Analyzer for a preset in r.
func NewNamed(r *Registry, name string) (*Analyzer, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(p)
}

func (a *Analyzer) Preset() Preset {
	return a.preset
}

// Analyze runs preprocessing, both detectors, feature extraction and scoring.
// Zero-pixel and zero-variance images produce empty masks and a zero score.
func (a *Analyzer) Analyze(img image.Image) (*Result, error) {
	b := img.Bounds()
	if b.Empty() {
		slog.Debug("analyze: zero-pixel image")
	}

	pre, err := fundus.Preprocess(img, a.preset.Preprocess)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	dark, err := fundus.DetectDark(pre, a.preset.Dark)
	if err != nil {
		return nil, fmt.Errorf("dark lesions: %w", err)
	}
	bright, err := fundus.DetectBright(pre, a.preset.Bright)
	if err != nil {
		return nil, fmt.Errorf("bright lesions: %w", err)
	}

	var pair lesion.Pair
	if pair.Dark, err = fundus.ExtractFeatures(dark); err != nil {
		return nil, fmt.Errorf("dark features: %w", err)
	}
	if pair.Bright, err = fundus.ExtractFeatures(bright); err != nil {
		return nil, fmt.Errorf("bright features: %w", err)
	}

	res := &Result{
		Preset:       a.preset.Name,
		Width:        b.Dx(),
		Height:       b.Dy(),
		Preprocessed: pre,
		DarkMask:     dark,
		BrightMask:   bright,
		Features:     pair,
		Assessment:   a.scorer.Assess(pair),
	}
	slog.Debug("analyze: done",
		"preset", a.preset.Name,
		"dark_count", pair.Dark.Count,
		"bright_count", pair.Bright.Count,
		"score", res.Assessment.Score,
		"level", res.Assessment.Level,
	)
	return res, nil
}
