// Package risk turns per-type lesion features into a weighted risk assessment.
package risk

import (
	"math"

	"github.com/fedutinova/retinascan/internal/lesion"
	"github.com/fedutinova/retinascan/internal/validation"
)

type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// Config holds the scoring weights and thresholds. All fields are tunable.
type Config struct {
	DarkHighArea   float64 `yaml:"dark_high_area" json:"dark_high_area" validate:"gt=0,lte=1"`
	BrightHighArea float64 `yaml:"bright_high_area" json:"bright_high_area" validate:"gt=0,lte=1"`
	DensityScale   float64 `yaml:"density_scale" json:"density_scale" validate:"gt=0"`
	DarkWeight     float64 `yaml:"dark_weight" json:"dark_weight" validate:"gte=0,lte=1"`
	BrightWeight   float64 `yaml:"bright_weight" json:"bright_weight" validate:"gte=0,lte=1"`
	AreaWeight     float64 `yaml:"area_weight" json:"area_weight" validate:"gte=0,lte=1"`
	DensityWeight  float64 `yaml:"density_weight" json:"density_weight" validate:"gte=0,lte=1"`
	MediumCutoff   float64 `yaml:"medium_cutoff" json:"medium_cutoff" validate:"gt=0,ltfield=HighCutoff"`
	HighCutoff     float64 `yaml:"high_cutoff" json:"high_cutoff" validate:"gt=0,lte=1"`
}

func DefaultConfig() Config {
	return Config{
		DarkHighArea:   0.01,
		BrightHighArea: 0.01,
		DensityScale:   1000,
		DarkWeight:     0.6,
		BrightWeight:   0.4,
		AreaWeight:     0.7,
		DensityWeight:  0.3,
		MediumCutoff:   0.3,
		HighCutoff:     0.6,
	}
}

func (c Config) Validate() error {
	return validation.Struct(c)
}

// LevelFor maps a score onto half-open intervals [0,medium) [medium,high) [high,1].
func (c Config) LevelFor(score float64) Level {
	switch {
	case score < c.MediumCutoff:
		return LevelLow
	case score < c.HighCutoff:
		return LevelMedium
	default:
		return LevelHigh
	}
}

type Assessment struct {
	Score           float64  `json:"score"`
	Level           Level    `json:"level"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
	DarkScore       float64  `json:"dark_score"`
	BrightScore     float64  `json:"bright_score"`
}

type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

func (s *Scorer) Config() Config {
	return s.cfg
}

// Assess scores both lesion types and attaches the level's fixed policy text.
func (s *Scorer) Assess(f lesion.Pair) Assessment {
	dark := s.subScore(f.Dark, s.cfg.DarkHighArea)
	bright := s.subScore(f.Bright, s.cfg.BrightHighArea)

	score := math.Min(1, dark*s.cfg.DarkWeight+bright*s.cfg.BrightWeight)
	level := s.cfg.LevelFor(score)
	desc, recs := Policy(level)

	return Assessment{
		Score:           score,
		Level:           level,
		Description:     desc,
		Recommendations: recs,
		DarkScore:       dark,
		BrightScore:     bright,
	}
}

func (s *Scorer) subScore(f lesion.Features, highArea float64) float64 {
	area := math.Min(1, f.RelativeArea/highArea)
	density := math.Min(1, f.Density*s.cfg.DensityScale)
	return s.cfg.AreaWeight*area + s.cfg.DensityWeight*density
}
