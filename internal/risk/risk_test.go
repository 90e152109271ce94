package risk

import (
	"testing"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/lesion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestAssess_NoLesionsIsLow(t *testing.T) {
	s := newDefaultScorer(t)

	a := s.Assess(lesion.Pair{})

	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, "Low risk of diabetic retinopathy", a.Description)
	assert.Len(t, a.Recommendations, 2)
}

func TestAssess_SaturatedDarkHitsHighBoundary(t *testing.T) {
	s := newDefaultScorer(t)

	// dark sub-score saturates at 1.0, weighted by 0.6
	a := s.Assess(lesion.Pair{
		Dark: lesion.Features{RelativeArea: 0.02, Count: 40, AvgSize: 50, Density: 0.002},
	})

	assert.Equal(t, 1.0, a.DarkScore)
	assert.Equal(t, 0.6, a.Score)
	assert.Equal(t, LevelHigh, a.Level)
}

func TestAssess_SaturatedBrightIsMedium(t *testing.T) {
	s := newDefaultScorer(t)

	a := s.Assess(lesion.Pair{
		Bright: lesion.Features{RelativeArea: 0.5, Count: 10, AvgSize: 100, Density: 0.01},
	})

	assert.Equal(t, 0.4, a.Score)
	assert.Equal(t, LevelMedium, a.Level)
	assert.Len(t, a.Recommendations, 3)
}

func TestAssess_ScoreClampedToOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DarkWeight = 1
	cfg.BrightWeight = 1
	s, err := NewScorer(cfg)
	require.NoError(t, err)

	full := lesion.Features{RelativeArea: 1, Count: 1, AvgSize: 10, Density: 1}
	a := s.Assess(lesion.Pair{Dark: full, Bright: full})

	assert.Equal(t, 1.0, a.Score)
	assert.Equal(t, LevelHigh, a.Level)
}

func TestAssess_MonotoneInAreaAndDensity(t *testing.T) {
	s := newDefaultScorer(t)

	prev := -1.0
	for _, area := range []float64{0, 0.001, 0.002, 0.005, 0.01, 0.05, 1} {
		got := s.Assess(lesion.Pair{Dark: lesion.Features{RelativeArea: area, Count: 1, AvgSize: 1, Density: 0.0001}}).Score
		if got < prev {
			t.Fatalf("score decreased when relative_area grew to %v: %v < %v", area, got, prev)
		}
		if got < 0 || got > 1 {
			t.Fatalf("score %v outside [0,1]", got)
		}
		prev = got
	}

	prev = -1.0
	for _, density := range []float64{0, 1e-5, 1e-4, 5e-4, 1e-3, 1e-2} {
		got := s.Assess(lesion.Pair{Bright: lesion.Features{RelativeArea: 0.001, Count: 1, AvgSize: 1, Density: density}}).Score
		if got < prev {
			t.Fatalf("score decreased when density grew to %v: %v < %v", density, got, prev)
		}
		prev = got
	}
}

func TestLevelFor_Boundaries(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{0.2999, LevelLow},
		{0.3, LevelMedium},
		{0.5999, LevelMedium},
		{0.6, LevelHigh},
		{1, LevelHigh},
	}
	for _, tt := range tests {
		if got := cfg.LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestPolicy_ReturnsCopy(t *testing.T) {
	_, recs := Policy(LevelHigh)
	recs[0] = "changed"

	_, again := Policy(LevelHigh)
	assert.Equal(t, "Urgent medical consultation", again[0])
}

func TestNewScorer_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dark threshold", func(c *Config) { c.DarkHighArea = 0 }},
		{"bright threshold above one", func(c *Config) { c.BrightHighArea = 1.5 }},
		{"negative weight", func(c *Config) { c.DarkWeight = -0.1 }},
		{"zero density scale", func(c *Config) { c.DensityScale = 0 }},
		{"cutoffs inverted", func(c *Config) { c.MediumCutoff = 0.7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewScorer(cfg)
			require.Error(t, err)
			assert.True(t, common.IsConfiguration(err), "got %v", err)
		})
	}
}

func BenchmarkAssess(b *testing.B) {
	s, _ := NewScorer(DefaultConfig())
	f := lesion.Pair{
		Dark:   lesion.Features{RelativeArea: 0.004, Count: 12, AvgSize: 30, Density: 0.0002},
		Bright: lesion.Features{RelativeArea: 0.002, Count: 3, AvgSize: 80, Density: 0.00005},
	}
	for i := 0; i < b.N; i++ {
		_ = s.Assess(f)
	}
}
