package analysis

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/fundus"
	"github.com/fedutinova/retinascan/internal/risk"
	"github.com/fedutinova/retinascan/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinPresetsAreValid(t *testing.T) {
	for _, p := range Presets() {
		t.Run(p.Name, func(t *testing.T) {
			require.NoError(t, p.Validate())
			_, err := New(p)
			require.NoError(t, err)
		})
	}
}

func TestLookupPreset(t *testing.T) {
	p, err := LookupPreset("")
	require.NoError(t, err)
	assert.Equal(t, PresetStandard, p.Name)

	_, err = LookupPreset("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrPresetNotFound))
	assert.True(t, common.IsNotFound(err))
}

func TestPresetValidate_PrefixesStage(t *testing.T) {
	p := Standard()
	p.Dark.MinArea, p.Dark.MaxArea = 100, 10
	p.Risk.MediumCutoff = 0.9

	err := p.Validate()
	require.Error(t, err)
	assert.True(t, common.IsConfiguration(err))
	assert.Contains(t, err.Error(), "dark.max_area")
	assert.Contains(t, err.Error(), "risk.medium_cutoff")

	_, err = New(p)
	assert.True(t, common.IsConfiguration(err))
}

// uniform gray: nothing to detect under either preset
func TestAnalyze_UniformImage(t *testing.T) {
	for _, p := range Presets() {
		t.Run(p.Name, func(t *testing.T) {
			a, err := New(p)
			require.NoError(t, err)

			res, err := a.Analyze(synth.Uniform(100, 100, 128))
			require.NoError(t, err)

			assert.Equal(t, 100, res.Width)
			assert.Equal(t, 100, res.Height)
			assert.Equal(t, make([]uint8, 100*100), res.DarkMask.Pix)
			assert.Equal(t, make([]uint8, 100*100), res.BrightMask.Pix)
			assert.Zero(t, res.Features.Dark.Count)
			assert.Zero(t, res.Features.Bright.Count)
			assert.Zero(t, res.Features.Dark.RelativeArea)
			assert.Zero(t, res.Assessment.Score)
			assert.Equal(t, risk.LevelLow, res.Assessment.Level)
			assert.NotEmpty(t, res.Assessment.Recommendations)
		})
	}
}

func TestAnalyze_SmallRoundSpot(t *testing.T) {
	// a 21 pixel spot of radius 2.5: the 5x5 median leaves the 13 pixel
	// radius-2 disc and the 3x3 opening a 9 pixel square
	img := synth.Uniform(100, 100, 128)
	c := image.Pt(50, 50)
	spot := 0
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			if dx*dx+dy*dy <= 6 {
				img.SetRGBA(c.X+dx, c.Y+dy, color.RGBA{R: 40, G: 40, B: 40, A: 255})
				spot++
			}
		}
	}
	require.Equal(t, 21, spot)

	a, err := New(Standard())
	require.NoError(t, err)
	res, err := a.Analyze(img)
	require.NoError(t, err)

	dark := res.Features.Dark
	assert.Equal(t, 1, dark.Count)
	assert.Equal(t, uint8(255), res.DarkMask.GrayAt(c.X, c.Y).Y)
	assert.GreaterOrEqual(t, dark.AvgSize, 5.0)
	assert.Less(t, dark.AvgSize, float64(spot))
	assert.InDelta(t, dark.AvgSize/float64(100*100), dark.RelativeArea, 1e-12)
	assert.Zero(t, res.Features.Bright.Count)
	assert.Equal(t, risk.LevelLow, res.Assessment.Level)
}

func TestAnalyze_ZeroPixelImage(t *testing.T) {
	a, err := New(Standard())
	require.NoError(t, err)

	res, err := a.Analyze(image.NewRGBA(image.Rectangle{}))
	require.NoError(t, err)
	assert.Zero(t, res.Width)
	assert.True(t, res.Features.Dark.IsEmpty())
	assert.True(t, res.Features.Bright.IsEmpty())
	assert.Zero(t, res.Assessment.Score)
	assert.Equal(t, risk.LevelLow, res.Assessment.Level)
}

func TestAnalyze_Idempotent(t *testing.T) {
	img := synth.Scene(128, 128, 4, 2)
	for _, p := range Presets() {
		t.Run(p.Name, func(t *testing.T) {
			a, err := New(p)
			require.NoError(t, err)

			first, err := a.Analyze(img)
			require.NoError(t, err)
			second, err := a.Analyze(img)
			require.NoError(t, err)

			assert.Equal(t, first.DarkMask.Pix, second.DarkMask.Pix)
			assert.Equal(t, first.BrightMask.Pix, second.BrightMask.Pix)
			assert.Equal(t, first.Features, second.Features)
			assert.Equal(t, first.Assessment.Score, second.Assessment.Score)
			require.NoError(t, first.Features.Dark.Check())
			require.NoError(t, first.Features.Bright.Check())
			assert.GreaterOrEqual(t, first.Assessment.Score, 0.0)
			assert.LessOrEqual(t, first.Assessment.Score, 1.0)
		})
	}
}

func TestRegistry_LoadOverridesBase(t *testing.T) {
	r := NewRegistry()
	added, err := r.Load([]byte(`
presets:
  sensitive:
    description: smaller dark lesions
    dark:
      min_area: 3
  sensitive-strict:
    base: sensitive
    bright:
      cutoff: 200
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"sensitive", "sensitive-strict"}, added)

	p, err := r.Lookup("sensitive")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Dark.MinArea)
	assert.Equal(t, fundus.DefaultDarkParams().MaxArea, p.Dark.MaxArea)
	assert.Equal(t, "smaller dark lesions", p.Description)

	q, err := r.Lookup("sensitive-strict")
	require.NoError(t, err)
	assert.Equal(t, 3, q.Dark.MinArea)
	assert.Equal(t, 200.0, q.Bright.Cutoff)

	names := make([]string, 0)
	for _, p := range r.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"sensitive", "sensitive-strict", PresetStandard, PresetStrict}, names)
}

func TestPresetFingerprint(t *testing.T) {
	std, err := Standard().Fingerprint()
	require.NoError(t, err)

	renamed := Standard()
	renamed.Name = "copy"
	renamed.Description = "same parameters"
	got, err := renamed.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, std, got)

	tuned := Standard()
	tuned.Dark.MinArea++
	got, err = tuned.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, std, got)

	strict, err := Strict().Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, std, strict)
}

func TestRegistry_LoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid params", "presets:\n  bad:\n    dark:\n      max_area: 1\n"},
		{"unknown base", "presets:\n  x:\n    base: missing\n"},
		{"shadows builtin", "presets:\n  standard:\n    description: mine\n"},
		{"not a mapping", "presets: [1, 2]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Load([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadPresetFile(t *testing.T) {
	_, err := LoadPresetFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrPresetFileNotFound)

	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets:\n  wide:\n    bright:\n      max_area: 900\n"), 0o600))

	r, err := LoadPresetFile(path)
	require.NoError(t, err)
	a, err := NewNamed(r, "wide")
	require.NoError(t, err)
	assert.Equal(t, 900, a.Preset().Bright.MaxArea)
}

func TestBatchProcessor_KeepsOrderAndRecordsFailures(t *testing.T) {
	a, err := New(Standard())
	require.NoError(t, err)

	boom := errors.New("unreadable")
	load := func(_ context.Context, src string) (image.Image, error) {
		if src == "bad" {
			return nil, common.NewInputError(src, boom)
		}
		return synth.Uniform(32, 32, 90), nil
	}

	var calls atomic.Int32
	bp := NewBatchProcessor(a, load,
		WithConcurrency(2),
		WithItemCallback(func(int, BatchItem) { calls.Add(1) }),
	)
	items, err := bp.Process(context.Background(), []string{"a", "bad", "c"})
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "a", items[0].Source)
	assert.NotNil(t, items[0].Result)
	assert.True(t, common.IsInput(items[1].Err))
	assert.ErrorIs(t, items[1].Err, boom)
	assert.Nil(t, items[1].Result)
	assert.Equal(t, "c", items[2].Source)
	assert.NoError(t, items[2].Err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBatchProcessor_CanceledContext(t *testing.T) {
	a, err := New(Standard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bp := NewBatchProcessor(a, func(context.Context, string) (image.Image, error) {
		t.Error("load must not run after cancel")
		return nil, nil
	})
	items, err := bp.Process(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	for _, it := range items {
		assert.ErrorIs(t, it.Err, context.Canceled)
	}
}
