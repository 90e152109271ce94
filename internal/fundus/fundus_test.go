package fundus

import (
	"image"
	"image/color"
	"testing"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grayOn = color.Gray{Y: 255}

func nonZero(g *image.Gray) int {
	return countNonZero(g)
}

func assertBinary(t *testing.T, g *image.Gray) {
	t.Helper()
	for i, v := range g.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("mask pixel %d has value %d, want 0 or 255", i, v)
		}
	}
}

func TestPreprocess_UniformImageStaysFlat(t *testing.T) {
	strict := PreprocessParams{
		Channel:             ChannelLuminance,
		ClipLimit:           3,
		TileGrid:            8,
		Denoise:             DenoiseBilateral,
		BilateralDiameter:   9,
		BilateralSigmaColor: 75,
		BilateralSigmaSpace: 75,
	}

	for name, p := range map[string]PreprocessParams{"default": DefaultPreprocessParams(), "luminance": strict} {
		t.Run(name, func(t *testing.T) {
			out, err := Preprocess(synth.Uniform(100, 100, 128), p)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 100, 100), out.Bounds())
			assert.True(t, isFlat(out), "uniform input must stay uniform")
		})
	}
}

func TestPreprocess_StretchesToFullRange(t *testing.T) {
	img := synth.Scene(96, 96, 4, 2)

	out, err := Preprocess(img, DefaultPreprocessParams())
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), out.Bounds())

	lo, hi := uint8(255), uint8(0)
	for _, v := range out.Pix {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	assert.Equal(t, uint8(0), lo)
	assert.Equal(t, uint8(255), hi)
}

func TestPreprocess_EmptyImage(t *testing.T) {
	out, err := Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 0)), DefaultPreprocessParams())
	require.NoError(t, err)
	assert.True(t, out.Bounds().Empty())
}

func TestPreprocess_DoesNotMutateInput(t *testing.T) {
	img := synth.Scene(64, 64, 2, 1)
	before := append([]byte(nil), img.Pix...)

	_, err := Preprocess(img, DefaultPreprocessParams())
	require.NoError(t, err)
	assert.Equal(t, before, img.Pix)
}

func TestPreprocess_InvalidParams(t *testing.T) {
	p := DefaultPreprocessParams()
	p.MedianKernel = 4

	_, err := Preprocess(synth.Uniform(10, 10, 1), p)
	require.Error(t, err)
	assert.True(t, common.IsConfiguration(err))
}

func TestLabelComponents_EmptyMask(t *testing.T) {
	lab, err := LabelComponents(image.NewGray(image.Rect(0, 0, 20, 20)), nil)
	require.NoError(t, err)
	assert.Empty(t, lab.Components)
	assert.Zero(t, nonZero(lab.Render(func(Component) bool { return true })))
}

func TestLabelComponents_EightConnectivityAndStats(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 10, 10))
	ref := image.NewGray(image.Rect(0, 0, 10, 10))
	// diagonal neighbours form one blob
	mask.SetGray(1, 1, grayOn)
	mask.SetGray(2, 2, grayOn)
	ref.Pix[1*10+1] = 100
	ref.Pix[2*10+2] = 200
	// separate 2x3 blob
	for y := 6; y < 9; y++ {
		for x := 5; x < 7; x++ {
			mask.SetGray(x, y, grayOn)
			ref.Pix[y*10+x] = 60
		}
	}

	lab, err := LabelComponents(mask, ref)
	require.NoError(t, err)
	require.Len(t, lab.Components, 2)

	first := lab.Components[0]
	assert.Equal(t, 1, first.Label)
	assert.Equal(t, 2, first.Area)
	assert.Equal(t, image.Rect(1, 1, 3, 3), first.Bounds)
	assert.InDelta(t, 150.0, first.MeanIntensity, 1e-9)
	assert.InDelta(t, 1.5, first.CentroidX, 1e-9)

	second := lab.Components[1]
	assert.Equal(t, 6, second.Area)
	assert.InDelta(t, 2.0/3.0, second.AspectRatio(), 1e-9)
	assert.InDelta(t, 1.0, second.Compactness(), 1e-9)
	assert.InDelta(t, 60.0, second.MeanIntensity, 1e-9)

	only := lab.Render(func(c Component) bool { return c.Area > 2 })
	assert.Equal(t, 6, nonZero(only))
	assertBinary(t, only)
}

func TestLabelComponents_ReferenceSizeMismatch(t *testing.T) {
	_, err := LabelComponents(image.NewGray(image.Rect(0, 0, 5, 5)), image.NewGray(image.Rect(0, 0, 6, 5)))
	require.Error(t, err)
	assert.True(t, common.IsDimensionMismatch(err))
}

func maskOf(w, h int, pts ...image.Point) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for _, p := range pts {
		g.SetGray(p.X, p.Y, grayOn)
	}
	return g
}

func ringPoints(r image.Rectangle) []image.Point {
	var pts []image.Point
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if x == r.Min.X || y == r.Min.Y || x == r.Max.X-1 || y == r.Max.Y-1 {
				pts = append(pts, image.Pt(x, y))
			}
		}
	}
	return pts
}

func TestFillHoles(t *testing.T) {
	openRing := ringPoints(image.Rect(1, 1, 6, 6))
	// knock a gap into the top edge so the interior reaches the border
	openRing = append(openRing[:2], openRing[3:]...)

	tests := []struct {
		name   string
		mask   *image.Gray
		filled int
	}{
		{"closed ring", maskOf(7, 7, ringPoints(image.Rect(1, 1, 6, 6))...), 25},
		// the centre only touches the background diagonally
		{"diamond at the corner", maskOf(6, 6, image.Pt(1, 0), image.Pt(0, 1), image.Pt(2, 1), image.Pt(1, 2)), 5},
		{"open ring", maskOf(7, 7, openRing...), 15},
		{"empty", image.NewGray(image.Rect(0, 0, 4, 4)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fillHoles(tt.mask)
			require.NoError(t, err)
			assertBinary(t, got)
			assert.Equal(t, tt.filled, nonZero(got))
		})
	}
}

func TestFillHoles_HollowDiamond(t *testing.T) {
	// a hollow diamond: after filling it is one solid 13 pixel blob
	pts := []image.Point{
		{X: 10, Y: 8}, {X: 9, Y: 9}, {X: 11, Y: 9}, {X: 8, Y: 10}, {X: 12, Y: 10},
		{X: 9, Y: 11}, {X: 11, Y: 11}, {X: 10, Y: 12},
	}
	m := maskOf(24, 24, pts...)
	filled, err := fillHoles(m)
	require.NoError(t, err)
	assert.Equal(t, 13, nonZero(filled))
	assert.Equal(t, 255, int(filled.GrayAt(10, 10).Y))
}

func TestDetectDark_SingleSpot(t *testing.T) {
	// 4x5 dark block: area 20, survives a 3x3 opening untouched
	pre := synth.GrayWithRect(40, 40, 200, 50, image.Rect(10, 10, 14, 15))

	mask, err := DetectDark(pre, DefaultDarkParams())
	require.NoError(t, err)
	assertBinary(t, mask)

	f, err := ExtractFeatures(mask)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Count)
	assert.Equal(t, 20.0, f.AvgSize)
	assert.InDelta(t, 20.0/1600.0, f.RelativeArea, 1e-12)
	assert.Equal(t, uint8(255), mask.GrayAt(12, 12).Y)
}

func TestDetectDark_AreaFilter(t *testing.T) {
	t.Run("speck removed by opening", func(t *testing.T) {
		pre := synth.GrayWithRect(30, 30, 200, 40, image.Rect(15, 15, 16, 16))
		mask, err := DetectDark(pre, DefaultDarkParams())
		require.NoError(t, err)
		assert.Zero(t, nonZero(mask))
	})

	t.Run("blob above max area", func(t *testing.T) {
		p := DefaultDarkParams()
		p.MaxArea = 15
		pre := synth.GrayWithRect(40, 40, 200, 50, image.Rect(10, 10, 14, 15))
		mask, err := DetectDark(pre, p)
		require.NoError(t, err)
		assert.Zero(t, nonZero(mask))
	})
}

func TestDetectDark_AspectFilterRejectsVesselLikeBar(t *testing.T) {
	pre := synth.GrayWithRect(40, 40, 200, 50, image.Rect(18, 10, 21, 30)) // 3x20

	loose, err := DetectDark(pre, DefaultDarkParams())
	require.NoError(t, err)
	assert.Equal(t, 60, nonZero(loose))

	p := DefaultDarkParams()
	p.MinAspect, p.MaxAspect = 0.5, 2.0
	strict, err := DetectDark(pre, p)
	require.NoError(t, err)
	assert.Zero(t, nonZero(strict))
}

func TestDetectDark_FlatInput(t *testing.T) {
	mask, err := DetectDark(synth.GrayWithRect(20, 20, 90, 90, image.Rectangle{}), DefaultDarkParams())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), mask.Bounds())
	assert.Zero(t, nonZero(mask))
}

func TestDetectDark_InvalidParams(t *testing.T) {
	p := DefaultDarkParams()
	p.MinArea, p.MaxArea = 50, 10

	_, err := DetectDark(image.NewGray(image.Rect(0, 0, 4, 4)), p)
	require.Error(t, err)
	assert.True(t, common.IsConfiguration(err))
}

func TestDetectBright_SmallDepositKept(t *testing.T) {
	pre := synth.GrayWithRect(40, 40, 100, 255, image.Rect(20, 20, 25, 25))

	mask, err := DetectBright(pre, DefaultBrightParams())
	require.NoError(t, err)
	assertBinary(t, mask)
	assert.Equal(t, 25, nonZero(mask))
}

func TestDetectBright_LargeSquareRejectedByArea(t *testing.T) {
	pre := synth.GrayWithRect(100, 100, 100, 255, image.Rect(25, 25, 75, 75))

	mask, err := DetectBright(pre, DefaultBrightParams())
	require.NoError(t, err)
	assert.Zero(t, nonZero(mask))

	strict, err := DetectBright(pre, strictBright())
	require.NoError(t, err)
	assert.Zero(t, nonZero(strict))
}

func TestDetectBright_DimBlobRejectedByIntensity(t *testing.T) {
	pre := synth.GrayWithRect(40, 40, 20, 150, image.Rect(20, 20, 25, 25))

	mask, err := DetectBright(pre, DefaultBrightParams())
	require.NoError(t, err)
	assert.Zero(t, nonZero(mask))
}

func TestDetectBright_DilationGrowsDeposit(t *testing.T) {
	// 15x15 at 255: cross opening trims corners, one cross dilation gives 225+4*13 px
	pre := synth.GrayWithRect(60, 60, 100, 255, image.Rect(20, 20, 35, 35))

	mask, err := DetectBright(pre, strictBright())
	require.NoError(t, err)
	assert.Equal(t, 277, nonZero(mask))
}

func TestExtractFeatures(t *testing.T) {
	t.Run("all zero", func(t *testing.T) {
		f, err := ExtractFeatures(image.NewGray(image.Rect(0, 0, 50, 50)))
		require.NoError(t, err)
		assert.Equal(t, 0, f.Count)
		assert.Zero(t, f.AvgSize)
		assert.Zero(t, f.Density)
		assert.Zero(t, f.RelativeArea)
		assert.NoError(t, f.Check())
	})

	t.Run("zero pixels", func(t *testing.T) {
		f, err := ExtractFeatures(image.NewGray(image.Rectangle{}))
		require.NoError(t, err)
		assert.True(t, f.IsEmpty())
	})

	t.Run("two blobs", func(t *testing.T) {
		mask := synth.GrayWithRect(10, 10, 0, 255, image.Rect(0, 0, 2, 2))
		for x := 5; x < 10; x++ {
			mask.SetGray(x, 9, grayOn)
		}
		f, err := ExtractFeatures(mask)
		require.NoError(t, err)
		assert.Equal(t, 2, f.Count)
		assert.InDelta(t, 4.5, f.AvgSize, 1e-12)
		assert.InDelta(t, 0.09, f.RelativeArea, 1e-12)
		assert.InDelta(t, 0.02, f.Density, 1e-12)
		assert.NoError(t, f.Check())
	})
}

func strictBright() BrightParams {
	return BrightParams{
		Threshold:        ThresholdFixed,
		Cutoff:           220,
		Kernel:           KernelCross,
		DilateIterations: 1,
		MinArea:          20,
		MaxArea:          600,
		MinMeanIntensity: 220,
		MaxCompactness:   4,
	}
}

func BenchmarkDetectDark(b *testing.B) {
	pre, err := Preprocess(synth.Scene(256, 256, 9, 4), DefaultPreprocessParams())
	if err != nil {
		b.Fatal(err)
	}
	p := DefaultDarkParams()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DetectDark(pre, p); err != nil {
			b.Fatal(err)
		}
	}
}
