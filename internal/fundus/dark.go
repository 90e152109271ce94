package fundus

import (
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

// DetectDark marks pixels darker than their neighborhood (microaneurysms,
// hemorrhages) and keeps the blobs that pass the area and aspect filters.
func DetectDark(pre *image.Gray, p DarkParams) (*image.Gray, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if isFlat(pre) {
		slog.Debug("dark detector: flat input, returning empty mask")
		return emptyLike(pre.Bounds()), nil
	}

	src, err := fromGray(pre)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	local := gocv.NewMat()
	defer local.Close()
	gocv.AdaptiveThreshold(src, &local, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, p.BlockSize, float32(p.C))

	binary := local
	if p.CombineOtsu {
		global := gocv.NewMat()
		defer global.Close()
		gocv.Threshold(src, &global, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

		both := gocv.NewMat()
		defer both.Close()
		gocv.BitwiseAnd(local, global, &both)
		binary = both
	}

	opened := morph(binary, gocv.MorphOpen, p.Kernel)
	defer opened.Close()

	cleaned := opened
	if p.Close {
		closed := morph(opened, gocv.MorphClose, p.Kernel)
		defer closed.Close()
		cleaned = closed
	}

	mask, err := toGray(cleaned)
	if err != nil {
		return nil, err
	}
	if p.FillHoles {
		if mask, err = fillHoles(mask); err != nil {
			return nil, err
		}
	}

	lab, err := LabelComponents(mask, nil)
	if err != nil {
		return nil, err
	}

	kept := 0
	out := lab.Render(func(c Component) bool {
		ok := keepDark(c, p)
		if ok {
			kept++
		}
		return ok
	})
	slog.Debug("dark detector: filtered components", "candidates", len(lab.Components), "kept", kept)
	return out, nil
}

func keepDark(c Component, p DarkParams) bool {
	if c.Area < p.MinArea || c.Area > p.MaxArea {
		return false
	}
	if !p.aspectFilter() {
		return true
	}
	ar := c.AspectRatio()
	if ar < p.MinAspect {
		return false
	}
	return p.MaxAspect == 0 || ar <= p.MaxAspect
}
