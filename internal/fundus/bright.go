package fundus

import (
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

// DetectBright marks bright deposits (exudates) and keeps compact, intense blobs
// within the configured area range.
func DetectBright(pre *image.Gray, p BrightParams) (*image.Gray, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if isFlat(pre) {
		slog.Debug("bright detector: flat input, returning empty mask")
		return emptyLike(pre.Bounds()), nil
	}

	src, err := fromGray(pre)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	switch p.Threshold {
	case ThresholdFixed:
		gocv.Threshold(src, &binary, float32(p.Cutoff), 255, gocv.ThresholdBinary)
	default:
		t := gocv.Threshold(src, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
		slog.Debug("bright detector: otsu threshold", "value", t)
	}

	opened := morph(binary, gocv.MorphOpen, p.Kernel)
	defer opened.Close()

	grown := dilate(opened, p.Kernel, p.DilateIterations)
	defer grown.Close()

	mask, err := toGray(grown)
	if err != nil {
		return nil, err
	}

	// mean intensity is read from the preprocessed image, not the mask
	lab, err := LabelComponents(mask, pre)
	if err != nil {
		return nil, err
	}

	kept := 0
	out := lab.Render(func(c Component) bool {
		ok := keepBright(c, p)
		if ok {
			kept++
		}
		return ok
	})
	slog.Debug("bright detector: filtered components", "candidates", len(lab.Components), "kept", kept)
	return out, nil
}

func keepBright(c Component, p BrightParams) bool {
	if c.Area < p.MinArea || c.Area > p.MaxArea {
		return false
	}
	if c.MeanIntensity <= p.MinMeanIntensity {
		return false
	}
	return p.MaxCompactness == 0 || c.Compactness() < p.MaxCompactness
}
