package fundus

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

// Preprocess turns a color fundus photograph into a single contrast-enhanced,
// denoised channel rescaled to [0,255]. The input is not modified.
func Preprocess(img image.Image, p PreprocessParams) (*image.Gray, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Empty() {
		slog.Debug("preprocess: empty image, nothing to do")
		return emptyLike(b), nil
	}

	bgr, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	channel := extractChannel(bgr, p.Channel)
	defer channel.Close()

	clahe := gocv.NewCLAHEWithParams(p.ClipLimit, image.Pt(p.TileGrid, p.TileGrid))
	defer clahe.Close()
	enhanced := gocv.NewMat()
	defer enhanced.Close()
	clahe.Apply(channel, &enhanced)

	denoised := gocv.NewMat()
	defer denoised.Close()
	switch p.Denoise {
	case DenoiseBilateral:
		gocv.BilateralFilter(enhanced, &denoised, p.BilateralDiameter, p.BilateralSigmaColor, p.BilateralSigmaSpace)
	default:
		gocv.MedianBlur(enhanced, &denoised, p.MedianKernel)
	}

	rescaled := rescale(denoised)
	defer rescaled.Close()

	out, err := toGray(rescaled)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	slog.Debug("preprocess: done", "width", b.Dx(), "height", b.Dy(), "channel", p.Channel, "denoise", p.Denoise)
	return out, nil
}

// extractChannel returns the green plane or the L plane of CIE Lab.
func extractChannel(bgr gocv.Mat, ch Channel) gocv.Mat {
	src := bgr
	if ch == ChannelLuminance {
		lab := gocv.NewMat()
		defer lab.Close()
		gocv.CvtColor(bgr, &lab, gocv.ColorBGRToLab)
		src = lab
	}

	planes := gocv.Split(src)
	keep := 1
	if ch == ChannelLuminance {
		keep = 0
	}
	for i := range planes {
		if i != keep {
			planes[i].Close()
		}
	}
	return planes[keep]
}

// rescale stretches intensities to [0,255]. A flat image is returned as is.
func rescale(src gocv.Mat) gocv.Mat {
	minVal, maxVal, _, _ := gocv.MinMaxLoc(src)
	if maxVal <= minVal {
		slog.Debug("preprocess: zero dynamic range, skipping rescale", "value", minVal)
		return src.Clone()
	}
	dst := gocv.NewMat()
	gocv.Normalize(src, &dst, 0, 255, gocv.NormMinMax)
	return dst
}
