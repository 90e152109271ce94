package fundus

import (
	"errors"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/validation"
)

type Channel string

const (
	ChannelGreen     Channel = "green"
	ChannelLuminance Channel = "luminance"
)

type Denoise string

const (
	DenoiseMedian    Denoise = "median"
	DenoiseBilateral Denoise = "bilateral"
)

type KernelShape string

const (
	KernelRect    KernelShape = "rect"
	KernelEllipse KernelShape = "ellipse"
	KernelCross   KernelShape = "cross"
)

type ThresholdMode string

const (
	ThresholdOtsu  ThresholdMode = "otsu"
	ThresholdFixed ThresholdMode = "fixed"
)

// PreprocessParams control channel selection, CLAHE and denoising.
type PreprocessParams struct {
	Channel             Channel `yaml:"channel" json:"channel" validate:"oneof=green luminance"`
	ClipLimit           float64 `yaml:"clip_limit" json:"clip_limit" validate:"gt=0,lte=40"`
	TileGrid            int     `yaml:"tile_grid" json:"tile_grid" validate:"gte=1,lte=64"`
	Denoise             Denoise `yaml:"denoise" json:"denoise" validate:"oneof=median bilateral"`
	MedianKernel        int     `yaml:"median_kernel" json:"median_kernel,omitempty" validate:"omitempty,odd,gte=3"`
	BilateralDiameter   int     `yaml:"bilateral_diameter" json:"bilateral_diameter,omitempty" validate:"gte=0"`
	BilateralSigmaColor float64 `yaml:"bilateral_sigma_color" json:"bilateral_sigma_color,omitempty" validate:"gte=0"`
	BilateralSigmaSpace float64 `yaml:"bilateral_sigma_space" json:"bilateral_sigma_space,omitempty" validate:"gte=0"`
}

func (p PreprocessParams) Validate() error {
	var extra common.ConfigErrors
	switch p.Denoise {
	case DenoiseMedian:
		if p.MedianKernel == 0 {
			extra = append(extra, common.ConfigError{Field: "median_kernel", Message: "is required for median denoising"})
		}
	case DenoiseBilateral:
		if p.BilateralDiameter <= 0 || p.BilateralSigmaColor <= 0 || p.BilateralSigmaSpace <= 0 {
			extra = append(extra, common.ConfigError{Field: "bilateral_diameter", Message: "diameter and sigmas must be positive for bilateral denoising"})
		}
	}
	return collect(p, extra)
}

// DarkParams configure the dark lesion detector.
// MinAspect and MaxAspect of zero disable the aspect ratio filter.
type DarkParams struct {
	BlockSize   int         `yaml:"block_size" json:"block_size" validate:"odd,gte=3"`
	C           float64     `yaml:"c" json:"c"`
	CombineOtsu bool        `yaml:"combine_otsu" json:"combine_otsu"`
	Kernel      KernelShape `yaml:"kernel" json:"kernel" validate:"oneof=rect ellipse cross"`
	Close       bool        `yaml:"close" json:"close"`
	FillHoles   bool        `yaml:"fill_holes" json:"fill_holes"`
	MinArea     int         `yaml:"min_area" json:"min_area" validate:"gte=1"`
	MaxArea     int         `yaml:"max_area" json:"max_area" validate:"gtefield=MinArea"`
	MinAspect   float64     `yaml:"min_aspect" json:"min_aspect,omitempty" validate:"gte=0"`
	MaxAspect   float64     `yaml:"max_aspect" json:"max_aspect,omitempty" validate:"gte=0"`
}

func (p DarkParams) Validate() error {
	var extra common.ConfigErrors
	if p.MaxAspect > 0 && p.MaxAspect < p.MinAspect {
		extra = append(extra, common.ConfigError{Field: "max_aspect", Message: "must not be less than min_aspect"})
	}
	return collect(p, extra)
}

func (p DarkParams) aspectFilter() bool {
	return p.MinAspect > 0 || p.MaxAspect > 0
}

// BrightParams configure the bright lesion detector.
// MaxCompactness of zero disables the compactness filter.
type BrightParams struct {
	Threshold        ThresholdMode `yaml:"threshold" json:"threshold" validate:"oneof=otsu fixed"`
	Cutoff           float64       `yaml:"cutoff" json:"cutoff,omitempty" validate:"gte=0,lte=255"`
	Kernel           KernelShape   `yaml:"kernel" json:"kernel" validate:"oneof=rect ellipse cross"`
	DilateIterations int           `yaml:"dilate_iterations" json:"dilate_iterations" validate:"gte=0,lte=10"`
	MinArea          int           `yaml:"min_area" json:"min_area" validate:"gte=1"`
	MaxArea          int           `yaml:"max_area" json:"max_area" validate:"gtefield=MinArea"`
	MinMeanIntensity float64       `yaml:"min_mean_intensity" json:"min_mean_intensity" validate:"gte=0,lte=255"`
	MaxCompactness   float64       `yaml:"max_compactness" json:"max_compactness,omitempty" validate:"gte=0"`
}

func (p BrightParams) Validate() error {
	return collect(p, nil)
}

// collect merges tag validation failures with the extra cross-field checks.
func collect(v any, extra common.ConfigErrors) error {
	var errs common.ConfigErrors
	if err := validation.Struct(v); err != nil {
		var ce common.ConfigErrors
		if !errors.As(err, &ce) {
			return err
		}
		errs = append(errs, ce...)
	}
	errs = append(errs, extra...)
	return errs.Err()
}

// DefaultPreprocessParams: green channel, CLAHE 2.0 on an 8x8 grid, 5x5 median.
func DefaultPreprocessParams() PreprocessParams {
	return PreprocessParams{
		Channel:      ChannelGreen,
		ClipLimit:    2.0,
		TileGrid:     8,
		Denoise:      DenoiseMedian,
		MedianKernel: 5,
	}
}

func DefaultDarkParams() DarkParams {
	return DarkParams{
		BlockSize: 11,
		C:         2,
		Kernel:    KernelRect,
		FillHoles: true,
		MinArea:   5,
		MaxArea:   300,
	}
}

func DefaultBrightParams() BrightParams {
	return BrightParams{
		Threshold:        ThresholdOtsu,
		Kernel:           KernelRect,
		MinArea:          10,
		MaxArea:          500,
		MinMeanIntensity: 200,
	}
}
