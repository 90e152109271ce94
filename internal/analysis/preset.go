// Package analysis runs the fundus pipeline end to end under a named preset.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/fundus"
	"github.com/fedutinova/retinascan/internal/risk"
	"gopkg.in/yaml.v3"
)

const (
	PresetStandard = "standard"
	PresetStrict   = "strict"

	DefaultPreset = PresetStandard
)

// Preset is a complete, named pipeline configuration.
type Preset struct {
	Name        string                  `yaml:"-" json:"name"`
	Description string                  `yaml:"description" json:"description"`
	Preprocess  fundus.PreprocessParams `yaml:"preprocess" json:"preprocess"`
	Dark        fundus.DarkParams       `yaml:"dark" json:"dark"`
	Bright      fundus.BrightParams     `yaml:"bright" json:"bright"`
	Risk        risk.Config             `yaml:"risk" json:"risk"`
}

// Validate checks every stage and reports all failures with a stage prefix,
// e.g. "dark.max_area".
func (p Preset) Validate() error {
	var errs common.ConfigErrors
	if p.Name == "" {
		errs = append(errs, common.ConfigError{Field: "name", Message: "is required"})
	}

	stages := []struct {
		prefix string
		err    error
	}{
		{"preprocess", p.Preprocess.Validate()},
		{"dark", p.Dark.Validate()},
		{"bright", p.Bright.Validate()},
		{"risk", p.Risk.Validate()},
	}
	for _, s := range stages {
		if s.err == nil {
			continue
		}
		var ce common.ConfigErrors
		if !errors.As(s.err, &ce) {
			return s.err
		}
		for _, e := range ce {
			e.Field = s.prefix + "." + e.Field
			errs = append(errs, e)
		}
	}
	return errs.Err()
}

// Fingerprint digests the parameters that shape a result. Name and
// description are left out, so two presets agree exactly when they
// produce the same masks and score.
func (p Preset) Fingerprint() (string, error) {
	data, err := yaml.Marshal(struct {
		Preprocess fundus.PreprocessParams `yaml:"preprocess"`
		Dark       fundus.DarkParams       `yaml:"dark"`
		Bright     fundus.BrightParams     `yaml:"bright"`
		Risk       risk.Config             `yaml:"risk"`
	}{p.Preprocess, p.Dark, p.Bright, p.Risk})
	if err != nil {
		return "", fmt.Errorf("preset %q: %w", p.Name, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// Standard mirrors the reference parameters: green channel, median denoising,
// adaptive thresholding for dark lesions and Otsu for bright ones.
func Standard() Preset {
	return Preset{
		Name:        PresetStandard,
		Description: "Green channel, CLAHE 2.0, median 5; adaptive dark threshold with hole filling; Otsu bright threshold",
		Preprocess:  fundus.DefaultPreprocessParams(),
		Dark:        fundus.DefaultDarkParams(),
		Bright:      fundus.DefaultBrightParams(),
		Risk:        risk.DefaultConfig(),
	}
}

// Strict trades sensitivity for specificity: luminance channel, edge preserving
// denoising and shape filters on both detectors.
func Strict() Preset {
	return Preset{
		Name:        PresetStrict,
		Description: "Luminance channel, CLAHE 3.0, bilateral; adaptive+Otsu dark threshold with aspect filter; fixed bright cutoff 220 with compactness filter",
		Preprocess: fundus.PreprocessParams{
			Channel:             fundus.ChannelLuminance,
			ClipLimit:           3.0,
			TileGrid:            8,
			Denoise:             fundus.DenoiseBilateral,
			BilateralDiameter:   9,
			BilateralSigmaColor: 75,
			BilateralSigmaSpace: 75,
		},
		Dark: fundus.DarkParams{
			BlockSize:   15,
			C:           3,
			CombineOtsu: true,
			Kernel:      fundus.KernelEllipse,
			Close:       true,
			MinArea:     10,
			MaxArea:     400,
			MinAspect:   0.5,
			MaxAspect:   2.0,
		},
		Bright: fundus.BrightParams{
			Threshold:        fundus.ThresholdFixed,
			Cutoff:           220,
			Kernel:           fundus.KernelCross,
			DilateIterations: 1,
			MinArea:          20,
			MaxArea:          600,
			MinMeanIntensity: 220,
			MaxCompactness:   4,
		},
		Risk: risk.DefaultConfig(),
	}
}

var builtins = map[string]func() Preset{
	PresetStandard: Standard,
	PresetStrict:   Strict,
}

// LookupPreset returns a built-in preset by name. An empty name selects the default.
func LookupPreset(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	mk, ok := builtins[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", common.ErrPresetNotFound, name)
	}
	return mk(), nil
}

// Presets lists the built-in presets sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(builtins))
	for _, mk := range builtins {
		out = append(out, mk())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
