// Package lesion holds the value types shared by the detectors and the scorer.
package lesion

import "fmt"

type Kind string

const (
	KindDark   Kind = "dark"
	KindBright Kind = "bright"
)

// Features aggregates one lesion mask.
type Features struct {
	RelativeArea float64 `json:"relative_area"`
	Count        int     `json:"count"`
	AvgSize      float64 `json:"average_size"`
	Density      float64 `json:"density"`
}

// IsEmpty reports whether no component survived filtering.
func (f Features) IsEmpty() bool {
	return f.Count == 0
}

// Check verifies the ranges and the empty-mask invariant.
func (f Features) Check() error {
	switch {
	case f.RelativeArea < 0 || f.RelativeArea > 1:
		return fmt.Errorf("relative_area %v outside [0,1]", f.RelativeArea)
	case f.Count < 0:
		return fmt.Errorf("negative count %d", f.Count)
	case f.AvgSize < 0 || f.Density < 0:
		return fmt.Errorf("negative avg_size or density")
	case f.Count == 0 && (f.AvgSize != 0 || f.Density != 0):
		return fmt.Errorf("count is zero but avg_size=%v density=%v", f.AvgSize, f.Density)
	}
	return nil
}

// Pair is the per-image feature set, one record per lesion kind.
type Pair struct {
	Dark   Features `json:"dark_lesions"`
	Bright Features `json:"bright_lesions"`
}
