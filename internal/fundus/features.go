package fundus

import (
	"image"

	"github.com/fedutinova/retinascan/internal/lesion"
	"gonum.org/v1/gonum/stat"
)

// ExtractFeatures summarizes a lesion mask relative to its own pixel count.
// An empty or all-zero mask yields zero features.
func ExtractFeatures(mask *image.Gray) (lesion.Features, error) {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return lesion.Features{}, nil
	}

	lab, err := LabelComponents(mask, nil)
	if err != nil {
		return lesion.Features{}, err
	}

	f := lesion.Features{
		RelativeArea: float64(countNonZero(mask)) / float64(total),
		Count:        len(lab.Components),
	}
	if f.Count > 0 {
		f.AvgSize = stat.Mean(lab.Areas(), nil)
		f.Density = float64(f.Count) / float64(total)
	}
	return f, nil
}

func countNonZero(g *image.Gray) int {
	b := g.Bounds()
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := g.PixOffset(b.Min.X, y)
		for _, v := range g.Pix[off : off+b.Dx()] {
			if v != 0 {
				n++
			}
		}
	}
	return n
}
