// Package evaluation compares predicted lesion masks against ground truth.
package evaluation

import (
	"image"

	"github.com/fedutinova/retinascan/internal/common"
	"gonum.org/v1/gonum/stat"
)

// Metrics are per-pixel binary classification scores over one mask pair.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Dice      float64 `json:"dice"`

	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// Evaluate treats any non-zero pixel as foreground in both masks.
// Undefined ratios are reported as 0, except Dice which is 1 when both masks are empty.
func Evaluate(pred, truth *image.Gray) (Metrics, error) {
	if err := common.CheckSameBounds(truth.Bounds(), pred.Bounds()); err != nil {
		return Metrics{}, err
	}

	var m Metrics
	pb, tb := pred.Bounds(), truth.Bounds()
	w, h := pb.Dx(), pb.Dy()
	for y := 0; y < h; y++ {
		prow := pred.Pix[pred.PixOffset(pb.Min.X, pb.Min.Y+y):]
		trow := truth.Pix[truth.PixOffset(tb.Min.X, tb.Min.Y+y):]
		for x := 0; x < w; x++ {
			p, t := prow[x] != 0, trow[x] != 0
			switch {
			case p && t:
				m.TruePositives++
			case p:
				m.FalsePositives++
			case t:
				m.FalseNegatives++
			default:
				m.TrueNegatives++
			}
		}
	}

	total := w * h
	tp, fp, fn := float64(m.TruePositives), float64(m.FalsePositives), float64(m.FalseNegatives)
	m.Accuracy = ratio(float64(m.TruePositives+m.TrueNegatives), float64(total))
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	m.F1 = ratio(2*m.Precision*m.Recall, m.Precision+m.Recall)

	// |P| + |T| = 2tp + fp + fn
	if denom := 2*tp + fp + fn; denom == 0 {
		m.Dice = 1
	} else {
		m.Dice = 2 * tp / denom
	}
	return m, nil
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Union returns the pixelwise OR of two masks as a 0/255 mask.
func Union(a, b *image.Gray) (*image.Gray, error) {
	if err := common.CheckSameBounds(a.Bounds(), b.Bounds()); err != nil {
		return nil, err
	}
	ab, bb := a.Bounds(), b.Bounds()
	out := image.NewGray(image.Rect(0, 0, ab.Dx(), ab.Dy()))
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			if a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y != 0 || b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y != 0 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out, nil
}

// Stat is the mean and standard deviation of one metric across a dataset.
type Stat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Summary aggregates Metrics over a dataset.
type Summary struct {
	Images    int  `json:"images"`
	Accuracy  Stat `json:"accuracy"`
	Precision Stat `json:"precision"`
	Recall    Stat `json:"recall"`
	F1        Stat `json:"f1_score"`
	Dice      Stat `json:"dice"`
}

func Summarize(all []Metrics) Summary {
	s := Summary{Images: len(all)}
	if len(all) == 0 {
		return s
	}

	pick := func(f func(Metrics) float64) Stat {
		xs := make([]float64, len(all))
		for i, m := range all {
			xs[i] = f(m)
		}
		mean, std := stat.MeanStdDev(xs, nil)
		if len(xs) < 2 {
			std = 0
		}
		return Stat{Mean: mean, StdDev: std}
	}

	s.Accuracy = pick(func(m Metrics) float64 { return m.Accuracy })
	s.Precision = pick(func(m Metrics) float64 { return m.Precision })
	s.Recall = pick(func(m Metrics) float64 { return m.Recall })
	s.F1 = pick(func(m Metrics) float64 { return m.F1 })
	s.Dice = pick(func(m Metrics) float64 { return m.Dice })
	return s
}
