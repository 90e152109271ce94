package fundus

import (
	"fmt"
	"image"

	"github.com/fedutinova/retinascan/internal/common"
	"gocv.io/x/gocv"
)

// column layout of the stats matrix produced by connectedComponentsWithStats
const (
	statLeft = iota
	statTop
	statWidth
	statHeight
	statArea
)

// Component is one 8-connected foreground blob.
type Component struct {
	Label         int             `json:"label"`
	Area          int             `json:"area"`
	Bounds        image.Rectangle `json:"bounds"`
	CentroidX     float64         `json:"centroid_x"`
	CentroidY     float64         `json:"centroid_y"`
	MeanIntensity float64         `json:"mean_intensity"`
}

// AspectRatio is bounding box width over height.
func (c Component) AspectRatio() float64 {
	return float64(c.Bounds.Dx()) / float64(c.Bounds.Dy())
}

// Compactness is bounding box area over pixel area; 1 for a filled rectangle.
func (c Component) Compactness() float64 {
	return float64(c.Bounds.Dx()*c.Bounds.Dy()) / float64(c.Area)
}

// Labeling keeps the label raster so survivors can be painted back into a mask.
type Labeling struct {
	Components []Component

	width, height int
	labels        []int32
}

// LabelComponents enumerates the 8-connected foreground blobs of mask in label order.
// ref, when not nil, supplies the intensities averaged into MeanIntensity and must
// match the mask size.
func LabelComponents(mask, ref *image.Gray) (*Labeling, error) {
	b := mask.Bounds()
	if ref != nil {
		if err := common.CheckSameBounds(b, ref.Bounds()); err != nil {
			return nil, err
		}
	}

	l := &Labeling{width: b.Dx(), height: b.Dy()}
	if b.Empty() {
		return l, nil
	}

	src, err := fromGray(mask)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(src, &labels, &stats, &centroids)

	data, err := labels.DataPtrInt32()
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	l.labels = make([]int32, len(data))
	copy(l.labels, data)

	if n <= 1 {
		return l, nil
	}

	l.Components = make([]Component, 0, n-1)
	for i := 1; i < n; i++ {
		left := int(stats.GetIntAt(i, statLeft))
		top := int(stats.GetIntAt(i, statTop))
		l.Components = append(l.Components, Component{
			Label:     i,
			Area:      int(stats.GetIntAt(i, statArea)),
			Bounds:    image.Rect(left, top, left+int(stats.GetIntAt(i, statWidth)), top+int(stats.GetIntAt(i, statHeight))),
			CentroidX: centroids.GetDoubleAt(i, 0),
			CentroidY: centroids.GetDoubleAt(i, 1),
		})
	}

	if ref != nil {
		l.meanIntensities(ref)
	}
	return l, nil
}

func (l *Labeling) meanIntensities(ref *image.Gray) {
	sums := make([]float64, len(l.Components)+1)
	rb := ref.Bounds()
	for y := 0; y < l.height; y++ {
		row := ref.Pix[ref.PixOffset(rb.Min.X, rb.Min.Y+y):]
		for x := 0; x < l.width; x++ {
			if lbl := l.labels[y*l.width+x]; lbl > 0 {
				sums[lbl] += float64(row[x])
			}
		}
	}
	for i := range l.Components {
		c := &l.Components[i]
		c.MeanIntensity = sums[c.Label] / float64(c.Area)
	}
}

// Render paints every component accepted by keep as 255 on a fresh mask.
func (l *Labeling) Render(keep func(Component) bool) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, l.width, l.height))
	if len(l.Components) == 0 {
		return out
	}

	kept := make([]bool, len(l.Components)+1)
	anyKept := false
	for _, c := range l.Components {
		if keep(c) {
			kept[c.Label] = true
			anyKept = true
		}
	}
	if !anyKept {
		return out
	}

	for i, lbl := range l.labels {
		if lbl > 0 && kept[lbl] {
			out.Pix[i] = 255
		}
	}
	return out
}

// Areas returns component areas in label order.
func (l *Labeling) Areas() []float64 {
	areas := make([]float64, len(l.Components))
	for i, c := range l.Components {
		areas[i] = float64(c.Area)
	}
	return areas
}
