package fundus

import (
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// toBGR copies img into a new 8UC3 Mat in OpenCV channel order.
func toBGR(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	src, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap image: %w", err)
	}
	defer src.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(src, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// fromGray copies g into a new 8UC1 Mat.
func fromGray(g *image.Gray) (gocv.Mat, error) {
	b := g.Bounds()
	pix := g.Pix
	if g.Stride != b.Dx() || b.Min != (image.Point{}) {
		pix = make([]byte, b.Dx()*b.Dy())
		for y := 0; y < b.Dy(); y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(pix[y*b.Dx():(y+1)*b.Dx()], g.Pix[off:off+b.Dx()])
		}
	}

	wrapped, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap gray image: %w", err)
	}
	defer wrapped.Close()
	return wrapped.Clone(), nil
}

// toGray copies an 8UC1 Mat into a Go image.
func toGray(m gocv.Mat) (*image.Gray, error) {
	if m.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("expected 8UC1 mat, got %v", m.Type())
	}
	return &image.Gray{
		Pix:    m.ToBytes(),
		Stride: m.Cols(),
		Rect:   image.Rect(0, 0, m.Cols(), m.Rows()),
	}, nil
}

func emptyLike(b image.Rectangle) *image.Gray {
	return image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
}

// isFlat reports a raster with no pixels or a single intensity.
func isFlat(g *image.Gray) bool {
	b := g.Bounds()
	if b.Empty() {
		return true
	}
	first := g.GrayAt(b.Min.X, b.Min.Y).Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			if v != first {
				return false
			}
		}
	}
	return true
}

func structuringElement(shape KernelShape) gocv.Mat {
	morph := gocv.MorphRect
	switch shape {
	case KernelEllipse:
		morph = gocv.MorphEllipse
	case KernelCross:
		morph = gocv.MorphCross
	}
	return gocv.GetStructuringElement(morph, image.Pt(3, 3))
}
