package fundus

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func morph(src gocv.Mat, op gocv.MorphType, shape KernelShape) gocv.Mat {
	kernel := structuringElement(shape)
	defer kernel.Close()
	dst := gocv.NewMat()
	gocv.MorphologyEx(src, &dst, op, kernel)
	return dst
}

func dilate(src gocv.Mat, shape KernelShape, iterations int) gocv.Mat {
	kernel := structuringElement(shape)
	defer kernel.Close()

	cur := src.Clone()
	for i := 0; i < iterations; i++ {
		next := gocv.NewMat()
		gocv.Dilate(cur, &next, kernel)
		cur.Close()
		cur = next
	}
	return cur
}

// fillHoles sets every background region that does not reach the image border.
// Background is traced at 4-connectivity, so a pixel closed off by diagonal
// foreground steps counts as a hole.
func fillHoles(mask *image.Gray) (*image.Gray, error) {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	inv := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := mask.Pix[mask.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			if row[x] == 0 {
				inv.Pix[y*inv.Stride+x] = 255
			}
		}
	}
	if w == 0 || h == 0 {
		return inv, nil
	}

	src, err := fromGray(inv)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponentsWithParams(src, &labels, 4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	data, err := labels.DataPtrInt32()
	if err != nil {
		return nil, fmt.Errorf("failed to read background labels: %w", err)
	}
	outside := make([]bool, n)
	for x := 0; x < w; x++ {
		outside[data[x]] = true
		outside[data[(h-1)*w+x]] = true
	}
	for y := 0; y < h; y++ {
		outside[data[y*w]] = true
		outside[data[y*w+w-1]] = true
	}

	// label 0 is the mask foreground
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i, lbl := range data {
		if lbl == 0 || !outside[lbl] {
			out.Pix[i] = 255
		}
	}
	return out, nil
}
