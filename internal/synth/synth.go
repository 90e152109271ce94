// Package synth draws deterministic synthetic fundus images for tests and smoke runs.
package synth

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
)

var (
	Background = color.RGBA{10, 5, 5, 255}
	Retina     = color.RGBA{190, 95, 45, 255}
	Lesion     = color.RGBA{90, 20, 15, 255}
	Exudate    = color.RGBA{250, 240, 180, 255}
)

// Uniform returns a w×h image filled with a single gray level.
func Uniform(w, h int, level uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{level, level, level, 255}}, image.Point{}, draw.Src)
	return img
}

// Fundus returns a retina-colored disc on a dark background with a soft
// radial falloff toward the rim.
func Fundus(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	r := math.Min(cx, cy) * 0.95

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			if d > r {
				img.SetRGBA(x, y, Background)
				continue
			}
			shade := 1 - 0.25*(d/r)*(d/r)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(float64(Retina.R) * shade),
				G: uint8(float64(Retina.G) * shade),
				B: uint8(float64(Retina.B) * shade),
				A: 255,
			})
		}
	}
	return img
}

// Disc paints a filled circle of radius r centered at c.
func Disc(img *image.RGBA, c image.Point, r int, col color.RGBA) {
	for y := c.Y - r; y <= c.Y+r; y++ {
		for x := c.X - r; x <= c.X+r; x++ {
			dx, dy := x-c.X, y-c.Y
			if dx*dx+dy*dy <= r*r && image.Pt(x, y).In(img.Rect) {
				img.SetRGBA(x, y, col)
			}
		}
	}
}

// Rect paints a filled rectangle.
func Rect(img *image.RGBA, r image.Rectangle, col color.RGBA) {
	draw.Draw(img, r, &image.Uniform{C: col}, image.Point{}, draw.Src)
}

// Scene draws a fundus with dark spots and bright patches laid out on a fixed
// grid inside the disc. The same arguments always give the same image.
func Scene(w, h, darkSpots, brightPatches int) *image.RGBA {
	img := Fundus(w, h)
	spots := gridPoints(w, h, darkSpots+brightPatches)
	for i, p := range spots {
		if i < darkSpots {
			Disc(img, p, 3, Lesion)
		} else {
			Rect(img, image.Rect(p.X-4, p.Y-3, p.X+4, p.Y+3), Exudate)
		}
	}
	return img
}

func gridPoints(w, h, n int) []image.Point {
	if n <= 0 {
		return nil
	}
	side := int(math.Ceil(math.Sqrt(float64(n))))
	// keep the grid inside the inscribed square of the disc
	span := math.Min(float64(w), float64(h)) * 0.5
	x0, y0 := float64(w)/2-span/2, float64(h)/2-span/2
	step := span / float64(side)

	pts := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		col, row := i%side, i/side
		pts = append(pts, image.Pt(int(x0+step*(float64(col)+0.5)), int(y0+step*(float64(row)+0.5))))
	}
	return pts
}

// GrayWithRect returns a single-channel image of level bg with r filled at fg.
func GrayWithRect(w, h int, bg, fg uint8, r image.Rectangle) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(g, g.Bounds(), &image.Uniform{C: color.Gray{Y: bg}}, image.Point{}, draw.Src)
	draw.Draw(g, r, &image.Uniform{C: color.Gray{Y: fg}}, image.Point{}, draw.Src)
	return g
}

// PNG encodes img and panics on failure; intended for fixtures.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG encodes img at quality 90 and panics on failure; intended for fixtures.
func JPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
