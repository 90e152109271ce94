// Package imageio loads fundus photographs and ground-truth masks from disk or
// memory and writes masks back out as PNG.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/validation"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	errEmpty       = errors.New("empty file")
	errUnsupported = errors.New("unsupported image type")
	errTooLarge    = errors.New("image dimensions exceed the pixel budget")
)

// MaxPixels bounds width*height of anything Decode accepts. The header is
// checked before pixels are allocated.
var MaxPixels = 64 << 20

// Decode sniffs and decodes an image held in memory. source names it in errors.
func Decode(source string, data []byte) (image.Image, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, common.NewInputError(source, errEmpty)
	}
	mt := mimetype.Detect(data)
	if !validation.AllowedImageTypes[mt.String()] {
		return nil, Metadata{}, common.NewInputError(source, fmt.Errorf("%w: %s", errUnsupported, mt.String()))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, common.NewInputError(source, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxPixels/cfg.Height {
		return nil, Metadata{}, common.NewInputError(source,
			fmt.Errorf("%w: %dx%d", errTooLarge, cfg.Width, cfg.Height))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, common.NewInputError(source, err)
	}
	meta := ReadMetadata(data)
	meta.ContentType = mt.String()
	return img, meta, nil
}

// Load reads and decodes the image at path.
func Load(path string) (image.Image, Metadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller chooses the path
	if err != nil {
		return nil, Metadata{}, common.NewInputError(path, err)
	}
	return Decode(path, data)
}

// DecodeMask decodes a ground-truth mask. Any nonzero luminance becomes 255.
func DecodeMask(source string, data []byte) (*image.Gray, error) {
	img, _, err := Decode(source, data)
	if err != nil {
		return nil, err
	}
	return Binarize(img), nil
}

func LoadMask(path string) (*image.Gray, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller chooses the path
	if err != nil {
		return nil, common.NewInputError(path, err)
	}
	return DecodeMask(path, data)
}

// Binarize converts img to a 0/255 mask anchored at the origin.
func Binarize(img image.Image) *image.Gray {
	b := img.Bounds()
	g, ok := img.(*image.Gray)
	if !ok || b.Min != (image.Point{}) {
		g = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	}
	out := image.NewGray(g.Bounds())
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[g.PixOffset(0, y) : g.PixOffset(0, y)+b.Dx()]
		for x, v := range row {
			if v != 0 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// EncodePNG writes a mask losslessly.
func EncodePNG(w io.Writer, mask *image.Gray) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(w, mask); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// MaskPNG is EncodePNG into a fresh buffer.
func MaskPNG(mask *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, mask); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveMask writes mask to path as PNG.
func SaveMask(path string, mask *image.Gray) error {
	data, err := MaskPNG(mask)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644) //nolint:gosec // masks are not secret
}
