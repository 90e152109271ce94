package imageio

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	src := synth.Fundus(24, 16)

	t.Run("png", func(t *testing.T) {
		img, meta, err := Decode("a.png", synth.PNG(src))
		require.NoError(t, err)
		assert.Equal(t, src.Bounds(), img.Bounds())
		assert.Equal(t, "image/png", meta.ContentType)
		assert.True(t, meta.IsZero())
	})

	t.Run("jpeg", func(t *testing.T) {
		img, meta, err := Decode("a.jpg", synth.JPEG(src))
		require.NoError(t, err)
		assert.Equal(t, src.Bounds(), img.Bounds())
		assert.Equal(t, "image/jpeg", meta.ContentType)
	})
}

func TestDecode_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"truncated png", synth.PNG(synth.Fundus(8, 8))[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.name, tt.data)
			require.Error(t, err)
			assert.True(t, common.IsInput(err), "got %v", err)
		})
	}
}

// withPNGSize rewrites the IHDR dimensions of an encoded PNG and fixes up its CRC.
func withPNGSize(data []byte, w, h uint32) []byte {
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	forged := withPNGSize(synth.PNG(synth.Fundus(8, 8)), 60000, 60000)
	_, _, err := Decode("huge.png", forged)
	require.Error(t, err)
	assert.True(t, common.IsInput(err))
	assert.ErrorIs(t, err, errTooLarge)

	old := MaxPixels
	MaxPixels = 63
	t.Cleanup(func() { MaxPixels = old })
	_, _, err = Decode("eye.png", synth.PNG(synth.Fundus(8, 8)))
	assert.ErrorIs(t, err, errTooLarge)
	_, _, err = Decode("eye.png", synth.PNG(synth.Fundus(7, 9)))
	assert.NoError(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
	assert.True(t, common.IsInput(err))
}

func TestMaskRoundTrip(t *testing.T) {
	mask := synth.GrayWithRect(12, 9, 0, 255, image.Rect(2, 3, 6, 7))
	path := filepath.Join(t.TempDir(), "mask.png")
	require.NoError(t, SaveMask(path, mask))

	got, err := LoadMask(path)
	require.NoError(t, err)
	assert.Equal(t, mask.Pix, got.Pix)
}

func TestDecodeMask_Binarizes(t *testing.T) {
	// annotators often save soft masks; anything above zero is lesion
	soft := synth.GrayWithRect(4, 4, 0, 7, image.Rect(0, 0, 2, 1))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, soft))

	got, err := DecodeMask("soft.png", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(255), got.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), got.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(0), got.GrayAt(2, 0).Y)
}

func TestBinarize_OffsetBounds(t *testing.T) {
	g := synth.GrayWithRect(6, 6, 0, 9, image.Rect(3, 3, 4, 4))
	sub := g.SubImage(image.Rect(2, 2, 6, 6)).(*image.Gray)

	out := Binarize(sub)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	assert.Equal(t, uint8(255), out.GrayAt(1, 1).Y)
}

func TestReadMetadata_NoExif(t *testing.T) {
	assert.True(t, ReadMetadata([]byte("plain")).IsZero())
}

func TestMaskPNG(t *testing.T) {
	data, err := MaskPNG(image.NewGray(image.Rect(0, 0, 3, 3)))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(t.TempDir(), "x.png"), data, 0o600))
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Width)
}
