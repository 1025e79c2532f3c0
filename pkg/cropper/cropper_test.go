package cropper

import (
	"bytes"
	"errors"
	"image"
	"testing"

	_ "golang.org/x/image/webp"

	"github.com/menta2k/autocrop/pkg/types"
)

// createTestBuffer creates a buffer where every pixel encodes its own coordinates
func createTestBuffer(t *testing.T, width, height int) *types.PixelBuffer {
	t.Helper()
	buf, err := types.NewPixelBuffer(width, height)
	if err != nil {
		t.Fatalf("NewPixelBuffer failed: %v", err)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			buf.Pix[i] = uint8(x)
			buf.Pix[i+1] = uint8(y)
			buf.Pix[i+2] = uint8(x ^ y)
			buf.Pix[i+3] = 255
		}
	}
	return buf
}

func TestNew(t *testing.T) {
	c := New()
	if c == nil {
		t.Fatal("New() returned nil")
	}
	if c.config.Quality != DefaultQuality {
		t.Errorf("Expected quality %d, got %d", DefaultQuality, c.config.Quality)
	}
}

func TestNewWithConfigClampsQuality(t *testing.T) {
	if c := NewWithConfig(CropConfig{Quality: 0}); c.config.Quality != DefaultQuality {
		t.Errorf("Expected invalid quality to fall back to %d, got %d", DefaultQuality, c.config.Quality)
	}
	if c := NewWithConfig(CropConfig{Quality: 75}); c.config.Quality != 75 {
		t.Errorf("Expected quality 75, got %d", c.config.Quality)
	}
}

func TestCropCopiesExactRegion(t *testing.T) {
	src := createTestBuffer(t, 200, 120)
	box := types.BoundingBox{X: 30, Y: 15, Width: 41, Height: 27}

	out, err := New().Crop(src, box)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.Width != box.Width || out.Height != box.Height {
		t.Fatalf("Expected %dx%d, got %dx%d", box.Width, box.Height, out.Width, out.Height)
	}

	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			got := out.Pix[(y*out.Width+x)*4 : (y*out.Width+x)*4+4]
			j := ((y+box.Y)*src.Width + x + box.X) * 4
			if !bytes.Equal(got, src.Pix[j:j+4]) {
				t.Fatalf("pixel (%d,%d) mismatch: %v != %v", x, y, got, src.Pix[j:j+4])
			}
		}
	}
}

func TestCropFullCanvas(t *testing.T) {
	src := createTestBuffer(t, 50, 40)

	out, err := New().Crop(src, types.BoundingBox{X: 0, Y: 0, Width: 50, Height: 40})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if !bytes.Equal(out.Pix, src.Pix) {
		t.Error("Full-canvas crop should equal the source")
	}
}

func TestCropRejectsOutOfBounds(t *testing.T) {
	src := createTestBuffer(t, 50, 40)
	boxes := []types.BoundingBox{
		{X: -1, Y: 0, Width: 10, Height: 10},
		{X: 45, Y: 0, Width: 10, Height: 10},
		{X: 0, Y: 35, Width: 10, Height: 6},
		{X: 10, Y: 10, Width: 0, Height: 5},
	}

	for _, box := range boxes {
		if _, err := New().Crop(src, box); !errors.Is(err, types.ErrCrop) {
			t.Errorf("box %v: expected ErrCrop, got %v", box, err)
		}
	}
}

func TestEncodeFormats(t *testing.T) {
	src := createTestBuffer(t, 64, 48)

	for _, format := range []string{"jpeg", "png", "gif", "bmp", "tiff", "webp"} {
		t.Run(format, func(t *testing.T) {
			data, err := New().Encode(src, format)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			img, got, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("output does not decode: %v", err)
			}
			if got != format {
				t.Errorf("Expected container %s, got %s", format, got)
			}
			if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
				t.Errorf("Expected 64x48, got %v", img.Bounds())
			}
		})
	}
}

func TestEncodePNGIsLossless(t *testing.T) {
	src := createTestBuffer(t, 30, 20)

	data, err := New().Encode(src, "png")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 30; x++ {
			r, g, _, _ := img.At(x, y).RGBA()
			if uint8(r>>8) != uint8(x) || uint8(g>>8) != uint8(y) {
				t.Fatalf("pixel (%d,%d) changed after png round trip", x, y)
			}
		}
	}
}

func TestEncodeUnsupportedFormat(t *testing.T) {
	src := createTestBuffer(t, 8, 8)
	if _, err := New().Encode(src, "heic"); !errors.Is(err, types.ErrEncode) {
		t.Errorf("Expected ErrEncode, got %v", err)
	}
}

func TestCropAndEncode(t *testing.T) {
	src := createTestBuffer(t, 100, 100)
	box := types.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}

	data, cropped, err := New().CropAndEncode(src, box, "jpeg")
	if err != nil {
		t.Fatalf("CropAndEncode failed: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if format != "jpeg" || cfg.Width != 30 || cfg.Height != 40 {
		t.Errorf("Expected 30x40 jpeg, got %dx%d %s", cfg.Width, cfg.Height, format)
	}
	if cropped.Width != 30 || cropped.Height != 40 {
		t.Errorf("Expected cropped buffer 30x40, got %dx%d", cropped.Width, cropped.Height)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"jpeg": "jpg",
		"JPG":  "jpg",
		"png":  "png",
		"webp": "webp",
		"tiff": "tif",
		"":     "jpg",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, expected %q", in, got, want)
		}
	}
}

func BenchmarkCropAndEncode(b *testing.B) {
	src, _ := types.NewPixelBuffer(1024, 768)
	box := types.BoundingBox{X: 100, Y: 100, Width: 600, Height: 400}
	c := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.CropAndEncode(src, box, "jpeg")
	}
}
