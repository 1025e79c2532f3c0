package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/menta2k/autocrop/pkg/cropper"
	"github.com/menta2k/autocrop/pkg/loader"
	"github.com/menta2k/autocrop/pkg/segment"
	"github.com/menta2k/autocrop/pkg/types"
)

// createTestPNG creates an encoded gradient image
func createTestPNG(t testing.TB, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// regionSegmenter marks the inclusive rectangle [x0,x1]x[y0,y1] as subject
func regionSegmenter(x0, y0, x1, y1 int) segment.Func {
	return func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
		m := segment.Uniform(buf.Width, buf.Height, 1)
		segment.FillRect(m, buf.Width, buf.Height, x0, y0, x1+1, y1+1, 0)
		return m, nil
	}
}

func constSegmenter(v float64) segment.Func {
	return func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
		return segment.Uniform(buf.Width, buf.Height, v), nil
	}
}

func TestEndToEndCrop(t *testing.T) {
	input := createTestPNG(t, 2000, 1000)

	res := New(regionSegmenter(400, 100, 600, 200)).Run(context.Background(), input)
	require.NoError(t, res.Err)
	require.Equal(t, Done, res.State)
	require.True(t, res.Cropped())
	require.Equal(t, types.BoundingBox{X: 380, Y: 80, Width: 241, Height: 141}, *res.Box)
	require.Equal(t, []State{Loading, Segmenting, Compositing, BoundsScan, Cropping, Done}, res.Trace)
	require.Equal(t, "png", res.Format)

	out, format, err := image.Decode(bytes.NewReader(res.Output))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 241, out.Bounds().Dx())
	require.Equal(t, 141, out.Bounds().Dy())

	// The crop must be the exact sub-rectangle of the normalized original.
	normalized, err := loader.New().Load(input)
	require.NoError(t, err)
	src := normalized.Buffer.Image()
	for y := 0; y < 141; y += 7 {
		for x := 0; x < 241; x += 7 {
			got := color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA)
			require.Equal(t, src.NRGBAAt(x+380, y+80), got, "pixel (%d,%d)", x, y)
		}
	}
}

func TestSegmenterSeesNormalizedBuffer(t *testing.T) {
	var w, h int
	seg := segment.Func(func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
		w, h = buf.Width, buf.Height
		return segment.Uniform(buf.Width, buf.Height, 1), nil
	})

	New(seg).Run(context.Background(), createTestPNG(t, 1000, 3000))
	require.Equal(t, 341, w)
	require.Equal(t, 1024, h)
}

func TestEmptyMaskReturnsResizedImage(t *testing.T) {
	input := createTestPNG(t, 2000, 1000)

	res := New(constSegmenter(1)).Run(context.Background(), input)
	require.NoError(t, res.Err)
	require.Equal(t, Done, res.State)
	require.Nil(t, res.Box)
	require.False(t, res.Cropped())
	require.Equal(t, []State{Loading, Segmenting, Compositing, BoundsScan, Done}, res.Trace)
	require.Equal(t, 1024, res.Width)
	require.Equal(t, 512, res.Height)

	normalized, err := loader.New().Load(input)
	require.NoError(t, err)
	want, err := cropper.New().Encode(normalized.Buffer, "png")
	require.NoError(t, err)
	require.Equal(t, want, res.Output)
}

func TestFullMaskKeepsWholeFrame(t *testing.T) {
	res := New(constSegmenter(0)).Run(context.Background(), createTestPNG(t, 300, 200))
	require.Equal(t, Done, res.State)
	require.Equal(t, types.BoundingBox{X: 0, Y: 0, Width: 300, Height: 200}, *res.Box)
}

func TestFallbackReturnsOriginalBytes(t *testing.T) {
	input := createTestPNG(t, 2000, 1000)

	tests := []struct {
		name      string
		segmenter segment.Segmenter
		input     []byte
		want      error
		lastStage State
	}{
		{
			name: "segmentation error",
			segmenter: segment.Func(func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
				return nil, errors.New("model unavailable")
			}),
			input:     input,
			want:      types.ErrSegmentation,
			lastStage: Segmenting,
		},
		{
			name: "short mask",
			segmenter: segment.Func(func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
				return segment.Uniform(buf.Width, buf.Height-1, 0), nil
			}),
			input:     input,
			want:      types.ErrDimensionMismatch,
			lastStage: Compositing,
		},
		{
			name:      "out of range mask",
			segmenter: constSegmenter(1.5),
			input:     input,
			want:      types.ErrSegmentation,
			lastStage: Segmenting,
		},
		{
			name:      "undecodable input",
			segmenter: constSegmenter(0),
			input:     []byte("not an image at all"),
			want:      types.ErrDecode,
			lastStage: Loading,
		},
		{
			name:      "no segmenter",
			segmenter: nil,
			input:     input,
			want:      types.ErrSegmentation,
			lastStage: Segmenting,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res := New(test.segmenter).Run(context.Background(), test.input)
			require.Equal(t, Fallback, res.State)
			require.ErrorIs(t, res.Err, test.want)
			require.Equal(t, test.input, res.Output)
			require.Nil(t, res.Box)
			require.Zero(t, res.Width)
			require.Greater(t, len(res.Trace), 1)
			require.Equal(t, test.lastStage, res.Trace[len(res.Trace)-2])
		})
	}
}

func TestFallbackOnPanic(t *testing.T) {
	input := createTestPNG(t, 64, 64)
	seg := segment.Func(func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
		panic("inference runtime crashed")
	})

	res := New(seg).Run(context.Background(), input)
	require.Equal(t, Fallback, res.State)
	require.Error(t, res.Err)
	require.Equal(t, input, res.Output)
}

func TestFallbackOnCancelledContext(t *testing.T) {
	input := createTestPNG(t, 128, 96)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(segment.NewSaliency()).Run(ctx, input)
	require.Equal(t, Fallback, res.State)
	require.ErrorIs(t, res.Err, types.ErrSegmentation)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Equal(t, input, res.Output)
}

func TestSegmenterCalledOnce(t *testing.T) {
	for _, fail := range []bool{false, true} {
		var calls int32
		seg := segment.Func(func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
			atomic.AddInt32(&calls, 1)
			if fail {
				return nil, errors.New("flaky")
			}
			return segment.Uniform(buf.Width, buf.Height, 0), nil
		})

		New(seg).Run(context.Background(), createTestPNG(t, 50, 50))
		require.EqualValues(t, 1, calls, "fail=%v", fail)
	}
}

func TestJPEGInputStaysJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))

	res := New(regionSegmenter(100, 100, 200, 150)).Run(context.Background(), buf.Bytes())
	require.Equal(t, Done, res.State)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Output))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 141, cfg.Width)
	require.Equal(t, 91, cfg.Height)
}

func TestCustomConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loader.MaxDimension = 500
	cfg.Bounds.Padding = 0

	res := NewWithConfig(regionSegmenter(10, 10, 19, 29), cfg).Run(context.Background(), createTestPNG(t, 1000, 800))
	require.Equal(t, Done, res.State)
	require.Equal(t, types.BoundingBox{X: 10, Y: 10, Width: 10, Height: 20}, *res.Box)
}

func TestFallbackOverPixelBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loader.MaxPixels = 1000
	input := createTestPNG(t, 40, 30)

	res := NewWithConfig(constSegmenter(0), cfg).Run(context.Background(), input)
	require.Equal(t, Fallback, res.State)
	require.ErrorIs(t, res.Err, types.ErrDecode)
	require.Equal(t, input, res.Output)
	require.Equal(t, []State{Loading, Fallback}, res.Trace)
}

func TestConcurrentRuns(t *testing.T) {
	input := createTestPNG(t, 1200, 900)
	p := New(regionSegmenter(300, 200, 500, 400))
	want := p.AutoCrop(context.Background(), input)

	var wg sync.WaitGroup
	outputs := make([][]byte, 8)
	for i := range outputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i] = p.AutoCrop(context.Background(), input)
		}(i)
	}
	wg.Wait()

	for i, out := range outputs {
		require.Equal(t, want, out, "run %d", i)
	}
}

func TestFallbackIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	seg := segment.Func(func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
		return nil, errors.New("model unavailable")
	})

	New(seg, WithLogger(zap.New(core))).Run(context.Background(), createTestPNG(t, 32, 32))

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	require.Equal(t, "segmenting", warnings[0].ContextMap()["stage"])
	require.NotEmpty(t, logs.FilterMessage("auto-crop stage").All())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "bounds_scan", BoundsScan.String())
	require.Equal(t, "fallback", Fallback.String())
	require.Equal(t, "unknown", State(42).String())
	require.True(t, Done.Terminal())
	require.False(t, Cropping.Terminal())
}

func BenchmarkRun(b *testing.B) {
	input := createTestPNG(b, 2000, 1500)
	p := New(regionSegmenter(400, 300, 900, 800))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Run(context.Background(), input)
	}
}
