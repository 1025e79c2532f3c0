package processing

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/menta2k/autocrop/pkg/types"
)

// DefaultMaxDownload caps the number of bytes read from a URL source
const DefaultMaxDownload = 64 << 20

// Processor fetches source bytes and renders debug artifacts
type Processor struct {
	httpClient  *http.Client
	maxDownload int64
}

// NewProcessor creates a new processor with a 30s download timeout
func NewProcessor() *Processor {
	return &Processor{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxDownload: DefaultMaxDownload,
	}
}

// NewProcessorWithHTTP creates a processor that downloads with the given client
func NewProcessorWithHTTP(client *http.Client) *Processor {
	p := NewProcessor()
	if client != nil {
		p.httpClient = client
	}
	return p
}

// IsURL reports whether source should be fetched over HTTP
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// LoadSource returns the raw encoded bytes of a file path or http(s) URL
func (p *Processor) LoadSource(ctx context.Context, source string) ([]byte, error) {
	if IsURL(source) {
		return p.LoadURL(ctx, source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return data, nil
}

// LoadURL downloads the raw bytes of an image
func (p *Processor) LoadURL(ctx context.Context, imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "autocrop/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > p.maxDownload {
		return nil, fmt.Errorf("image exceeds %d bytes", p.maxDownload)
	}
	return data, nil
}

// Overlay colors
var (
	boxColor  = color.NRGBA{255, 204, 0, 255} // crop box
	maskColor = color.NRGBA{0, 170, 255, 255} // transparent (background) pixels
)

// CreateDebugOverlay renders the normalized buffer with the crop box drawn on it.
// Transparent pixels of a composited buffer are tinted so the mask is visible.
// A nil box draws no rectangle.
func (p *Processor) CreateDebugOverlay(buf *types.PixelBuffer, box *types.BoundingBox) *image.NRGBA {
	src := buf.Image()
	out := imaging.New(buf.Width, buf.Height, maskColor)
	out = imaging.Overlay(out, src, image.Pt(0, 0), 1.0)

	if box == nil || box.Width <= 0 || box.Height <= 0 {
		return out
	}

	stroke := int(math.Max(2, 0.004*float64(minInt(buf.Width, buf.Height))))
	drawBox(out, box.Rect(), boxColor, stroke)
	return out
}

// SaveImage writes an overlay to disk, format chosen by extension
func (p *Processor) SaveImage(img image.Image, path string) error {
	return imaging.Save(img, path)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawBox(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
