package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/menta2k/autocrop/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks the model for the tight box of the photographed item
const DefaultPrompt = `You are locating the single item a person photographed for a household inventory.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (≤ 20 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box must tightly enclose the whole item and nothing else: no table, floor, wall or hands.
- confidence is how sure you are the box contains the item, from 0.0 to 1.0.
- Tags: lowercase, concise, no punctuation or duplicates.
- If no single item stands out, return:
  {
    "primary":{"label":"none","confidence":0.0,"box":{"x":0.0,"y":0.0,"w":1.0,"h":1.0},"cx":0.5,"cy":0.5},
    "description":"no distinct item",
    "tags":["none"]
  }
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Client is a vision model backend able to answer prompts about an image
type Client interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)
}

// Detector locates the primary subject of an image using a vision model
type Detector struct {
	client Client
	prompt string
}

// NewDetector creates a new detector with a vision client
func NewDetector(client Client) *Detector {
	return &Detector{client: client, prompt: DefaultPrompt}
}

// WithPrompt returns a copy of the detector that uses prompt
func (d *Detector) WithPrompt(prompt string) *Detector {
	return &Detector{client: d.client, prompt: prompt}
}

// DetectSubject analyzes an image and returns the primary subject
func (d *Detector) DetectSubject(ctx context.Context, model, imageB64 string) (*types.AnalysisResult, error) {
	if d.client == nil {
		return nil, fmt.Errorf("detector has no vision client")
	}

	result, err := d.client.AnalyzeImage(ctx, model, d.prompt, imageB64)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("vision client returned no result")
	}

	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Primary.Confidence = clamp(result.Primary.Confidence, 0, 1)
	result.Tags = normalizeTags(result.Tags)

	return validateResult(result), nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, model, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, model, SimpleTestPrompt, imageB64)
}

// HasSubject reports whether result names a real subject with a usable box.
func HasSubject(result *types.AnalysisResult) bool {
	if result == nil {
		return false
	}
	p := result.Primary
	return !strings.EqualFold(p.Label, "none") && p.Confidence > 0 && p.Box.W > 0 && p.Box.H > 0
}

// validateResult marks self-reported fallbacks as "none"
func validateResult(result *types.AnalysisResult) *types.AnalysisResult {
	if strings.EqualFold(result.Primary.Label, "none") {
		result.Primary.Confidence = 0
		return result
	}

	fallbackIndicators := []string{"unclear", "empty", "parse", "error", "fallback", "non-json", "generic"}
	label := strings.ToLower(result.Primary.Label)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) {
			result.Primary.Label = "none"
			result.Primary.Confidence = 0
			break
		}
	}

	return result
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clips a normalized box to the unit square
func normalizeBox(b types.Box) types.Box {
	x0 := clamp(b.X, 0, 1)
	y0 := clamp(b.Y, 0, 1)
	x1 := clamp(b.X+b.W, 0, 1)
	y1 := clamp(b.Y+b.H, 0, 1)
	return types.Box{X: x0, Y: y0, W: clamp(x1-x0, 0, 1), H: clamp(y1-y0, 0, 1)}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
