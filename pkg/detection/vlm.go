package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/parcel-matcher/pkg/client"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// DefaultPrompt asks a vision language model for every parcel and label box
const DefaultPrompt = `You are an object locator for a parcel sorting station.

Return JSON only:
{
  "objects": [
    {
      "label": "parcel | shipping label",
      "confidence": 0.0,
      "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
    }
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- List every parcel or shipping label you can see, one entry each.
- Boxes must tightly enclose the object.
- confidence is your certainty in [0,1].
- If nothing is found, return {"objects": [], "description": "no parcel"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// VisionModelDetector locates objects by prompting a vision language model
type VisionModelDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	model     string
	prompt    string
	maxSide   int
}

// NewVisionModelDetector creates a detector backed by a vision language model.
// Images are downscaled to maxSide pixels on their long side before sending.
func NewVisionModelDetector(c client.VisionClient, model string, maxSide int) *VisionModelDetector {
	return &VisionModelDetector{
		client:    c,
		processor: processing.NewProcessor(),
		model:     model,
		prompt:    DefaultPrompt,
		maxSide:   maxSide,
	}
}

// WithPrompt replaces the locator prompt
func (d *VisionModelDetector) WithPrompt(prompt string) *VisionModelDetector {
	d.prompt = prompt
	return d
}

func (d *VisionModelDetector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, "jpg", d.maxSide, 85)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	result, err := d.client.LocateObjects(ctx, d.model, d.prompt, imgB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	b := img.Bounds()
	dets := make([]types.Detection, 0, len(result.Objects))
	for _, obj := range result.Objects {
		box := normalizeBox(obj.Box)
		if box.W == 0 || box.H == 0 {
			continue
		}
		dets = append(dets, types.Detection{
			Box:   types.BoxFromNormalized(box.X, box.Y, box.X+box.W, box.Y+box.H, b.Dx(), b.Dy()),
			Score: clamp(obj.Confidence, 0, 1),
			Label: strings.ToLower(strings.TrimSpace(obj.Label)),
		})
	}

	return dets, nil
}

// normalizeBox clamps a model box into [0,1] so it never leaves the image
func normalizeBox(b types.NormalizedBox) types.NormalizedBox {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.NormalizedBox{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}
