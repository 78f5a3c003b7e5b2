package cropper

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"

	"github.com/menta2k/parcel-matcher/pkg/types"
)

var (
	// ErrNoDetections is returned when there is no box to crop
	ErrNoDetections = errors.New("no detections")
	// ErrEmptyCrop is returned when the selected box has no area inside the image
	ErrEmptyCrop = errors.New("empty crop region")
)

// SmartcropLabel marks the synthetic detection produced by the fallback
const SmartcropLabel = "smartcrop"

// Policy decides which detection is cropped
type Policy string

const (
	// PolicyLast keeps the last detection in the order the detector reported them
	PolicyLast Policy = "last"
	// PolicyHighestScore keeps the most confident detection
	PolicyHighestScore Policy = "highest_score"
	// PolicyLargest keeps the detection covering the most pixels
	PolicyLargest Policy = "largest"
)

// ParsePolicy converts a config value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLast, nil
	case PolicyLast, PolicyHighestScore, PolicyLargest:
		return p, nil
	}
	return "", fmt.Errorf("unknown crop policy %q", s)
}

// CropConfig holds configuration for cropping
type CropConfig struct {
	Policy Policy
	// PaddingRatio grows the box by this fraction of its size on every side
	PaddingRatio float64
	// Fallback enables a content-aware square crop when nothing was detected
	Fallback bool
}

// Cropper cuts the selected detection out of an image
type Cropper struct {
	config   CropConfig
	analyzer smartcrop.Analyzer
}

// New creates a Cropper with the default last-box policy
func New() *Cropper {
	return NewWithConfig(CropConfig{Policy: PolicyLast})
}

// NewWithConfig creates a Cropper with custom configuration
func NewWithConfig(config CropConfig) *Cropper {
	if config.Policy == "" {
		config.Policy = PolicyLast
	}
	return &Cropper{
		config:   config,
		analyzer: smartcrop.NewAnalyzer(resizer{filter: imaging.Linear}),
	}
}

// Config returns the cropper configuration
func (c *Cropper) Config() CropConfig {
	return c.config
}

// Crop selects one detection according to the policy and returns the
// matching sub-image, re-based at (0,0), together with the detection used.
// Box coordinates are truncated to integers and clipped to the image.
func (c *Cropper) Crop(img image.Image, dets []types.Detection) (image.Image, types.Detection, error) {
	if len(dets) == 0 {
		if !c.config.Fallback {
			return nil, types.Detection{}, ErrNoDetections
		}
		fallback, err := c.fallback(img)
		if err != nil {
			return nil, types.Detection{}, err
		}
		dets = []types.Detection{fallback}
	}

	selected := Select(dets, c.config.Policy)
	box := pad(selected.Box, c.config.PaddingRatio)

	bounds := img.Bounds()
	rect := box.Rect().Add(bounds.Min).Intersect(bounds)
	if box.Area() == 0 || rect.Empty() {
		return nil, selected, fmt.Errorf("%w: box %v outside %dx%d image", ErrEmptyCrop, selected.Box.Rect(), bounds.Dx(), bounds.Dy())
	}

	return imaging.Crop(img, rect), selected, nil
}

// Select picks a detection from a non-empty slice according to the policy
func Select(dets []types.Detection, policy Policy) types.Detection {
	return dets[SelectIndex(dets, policy)]
}

// SelectIndex returns the position of the detection Select picks. Ties keep
// the earliest candidate, except under PolicyLast. It returns -1 for an
// empty slice.
func SelectIndex(dets []types.Detection, policy Policy) int {
	if len(dets) == 0 {
		return -1
	}
	switch policy {
	case PolicyHighestScore:
		best := 0
		for i := 1; i < len(dets); i++ {
			if dets[i].Score > dets[best].Score {
				best = i
			}
		}
		return best
	case PolicyLargest:
		best := 0
		for i := 1; i < len(dets); i++ {
			if dets[i].Box.Area() > dets[best].Box.Area() {
				best = i
			}
		}
		return best
	default:
		return len(dets) - 1
	}
}

func pad(b types.Box, ratio float64) types.Box {
	if ratio <= 0 {
		return b
	}
	dx := b.Width() * ratio
	dy := b.Height() * ratio
	return types.Box{X1: b.X1 - dx, Y1: b.Y1 - dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// fallback finds the most interesting square of the image
func (c *Cropper) fallback(img image.Image) (types.Detection, error) {
	bounds := img.Bounds()
	side := min(bounds.Dx(), bounds.Dy())
	if side <= 0 {
		return types.Detection{}, ErrEmptyCrop
	}

	rect, err := c.analyzer.FindBestCrop(img, side, side)
	if err != nil {
		return types.Detection{}, fmt.Errorf("finding best crop: %w", err)
	}
	rect = rect.Sub(bounds.Min)

	return types.Detection{
		Box: types.Box{
			X1: float64(rect.Min.X),
			Y1: float64(rect.Min.Y),
			X2: float64(rect.Max.X),
			Y2: float64(rect.Max.Y),
		},
		Label: SmartcropLabel,
	}, nil
}

// resizer implements the smartcrop resizer on top of imaging
type resizer struct {
	filter imaging.ResampleFilter
}

func (r resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.filter)
}
