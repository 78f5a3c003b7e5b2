// Package detection defines the object detector contract shared by all
// detection backends, plus the post-processing they have in common.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/menta2k/parcel-matcher/pkg/types"
)

// DefaultConfidence is the minimum score a detection needs to be kept
const DefaultConfidence = 0.85

// ErrModelUnavailable is returned when a backend cannot reach its model
var ErrModelUnavailable = errors.New("detection model unavailable")

// Detector finds objects in an image.
// Implementations return boxes in pixel coordinates of img, in the order
// the underlying model reports them.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func(ctx context.Context, img image.Image) ([]types.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	return f(ctx, img)
}

// Filter keeps detections scoring at least minScore, preserving order
func Filter(dets []types.Detection, minScore float64) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score >= minScore {
			out = append(out, d)
		}
	}
	return out
}

// Thresholded wraps a detector and drops low-confidence results
type Thresholded struct {
	Detector Detector
	MinScore float64
}

// WithConfidence wraps d so only detections scoring at least minScore survive
func WithConfidence(d Detector, minScore float64) *Thresholded {
	return &Thresholded{Detector: d, MinScore: minScore}
}

func (t *Thresholded) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	dets, err := t.Detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return Filter(dets, t.MinScore), nil
}

// Close releases the wrapped detector if it holds resources
func (t *Thresholded) Close() error {
	if c, ok := t.Detector.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// IoU computes intersection over union of two boxes
func IoU(a, b types.Box) float64 {
	inter := types.Box{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS performs greedy non-maximum suppression per class.
// The result is ordered by descending score.
func NMS(dets []types.Detection, iouThreshold float64) []types.Detection {
	sorted := make([]types.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]types.Detection, 0, len(sorted))
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && IoU(k.Box, d.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// ClipToImage clamps every box to the bounds of an image of the given size
// and drops boxes that end up empty
func ClipToImage(dets []types.Detection, width, height int) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		d.Box = types.Box{
			X1: clamp(d.Box.X1, 0, float64(width)),
			Y1: clamp(d.Box.Y1, 0, float64(height)),
			X2: clamp(d.Box.X2, 0, float64(width)),
			Y2: clamp(d.Box.Y2, 0, float64(height)),
		}
		if d.Box.Area() > 0 {
			out = append(out, d)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Describe formats detections for log lines
func Describe(dets []types.Detection) string {
	if len(dets) == 0 {
		return "none"
	}
	var sb strings.Builder
	for i, d := range dets {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %.2f [%.0f,%.0f,%.0f,%.0f]", labelOf(d), d.Score, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
	return sb.String()
}

func labelOf(d types.Detection) string {
	if d.Label != "" {
		return d.Label
	}
	return fmt.Sprintf("class%d", d.ClassID)
}
