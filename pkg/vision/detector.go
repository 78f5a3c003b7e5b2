// Package vision provides a model-free detector that proposes high-contrast
// regions. It needs no weights, which makes it useful for smoke tests and
// for machines without a detection model.
package vision

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// Label is attached to every region the saliency detector reports
const Label = "salient"

// DetectionConfig holds configuration for saliency detection
type DetectionConfig struct {
	EdgeThreshold  float64
	ContrastWeight float64
	ColorWeight    float64
	// MinSubjectRatio is the smallest window area as a fraction of the image
	MinSubjectRatio float64
	// AnalysisSize is the long side images are reduced to before analysis
	AnalysisSize int
	MaxRegions   int
	IoU          float64
}

// SaliencyDetector ranks square windows by edge strength and brightness
type SaliencyDetector struct {
	config DetectionConfig
}

var _ detection.Detector = (*SaliencyDetector)(nil)

// New creates a new SaliencyDetector with default configuration
func New() *SaliencyDetector {
	return &SaliencyDetector{
		config: DetectionConfig{
			EdgeThreshold:   0.01,
			ContrastWeight:  0.7,
			ColorWeight:     0.3,
			MinSubjectRatio: 0.05,
			AnalysisSize:    256,
			MaxRegions:      10,
			IoU:             0.5,
		},
	}
}

// NewWithConfig creates a new SaliencyDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SaliencyDetector {
	return &SaliencyDetector{config: config}
}

// Detect returns up to MaxRegions salient windows in pixel coordinates of img,
// strongest first. Scores are relative to the strongest window, which scores 1.
func (d *SaliencyDetector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, nil
	}

	small := img
	if d.config.AnalysisSize > 0 && max(bounds.Dx(), bounds.Dy()) > d.config.AnalysisSize {
		small = imaging.Fit(img, d.config.AnalysisSize, d.config.AnalysisSize, imaging.Box)
	}
	nrgba := imaging.Clone(small)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	scaleX := float64(bounds.Dx()) / float64(w)
	scaleY := float64(bounds.Dy()) / float64(h)

	sat := newSummedArea(d.saliencyMap(nrgba), w, h)

	var regions []types.Detection
	minArea := float64(w*h) * d.config.MinSubjectRatio
	short := min(w, h)
	for _, frac := range []float64{0.25, 1.0 / 3, 0.5, 2.0 / 3} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size := int(float64(short) * frac)
		if size < 4 || float64(size*size) < minArea {
			continue
		}
		step := max(size/8, 1)
		for y := 0; y+size <= h; y += step {
			for x := 0; x+size <= w; x += step {
				score := sat.mean(x, y, size, size)
				if score <= d.config.EdgeThreshold {
					continue
				}
				regions = append(regions, types.Detection{
					Box: types.Box{
						X1: float64(x) * scaleX,
						Y1: float64(y) * scaleY,
						X2: float64(x+size) * scaleX,
						Y2: float64(y+size) * scaleY,
					},
					Score: score,
					Label: Label,
				})
			}
		}
	}

	if len(regions) == 0 {
		return nil, nil
	}

	regions = detection.NMS(regions, d.config.IoU)
	if d.config.MaxRegions > 0 && len(regions) > d.config.MaxRegions {
		regions = regions[:d.config.MaxRegions]
	}

	if top := regions[0].Score; top > 0 {
		for i := range regions {
			regions[i].Score /= top
		}
	}

	return regions, nil
}

// saliencyMap combines local edge strength with brightness for every pixel
func (d *SaliencyDetector) saliencyMap(img *image.NRGBA) []float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]float64, w*h)

	px := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + x*4
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	maxDiff := 8 * math.Sqrt(3*255*255)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1 := px(x, y)

			var edge float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					r2, g2, b2 := px(x+dx, y+dy)
					edge += math.Sqrt((r1-r2)*(r1-r2) + (g1-g2)*(g1-g2) + (b1-b2)*(b1-b2))
				}
			}
			edge /= maxDiff

			brightness := (r1 + g1 + b1) / (3 * 255)
			out[y*w+x] = d.config.ContrastWeight*edge + d.config.ColorWeight*brightness
		}
	}
	return out
}

// summedArea answers rectangle sums in constant time
type summedArea struct {
	sums []float64
	w    int
}

func newSummedArea(values []float64, w, h int) *summedArea {
	stride := w + 1
	sums := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += values[y*w+x]
			sums[(y+1)*stride+x+1] = sums[y*stride+x+1] + row
		}
	}
	return &summedArea{sums: sums, w: stride}
}

func (s *summedArea) mean(x, y, w, h int) float64 {
	a := s.sums[y*s.w+x]
	b := s.sums[y*s.w+x+w]
	c := s.sums[(y+h)*s.w+x]
	e := s.sums[(y+h)*s.w+x+w]
	return (e - b - c + a) / float64(w*h)
}
