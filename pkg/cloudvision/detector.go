// Package cloudvision detects parcels with Google Cloud Vision object localization.
package cloudvision

import (
	"context"
	"fmt"
	"image"
	"strings"

	gvision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// Detector uses the OBJECT_LOCALIZATION feature of Cloud Vision
type Detector struct {
	client    *gvision.ImageAnnotatorClient
	processor *processing.Processor
	labels    []string
	maxSide   int
}

var _ detection.Detector = (*Detector)(nil)

// NewDetector creates a detector using application default credentials.
// When labels is not empty only objects with one of those names are kept.
func NewDetector(ctx context.Context, labels []string, maxSide int) (*Detector, error) {
	client, err := gvision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &Detector{
		client:    client,
		processor: processing.NewProcessor(),
		labels:    labels,
		maxSide:   maxSide,
	}, nil
}

// Close releases the Vision API client
func (d *Detector) Close() error {
	return d.client.Close()
}

func (d *Detector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, nil
	}

	// boxes come back normalized, so downscaling does not change them
	small := img
	if d.maxSide > 0 && max(b.Dx(), b.Dy()) > d.maxSide {
		small = processing.Downscale(img, d.maxSide)
	}
	data, err := d.processor.EncodeImage(small, "jpg", 90)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_OBJECT_LOCALIZATION},
				},
			},
		},
	}

	resp, err := d.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: vision API request failed: %v", detection.ErrModelUnavailable, err)
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}
	if resp.Responses[0].Error != nil {
		return nil, fmt.Errorf("vision API error: %s", resp.Responses[0].Error.Message)
	}

	return ToDetections(resp.Responses[0].LocalizedObjectAnnotations, d.labels, b.Dx(), b.Dy()), nil
}

// ToDetections converts localized objects to pixel boxes of a width×height
// image, keeping the order the API returned them in
func ToDetections(objects []*visionpb.LocalizedObjectAnnotation, labels []string, width, height int) []types.Detection {
	dets := make([]types.Detection, 0, len(objects))
	for _, obj := range objects {
		if !wanted(obj.GetName(), labels) {
			continue
		}
		vertices := obj.GetBoundingPoly().GetNormalizedVertices()
		if len(vertices) == 0 {
			continue
		}

		x1, y1 := float64(vertices[0].GetX()), float64(vertices[0].GetY())
		x2, y2 := x1, y1
		for _, v := range vertices[1:] {
			x1 = min(x1, float64(v.GetX()))
			y1 = min(y1, float64(v.GetY()))
			x2 = max(x2, float64(v.GetX()))
			y2 = max(y2, float64(v.GetY()))
		}

		dets = append(dets, types.Detection{
			Box:   types.BoxFromNormalized(x1, y1, x2, y2, width, height),
			Score: float64(obj.GetScore()),
			Label: strings.ToLower(obj.GetName()),
		})
	}
	return detection.ClipToImage(dets, width, height)
}

func wanted(name string, labels []string) bool {
	if len(labels) == 0 {
		return true
	}
	for _, l := range labels {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}
