// Package matcher wires detection, cropping, embedding, comparison and
// lookup into the two-image matching pipeline.
package matcher

import (
	"context"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/menta2k/parcel-matcher/pkg/cropper"
	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/embedding"
	"github.com/menta2k/parcel-matcher/pkg/lookup"
	"github.com/menta2k/parcel-matcher/pkg/similarity"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// Image roles used in errors and crop sinks
const (
	RoleQuery     = "query"
	RoleReference = "reference"
)

// CropSink receives every crop the pipeline produces
type CropSink func(role string, src, crop image.Image, side types.Side)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithCropSink registers a callback invoked after each crop
func WithCropSink(sink CropSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithLogf sets the function used for progress lines
func WithLogf(logf func(format string, args ...any)) Option {
	return func(p *Pipeline) { p.logf = logf }
}

// WithIDFunc overrides how match IDs are generated
func WithIDFunc(id func() string) Option {
	return func(p *Pipeline) { p.newID = id }
}

// Pipeline matches a query image against a reference image
type Pipeline struct {
	detector   detection.Detector
	cropper    *cropper.Cropper
	embedder   embedding.Embedder
	comparator *similarity.Comparator
	lookup     lookup.Source

	sink  CropSink
	logf  func(format string, args ...any)
	newID func() string
}

// New creates a pipeline from its stages
func New(det detection.Detector, crop *cropper.Cropper, emb embedding.Embedder, cmp *similarity.Comparator, src lookup.Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:   det,
		cropper:    crop,
		embedder:   emb,
		comparator: cmp,
		lookup:     src,
		logf:       func(string, ...any) {},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Detect runs only the detection stage
func (p *Pipeline) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	return p.detector.Detect(ctx, img)
}

// Describe runs detect, crop and embed on one image
func (p *Pipeline) Describe(ctx context.Context, img image.Image) (types.Side, types.Embedding, error) {
	return p.describe(ctx, "", img)
}

func (p *Pipeline) describe(ctx context.Context, role string, img image.Image) (types.Side, types.Embedding, error) {
	var side types.Side

	dets, err := p.detector.Detect(ctx, img)
	if err != nil {
		return side, nil, stageErr(role, "detect", err)
	}
	side.Detections = dets
	p.logf("%s: %d detections: %s", roleName(role), len(dets), detection.Describe(dets))

	if err := ctx.Err(); err != nil {
		return side, nil, stageErr(role, "crop", err)
	}
	crop, selected, err := p.cropper.Crop(img, dets)
	if err != nil {
		return side, nil, stageErr(role, "crop", err)
	}
	side.Selected = selected
	p.logf("%s: cropped %dx%d from %s", roleName(role), crop.Bounds().Dx(), crop.Bounds().Dy(), detection.Describe([]types.Detection{selected}))

	if p.sink != nil {
		p.sink(roleName(role), img, crop, side)
	}

	if err := ctx.Err(); err != nil {
		return side, nil, stageErr(role, "embed", err)
	}
	emb, err := p.embedder.Embed(ctx, crop)
	if err != nil {
		return side, nil, stageErr(role, "embed", err)
	}
	side.EmbeddingDim = emb.Dim()

	return side, emb, nil
}

// Match compares the selected objects of two images. When the similarity
// reaches the threshold the identifier from the lookup source is attached;
// otherwise AWB stays empty.
func (p *Pipeline) Match(ctx context.Context, query, reference image.Image) (*types.MatchResult, error) {
	result := &types.MatchResult{ID: p.newID()}

	qSide, qEmb, err := p.describe(ctx, RoleQuery, query)
	if err != nil {
		return nil, err
	}
	result.Query = qSide

	rSide, rEmb, err := p.describe(ctx, RoleReference, reference)
	if err != nil {
		return nil, err
	}
	result.Reference = rSide

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	decision, err := p.comparator.Compare(qEmb, rEmb)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	result.Decision = decision
	p.logf("similarity %.4f (threshold %.2f) match=%t", decision.Similarity, decision.Threshold, decision.Match)

	if !decision.Match {
		return result, nil
	}

	awb, err := p.lookup.Lookup(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	result.AWB = awb

	return result, nil
}

func stageErr(role, stage string, err error) error {
	if role == "" {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return fmt.Errorf("%s: %s: %w", role, stage, err)
}

func roleName(role string) string {
	if role == "" {
		return "image"
	}
	return role
}
