// Package parcelmatch decides whether two photos show the same parcel.
//
// Each image goes through the same stages: an object detector finds the
// parcel, the selected box is cropped, a CNN (VGG16 without its classifier)
// turns the crop into a 4096-d feature vector, and the two vectors are
// compared with cosine similarity. When the similarity reaches the threshold
// the AWB identifier is read from a lookup file.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		parcelmatch "github.com/menta2k/parcel-matcher"
//		"github.com/menta2k/parcel-matcher/pkg/onnx"
//	)
//
//	func main() {
//		if err := onnx.Init("/usr/lib/libonnxruntime.so"); err != nil {
//			log.Fatal(err)
//		}
//		det, err := onnx.NewYOLODetector(onnx.YOLOOptions{
//			SessionOptions: onnx.SessionOptions{ModelPath: "weights/v5_30.onnx"},
//			Confidence:     0.85,
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		emb, err := onnx.NewVGGEmbedder(onnx.VGGOptions{
//			SessionOptions: onnx.SessionOptions{ModelPath: "weights/vgg16_fc2.onnx"},
//			Dim:            4096,
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		m := parcelmatch.New(det, emb, "AWB.txt")
//		defer m.Close()
//
//		result, err := m.MatchFiles(context.Background(), "parcel.jpg", "label.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("similarity %.3f, awb %q\n", result.Decision.Similarity, result.AWB)
//	}
//
// The package consists of these components:
//
//  1. Detection (pkg/detection, pkg/onnx, pkg/inference, pkg/cloudvision, pkg/vision)
//  2. Cropper (pkg/cropper): picks one box, the last one by default
//  3. Embedding (pkg/embedding, pkg/onnx, pkg/inference)
//  4. Similarity (pkg/similarity) and Lookup (pkg/lookup)
//  5. Matcher (pkg/matcher): the pipeline tying them together
package parcelmatch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/menta2k/parcel-matcher/pkg/cropper"
	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/embedding"
	"github.com/menta2k/parcel-matcher/pkg/lookup"
	"github.com/menta2k/parcel-matcher/pkg/matcher"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/similarity"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// Version of the parcel matcher library
const Version = "1.0.0"

// Config tunes the stages that have no model behind them
type Config struct {
	Threshold float64
	Cropper   cropper.CropConfig
	// Pipeline options such as crop sinks and loggers
	Pipeline []matcher.Option
}

// DefaultConfig matches the reference behavior: last box, threshold 0.5
func DefaultConfig() Config {
	return Config{
		Threshold: similarity.DefaultThreshold,
		Cropper:   cropper.CropConfig{Policy: cropper.PolicyLast},
	}
}

// Matcher provides a high-level interface over the matching pipeline
type Matcher struct {
	pipeline  *matcher.Pipeline
	processor *processing.Processor
	detector  detection.Detector
	embedder  embedding.Embedder
	lookup    *lookup.File
}

// New creates a Matcher with the default configuration
func New(det detection.Detector, emb embedding.Embedder, lookupPath string) *Matcher {
	return NewWithConfig(det, emb, lookupPath, DefaultConfig())
}

// NewWithConfig creates a Matcher with custom configuration
func NewWithConfig(det detection.Detector, emb embedding.Embedder, lookupPath string, cfg Config) *Matcher {
	src := lookup.NewFile(lookupPath)
	return &Matcher{
		pipeline: matcher.New(det,
			cropper.NewWithConfig(cfg.Cropper),
			emb,
			similarity.NewComparator(cfg.Threshold),
			src,
			cfg.Pipeline...),
		processor: processing.NewProcessor(),
		detector:  det,
		embedder:  emb,
		lookup:    src,
	}
}

// Pipeline exposes the underlying pipeline
func (m *Matcher) Pipeline() *matcher.Pipeline {
	return m.pipeline
}

// LoadImage loads an image from a file path or http(s) URL and rejects
// images smaller than processing.MinImageSize on either side
func (m *Matcher) LoadImage(ctx context.Context, source string) (image.Image, error) {
	img, err := m.processor.LoadImageSmart(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := m.processor.ValidateImage(img, processing.MinImageSize); err != nil {
		return nil, err
	}
	return img, nil
}

// Match compares two decoded images
func (m *Matcher) Match(ctx context.Context, query, reference image.Image) (*types.MatchResult, error) {
	return m.pipeline.Match(ctx, query, reference)
}

// MatchFiles loads two images from paths or URLs and compares them
func (m *Matcher) MatchFiles(ctx context.Context, query, reference string) (*types.MatchResult, error) {
	qImg, err := m.LoadImage(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	rImg, err := m.LoadImage(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	result, err := m.pipeline.Match(ctx, qImg, rImg)
	if err != nil {
		return nil, err
	}
	result.Query.Source = query
	result.Reference.Source = reference
	return result, nil
}

// Detect runs only the detector on an image
func (m *Matcher) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	return m.pipeline.Detect(ctx, img)
}

// Describe runs detection, cropping and embedding on one image
func (m *Matcher) Describe(ctx context.Context, img image.Image) (types.Side, types.Embedding, error) {
	return m.pipeline.Describe(ctx, img)
}

// Close releases the detector and embedder when they hold resources
func (m *Matcher) Close() error {
	var errs []error
	if c, ok := m.detector.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := m.embedder.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
