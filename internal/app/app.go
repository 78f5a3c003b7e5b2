// Package app assembles a parcel matcher from the application configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	parcelmatch "github.com/menta2k/parcel-matcher"
	"github.com/menta2k/parcel-matcher/internal/config"
	"github.com/menta2k/parcel-matcher/internal/logging"
	"github.com/menta2k/parcel-matcher/pkg/cloudvision"
	"github.com/menta2k/parcel-matcher/pkg/cropper"
	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/embedding"
	"github.com/menta2k/parcel-matcher/pkg/inference"
	"github.com/menta2k/parcel-matcher/pkg/llamacpp"
	"github.com/menta2k/parcel-matcher/pkg/matcher"
	"github.com/menta2k/parcel-matcher/pkg/ollama"
	"github.com/menta2k/parcel-matcher/pkg/onnx"
	"github.com/menta2k/parcel-matcher/pkg/types"
	"github.com/menta2k/parcel-matcher/pkg/vision"
)

// App owns a configured matcher and everything it opened
type App struct {
	Matcher  *parcelmatch.Matcher
	Config   *config.Config
	usesONNX bool
}

// Build validates cfg and creates the detector, embedder and pipeline it
// describes. HTTP model servers must answer GET /health. Extra pipeline
// options are appended after the defaults.
func Build(ctx context.Context, cfg *config.Config, opts ...matcher.Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{Config: cfg}

	det, err := a.buildDetector(ctx)
	if err != nil {
		a.shutdown()
		return nil, fmt.Errorf("detector: %w", err)
	}

	emb, err := a.buildEmbedder(ctx)
	if err != nil {
		closeIfCloser(det)
		a.shutdown()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	policy, err := cropper.ParsePolicy(cfg.Cropper.Policy)
	if err != nil {
		closeIfCloser(det)
		closeIfCloser(emb)
		a.shutdown()
		return nil, err
	}

	mc := parcelmatch.DefaultConfig()
	mc.Threshold = cfg.Similarity.Threshold
	mc.Cropper = cropper.CropConfig{
		Policy:       policy,
		PaddingRatio: cfg.Cropper.PaddingRatio,
		Fallback:     cfg.Cropper.Fallback,
	}
	mc.Pipeline = append([]matcher.Option{matcher.WithLogf(logging.Debugf)}, opts...)

	a.Matcher = parcelmatch.NewWithConfig(det, emb, cfg.Lookup.Path, mc)
	logging.Debugf("matcher ready: detector=%s embedder=%s threshold=%.2f policy=%s",
		cfg.Detector.Backend, cfg.Embedder.Backend, cfg.Similarity.Threshold, policy)
	return a, nil
}

// Close releases the models and, when used, the ONNX Runtime environment
func (a *App) Close() error {
	var errs []error
	if a.Matcher != nil {
		errs = append(errs, a.Matcher.Close())
	}
	errs = append(errs, a.shutdown())
	return errors.Join(errs...)
}

func (a *App) shutdown() error {
	if !a.usesONNX {
		return nil
	}
	a.usesONNX = false
	return onnx.Shutdown()
}

func (a *App) initONNX() error {
	if err := onnx.Init(a.Config.ONNX.LibraryPath); err != nil {
		return err
	}
	a.usesONNX = true
	return nil
}

func (a *App) buildDetector(ctx context.Context) (detection.Detector, error) {
	dc := a.Config.Detector

	switch dc.Backend {
	case config.BackendONNX:
		if err := a.initONNX(); err != nil {
			return nil, err
		}
		return onnx.NewYOLODetector(onnx.YOLOOptions{
			SessionOptions: onnx.SessionOptions{
				ModelPath: dc.ONNX.ModelPath,
				Threads:   a.Config.ONNX.Threads,
			},
			InputSize:  dc.ONNX.InputSize,
			Confidence: dc.Confidence,
			IoU:        dc.ONNX.IoU,
			Format:     onnx.OutputFormat(strings.ToLower(dc.ONNX.Format)),
			Labels:     dc.ONNX.Labels,
		})

	case config.BackendHTTP:
		c, err := inference.NewClient(dc.HTTP.URL, dc.HTTP.Timeout)
		if err != nil {
			return nil, err
		}
		if err := c.CheckHealth(ctx); err != nil {
			return nil, err
		}
		c.Confidence = dc.Confidence
		// the server may ignore conf, so filter locally as well
		return detection.WithConfidence(c, dc.Confidence), nil

	case config.BackendCloudVision:
		d, err := cloudvision.NewDetector(ctx, dc.CloudVision.Labels, dc.CloudVision.MaxSide)
		if err != nil {
			return nil, err
		}
		return detection.WithConfidence(d, dc.Confidence), nil

	case config.BackendOllama:
		c, err := ollama.NewClient(dc.VLM.URL)
		if err != nil {
			return nil, err
		}
		return detection.WithConfidence(detection.NewVisionModelDetector(c, dc.VLM.Model, dc.VLM.MaxSide), dc.Confidence), nil

	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(dc.VLM.URL)
		if err != nil {
			return nil, err
		}
		return detection.WithConfidence(detection.NewVisionModelDetector(c, dc.VLM.Model, dc.VLM.MaxSide), dc.Confidence), nil

	case config.BackendSaliency:
		// saliency scores are relative to the strongest window, not calibrated
		return vision.New(), nil
	}

	return nil, fmt.Errorf("unknown backend %q", dc.Backend)
}

func (a *App) buildEmbedder(ctx context.Context) (embedding.Embedder, error) {
	ec := a.Config.Embedder

	switch ec.Backend {
	case config.BackendONNX:
		layout, err := embedding.ParseLayout(ec.Layout)
		if err != nil {
			return nil, err
		}
		if err := a.initONNX(); err != nil {
			return nil, err
		}
		return onnx.NewVGGEmbedder(onnx.VGGOptions{
			SessionOptions: onnx.SessionOptions{
				ModelPath: ec.ModelPath,
				Threads:   a.Config.ONNX.Threads,
			},
			Preprocess: embedding.PreprocessOptions{Size: ec.InputSize, Layout: layout},
			Dim:        ec.Dim,
		})

	case config.BackendHTTP:
		c, err := inference.NewClient(ec.HTTP.URL, ec.HTTP.Timeout)
		if err != nil {
			return nil, err
		}
		if err := c.CheckHealth(ctx); err != nil {
			return nil, err
		}
		return withDim(c, ec.Dim), nil
	}

	return nil, fmt.Errorf("unknown backend %q", ec.Backend)
}

// withDim rejects vectors whose width differs from dim. Zero accepts any.
func withDim(e embedding.Embedder, dim int) embedding.Embedder {
	if dim <= 0 {
		return e
	}
	return embedding.EmbedderFunc(func(ctx context.Context, img image.Image) (types.Embedding, error) {
		v, err := e.Embed(ctx, img)
		if err != nil {
			return nil, err
		}
		if v.Dim() != dim {
			return nil, fmt.Errorf("%w: got %d values, want %d", embedding.ErrUnexpectedOutput, v.Dim(), dim)
		}
		return v, nil
	})
}

func closeIfCloser(v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logging.Printf("close failed: %v", err)
		}
	}
}
