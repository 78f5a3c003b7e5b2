package onnx

import (
	"context"
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/menta2k/parcel-matcher/pkg/embedding"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// VGGOptions configures a VGGEmbedder
type VGGOptions struct {
	SessionOptions
	Preprocess embedding.PreprocessOptions
	// Dim is the expected embedding width, 0 accepts any
	Dim int
}

// VGGEmbedder runs VGG16 truncated at its fc2 layer
type VGGEmbedder struct {
	sess *session
	opts VGGOptions
}

var _ embedding.Embedder = (*VGGEmbedder)(nil)

// NewVGGEmbedder loads the model. Init must have been called.
func NewVGGEmbedder(opts VGGOptions) (*VGGEmbedder, error) {
	if opts.Preprocess.Size <= 0 {
		opts.Preprocess.Size = embedding.InputSize
	}
	if opts.Preprocess.Layout == "" {
		opts.Preprocess.Layout = embedding.NHWC
	}

	sess, err := newSession(opts.SessionOptions, ort.Shape(opts.Preprocess.Shape()))
	if err != nil {
		return nil, err
	}

	if opts.Dim > 0 && int(sess.outShape.FlattenedSize()) != opts.Dim {
		sess.close()
		return nil, fmt.Errorf("%w: model output %v, want %d values", embedding.ErrUnexpectedOutput, sess.outShape, opts.Dim)
	}

	return &VGGEmbedder{sess: sess, opts: opts}, nil
}

// Embed preprocesses img and returns the fc2 activations
func (e *VGGEmbedder) Embed(ctx context.Context, img image.Image) (types.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := embedding.Preprocess(img, e.opts.Preprocess)
	if err != nil {
		return nil, err
	}

	out, err := e.sess.run(input)
	if err != nil {
		return nil, err
	}
	return embedding.Flatten(out, e.opts.Dim)
}

// Close releases the session
func (e *VGGEmbedder) Close() error {
	return e.sess.close()
}
