// Package embedding turns image crops into feature vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/parcel-matcher/pkg/types"
)

const (
	// InputSize is the square side VGG16 expects
	InputSize = 224
	// FC2Dim is the width of the VGG16 fc2 layer
	FC2Dim = 4096
)

// ImageNet channel means in BGR order, as used by the caffe-style VGG16 weights
var CaffeMean = [3]float32{103.939, 116.779, 123.68}

var (
	// ErrEmptyImage is returned for images with no pixels
	ErrEmptyImage = errors.New("empty image")
	// ErrUnexpectedOutput is returned when a model produces a vector of the wrong shape
	ErrUnexpectedOutput = errors.New("unexpected model output")
)

// Embedder maps an image to a feature vector
type Embedder interface {
	Embed(ctx context.Context, img image.Image) (types.Embedding, error)
}

// EmbedderFunc adapts a function to the Embedder interface
type EmbedderFunc func(ctx context.Context, img image.Image) (types.Embedding, error)

func (f EmbedderFunc) Embed(ctx context.Context, img image.Image) (types.Embedding, error) {
	return f(ctx, img)
}

// Layout is the memory order of the input tensor
type Layout string

const (
	// NHWC is the channels-last order of Keras exports
	NHWC Layout = "nhwc"
	// NCHW is the channels-first order of PyTorch exports
	NCHW Layout = "nchw"
)

// ParseLayout converts a config value to a Layout
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case NHWC, "":
		return NHWC, nil
	case NCHW:
		return NCHW, nil
	}
	return "", fmt.Errorf("unknown tensor layout %q (want nhwc or nchw)", s)
}

// PreprocessOptions controls how images are turned into model input
type PreprocessOptions struct {
	Size   int
	Layout Layout
}

// DefaultPreprocessOptions matches the Keras VGG16 export
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{Size: InputSize, Layout: NHWC}
}

// Shape returns the batch-of-one tensor shape for the options
func (o PreprocessOptions) Shape() []int64 {
	s := int64(o.Size)
	if o.Layout == NCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}

// Preprocess resizes img to a square of opts.Size pixels, ignoring aspect
// ratio, and applies caffe normalization: RGB is reordered to BGR and the
// ImageNet channel means are subtracted. Values are not scaled.
//
// The resize uses imaging.Linear, a triangle filter whose support widens
// when shrinking, so large photos are antialiased rather than point-sampled
// between the two nearest pixels.
func Preprocess(img image.Image, opts PreprocessOptions) ([]float32, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	size := opts.Size
	if size <= 0 {
		size = InputSize
	}

	resized := imaging.Resize(img, size, size, imaging.Linear)
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			p := row[x*4:]
			// BGR order
			bgr := [3]float32{
				float32(p[2]) - CaffeMean[0],
				float32(p[1]) - CaffeMean[1],
				float32(p[0]) - CaffeMean[2],
			}
			i := y*size + x
			if opts.Layout == NCHW {
				data[i] = bgr[0]
				data[plane+i] = bgr[1]
				data[2*plane+i] = bgr[2]
			} else {
				data[i*3] = bgr[0]
				data[i*3+1] = bgr[1]
				data[i*3+2] = bgr[2]
			}
		}
	}

	return data, nil
}

// Flatten copies model output into a 1-D embedding, checking its length
// when want is positive
func Flatten(out []float32, want int) (types.Embedding, error) {
	if want > 0 && len(out) != want {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrUnexpectedOutput, len(out), want)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrUnexpectedOutput)
	}
	emb := make(types.Embedding, len(out))
	copy(emb, out)
	return emb, nil
}
