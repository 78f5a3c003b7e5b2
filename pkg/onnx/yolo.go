package onnx

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

const (
	// DefaultInputSize is the square side YOLO exports use
	DefaultInputSize = 640
	// DefaultIoU is the NMS overlap threshold
	DefaultIoU = 0.7

	letterboxFill = 114
)

// OutputFormat identifies the head layout of a YOLO export
type OutputFormat string

const (
	// FormatAuto picks the layout from the output shape
	FormatAuto OutputFormat = "auto"
	// FormatV8 is [1, 4+nc, N] without objectness (also yolov5u exports)
	FormatV8 OutputFormat = "v8"
	// FormatV5 is [1, N, 5+nc] with an objectness column
	FormatV5 OutputFormat = "v5"
)

// YOLOOptions configures a YOLODetector
type YOLOOptions struct {
	SessionOptions
	InputSize  int
	Confidence float64
	IoU        float64
	Format     OutputFormat
	Labels     []string
}

// YOLODetector runs a YOLO ONNX export
type YOLODetector struct {
	sess   *session
	opts   YOLOOptions
	format OutputFormat
}

var _ detection.Detector = (*YOLODetector)(nil)

// NewYOLODetector loads the model. Init must have been called.
func NewYOLODetector(opts YOLOOptions) (*YOLODetector, error) {
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}
	if opts.IoU <= 0 {
		opts.IoU = DefaultIoU
	}
	size := int64(opts.InputSize)

	sess, err := newSession(opts.SessionOptions, ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, err
	}

	format, err := resolveFormat(opts.Format, sess.outShape)
	if err != nil {
		sess.close()
		return nil, err
	}

	return &YOLODetector{sess: sess, opts: opts, format: format}, nil
}

// Detect returns detections scoring at least the configured confidence,
// after NMS, ordered by descending score
func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, nil
	}

	tensor, lb := Letterbox(img, d.opts.InputSize)
	out, err := d.sess.run(tensor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", detection.ErrModelUnavailable, err)
	}

	var raw []types.Detection
	switch d.format {
	case FormatV5:
		raw = DecodeV5(out, d.sess.outShape, d.opts.Confidence)
	default:
		raw = DecodeV8(out, d.sess.outShape, d.opts.Confidence)
	}

	dets := detection.NMS(raw, d.opts.IoU)
	b := img.Bounds()
	for i := range dets {
		dets[i].Box = lb.Unmap(dets[i].Box)
		if dets[i].ClassID < len(d.opts.Labels) {
			dets[i].Label = d.opts.Labels[dets[i].ClassID]
		}
	}
	return detection.ClipToImage(dets, b.Dx(), b.Dy()), nil
}

// Close releases the session
func (d *YOLODetector) Close() error {
	return d.sess.close()
}

func resolveFormat(f OutputFormat, shape ort.Shape) (OutputFormat, error) {
	if len(shape) != 3 {
		return "", fmt.Errorf("unsupported YOLO output shape %v", shape)
	}
	switch f {
	case FormatV5, FormatV8:
		return f, nil
	case FormatAuto, "":
		// anchors outnumber attributes in both layouts
		if shape[1] < shape[2] {
			return FormatV8, nil
		}
		return FormatV5, nil
	}
	return "", fmt.Errorf("unknown YOLO output format %q", f)
}

// LetterboxInfo maps model coordinates back to the source image
type LetterboxInfo struct {
	Scale float64
	PadX  float64
	PadY  float64
}

// Unmap converts a box from letterboxed input space to source pixels
func (l LetterboxInfo) Unmap(b types.Box) types.Box {
	return types.Box{
		X1: (b.X1 - l.PadX) / l.Scale,
		Y1: (b.Y1 - l.PadY) / l.Scale,
		X2: (b.X2 - l.PadX) / l.Scale,
		Y2: (b.Y2 - l.PadY) / l.Scale,
	}
}

// Letterbox scales img to fit a size×size square, keeping its aspect ratio,
// pads the rest with gray and returns a [1,3,size,size] RGB tensor in [0,1]
func Letterbox(img image.Image, size int) ([]float32, LetterboxInfo) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(int(float64(w)*scale+0.5), 1)
	nh := max(int(float64(h)*scale+0.5), 1)
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	resized := imaging.Resize(img, nw, nh, imaging.Linear)

	plane := size * size
	data := make([]float32, 3*plane)
	fill := float32(letterboxFill) / 255
	for i := range data {
		data[i] = fill
	}

	for y := 0; y < nh; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < nw; x++ {
			p := row[x*4:]
			i := (y+padY)*size + x + padX
			data[i] = float32(p[0]) / 255
			data[plane+i] = float32(p[1]) / 255
			data[2*plane+i] = float32(p[2]) / 255
		}
	}

	return data, LetterboxInfo{Scale: scale, PadX: float64(padX), PadY: float64(padY)}
}

// DecodeV8 reads a [1, 4+nc, N] output. Each column holds cx, cy, w, h
// followed by one score per class.
func DecodeV8(out []float32, shape ort.Shape, conf float64) []types.Detection {
	if len(shape) != 3 || shape[1] < 5 {
		return nil
	}
	attrs, n := int(shape[1]), int(shape[2])
	if len(out) < attrs*n {
		return nil
	}

	var dets []types.Detection
	for i := 0; i < n; i++ {
		classID, score := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if s := out[c*n+i]; s > score {
				classID, score = c-4, s
			}
		}
		if classID < 0 || float64(score) < conf {
			continue
		}
		dets = append(dets, types.Detection{
			Box:     xywhToBox(out[i], out[n+i], out[2*n+i], out[3*n+i]),
			Score:   float64(score),
			ClassID: classID,
		})
	}
	return dets
}

// DecodeV5 reads a [1, N, 5+nc] output. Each row holds cx, cy, w, h,
// objectness and one score per class; the final score is their product.
func DecodeV5(out []float32, shape ort.Shape, conf float64) []types.Detection {
	if len(shape) != 3 || shape[2] < 6 {
		return nil
	}
	n, attrs := int(shape[1]), int(shape[2])
	if len(out) < attrs*n {
		return nil
	}

	var dets []types.Detection
	for i := 0; i < n; i++ {
		row := out[i*attrs : (i+1)*attrs]
		obj := row[4]
		if float64(obj) < conf {
			continue
		}
		classID, best := -1, float32(0)
		for c := 5; c < attrs; c++ {
			if row[c] > best {
				classID, best = c-5, row[c]
			}
		}
		score := float64(obj * best)
		if classID < 0 || score < conf {
			continue
		}
		dets = append(dets, types.Detection{
			Box:     xywhToBox(row[0], row[1], row[2], row[3]),
			Score:   score,
			ClassID: classID,
		})
	}
	return dets
}

func xywhToBox(cx, cy, w, h float32) types.Box {
	return types.Box{
		X1: float64(cx - w/2),
		Y1: float64(cy - h/2),
		X2: float64(cx + w/2),
		Y2: float64(cy + h/2),
	}
}
