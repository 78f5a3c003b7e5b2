// Package onnx runs the detection and embedding models in-process through
// ONNX Runtime.
package onnx

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// ErrNotInitialized is returned when a model is loaded before Init
var ErrNotInitialized = errors.New("onnxruntime environment not initialized")

// Init loads the ONNX Runtime shared library and initializes the
// process-wide environment. Only the first call has any effect.
func Init(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("initializing onnxruntime: %w", err)
		}
	})
	return envErr
}

// Shutdown releases the ONNX Runtime environment
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// SessionOptions describes how a model is opened
type SessionOptions struct {
	ModelPath  string
	InputName  string
	OutputName string
	Threads    int
}

// session binds one model to fixed input and output tensors.
// Run must not be called concurrently.
type session struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	outShape ort.Shape
}

// newSession opens a model. inputShape is used for dynamic input dimensions.
func newSession(opts SessionOptions, inputShape ort.Shape) (*session, error) {
	if !ort.IsInitialized() {
		return nil, ErrNotInitialized
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", opts.ModelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no inputs or outputs", opts.ModelPath)
	}

	inName := opts.InputName
	if inName == "" {
		inName = inputs[0].Name
	}
	outName := opts.OutputName
	outInfo := outputs[0]
	for _, o := range outputs {
		if o.Name == outName {
			outInfo = o
		}
	}
	if outName == "" {
		outName = outInfo.Name
	}

	inShape := inputShape
	if inShape == nil {
		inShape = staticShape(inputs[0].Dimensions, nil)
	}
	outShape := staticShape(outInfo.Dimensions, nil)

	input, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor %v: %w", inShape, err)
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("creating output tensor %v: %w", outShape, err)
	}

	var sessOpts *ort.SessionOptions
	if opts.Threads > 0 {
		sessOpts, err = ort.NewSessionOptions()
		if err != nil {
			input.Destroy()
			output.Destroy()
			return nil, err
		}
		defer sessOpts.Destroy()
		if err := sessOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			input.Destroy()
			output.Destroy()
			return nil, err
		}
	}

	s, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{inName}, []string{outName},
		[]ort.Value{input}, []ort.Value{output}, sessOpts)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("creating session for %s: %w", opts.ModelPath, err)
	}

	return &session{session: s, input: input, output: output, outShape: outShape}, nil
}

// run copies data into the input tensor, runs the model and returns a copy
// of the output
func (s *session) run(data []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.input.GetData()
	if len(data) != len(in) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(data), len(in))
	}
	copy(in, data)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("running model: %w", err)
	}

	out := s.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
		s.session = nil
	}
	if s.input != nil {
		errs = append(errs, s.input.Destroy())
		s.input = nil
	}
	if s.output != nil {
		errs = append(errs, s.output.Destroy())
		s.output = nil
	}
	return errors.Join(errs...)
}

// staticShape replaces dynamic dimensions. Dimension i takes fill[i] when
// present, otherwise 1.
func staticShape(dims ort.Shape, fill []int64) ort.Shape {
	out := make(ort.Shape, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			out[i] = d
		case i < len(fill) && fill[i] > 0:
			out[i] = fill[i]
		default:
			out[i] = 1
		}
	}
	return out
}
