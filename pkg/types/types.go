package types

import (
	"image"
	"math"
)

// Box is a bounding box in pixel coordinates of the source image.
// (X1, Y1) is the top-left corner, (X2, Y2) the bottom-right one.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box
func (b Box) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box
func (b Box) Height() float64 {
	return b.Y2 - b.Y1
}

// Area returns the box area, zero for inverted boxes
func (b Box) Area() float64 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// Rect converts the box to an integer rectangle, truncating every coordinate
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// BoxFromNormalized converts a box in [0,1] coordinates to pixels
func BoxFromNormalized(x1, y1, x2, y2 float64, width, height int) Box {
	return Box{
		X1: x1 * float64(width),
		Y1: y1 * float64(height),
		X2: x2 * float64(width),
		Y2: y2 * float64(height),
	}
}

// Detection is a single object found by a detector
type Detection struct {
	Box     Box     `json:"box"`
	Score   float64 `json:"score"`
	Label   string  `json:"label,omitempty"`
	ClassID int     `json:"class_id"`
}

// Embedding is a feature vector produced by an embedder
type Embedding []float32

// Dim returns the number of components
func (e Embedding) Dim() int {
	return len(e)
}

// Norm returns the euclidean magnitude of the vector
func (e Embedding) Norm() float64 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Decision is the outcome of comparing two embeddings
type Decision struct {
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Match      bool    `json:"match"`
}

// Side describes what the pipeline extracted from one of the two images
type Side struct {
	Source       string      `json:"source,omitempty"`
	Selected     Detection   `json:"selected"`
	Detections   []Detection `json:"detections"`
	EmbeddingDim int         `json:"embedding_dim"`
}

// MatchResult is the full result of matching two images
type MatchResult struct {
	ID        string   `json:"id"`
	Decision  Decision `json:"decision"`
	AWB       string   `json:"awb,omitempty"`
	Query     Side     `json:"query"`
	Reference Side     `json:"reference"`
}
