package types

// NormalizedBox is a box as reported by vision language models, with
// coordinates in the [0,1] range relative to the image size
type NormalizedBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// LocatedObject is one object reported by a vision language model
type LocatedObject struct {
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Box        NormalizedBox `json:"box"`
}

// LocateResult contains the parsed answer of a vision language model
type LocateResult struct {
	Objects     []LocatedObject `json:"objects"`
	Description string          `json:"description"`
}
