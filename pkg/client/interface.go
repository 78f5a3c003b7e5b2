// Package client defines the contract for vision language model backends
// that can locate objects in an image.
package client

import (
	"context"

	"github.com/menta2k/parcel-matcher/pkg/types"
)

// VisionClient asks a model for object boxes in a base64 encoded image
type VisionClient interface {
	LocateObjects(ctx context.Context, model, prompt, imgB64 string) (*types.LocateResult, error)
}
