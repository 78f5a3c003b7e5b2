// Package inference talks to a model server hosting the original PyTorch
// and Keras weights over HTTP.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/embedding"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// DefaultTimeout bounds a single inference request
const DefaultTimeout = 60 * time.Second

// Box is a detection as returned by the model server
type Box struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
}

// PredictResponse is the body of POST /predict
type PredictResponse struct {
	Detections []Box `json:"detections"`
}

// EmbedResponse is the body of POST /embed/image
type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dim       int       `json:"dim"`
	Model     string    `json:"model"`
}

// Client calls the model server
type Client struct {
	baseURL    string
	httpClient *http.Client
	processor  *processing.Processor
	// Confidence is sent with every predict request
	Confidence float64
}

var (
	_ detection.Detector = (*Client)(nil)
	_ embedding.Embedder = (*Client)(nil)
)

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid inference URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported inference URL scheme: %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		httpClient: &http.Client{Timeout: timeout},
		processor:  processing.NewProcessor(),
		Confidence: detection.DefaultConfidence,
	}, nil
}

// Detect sends img to POST /predict and converts the returned boxes
func (c *Client) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	var result PredictResponse
	fields := map[string]string{"conf": fmt.Sprintf("%g", c.Confidence)}
	if err := c.postImage(ctx, "/predict", img, fields, &result); err != nil {
		return nil, err
	}

	dets := make([]types.Detection, 0, len(result.Detections))
	for _, b := range result.Detections {
		dets = append(dets, types.Detection{
			Box:     types.Box{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2},
			Score:   b.Confidence,
			Label:   b.Class,
			ClassID: b.ClassID,
		})
	}
	return dets, nil
}

// Embed sends img to POST /embed/image and returns the feature vector
func (c *Client) Embed(ctx context.Context, img image.Image) (types.Embedding, error) {
	if img.Bounds().Empty() {
		return nil, embedding.ErrEmptyImage
	}

	var result EmbedResponse
	if err := c.postImage(ctx, "/embed/image", img, nil, &result); err != nil {
		return nil, err
	}
	return embedding.Flatten(result.Embedding, result.Dim)
}

// CheckHealth calls GET /health
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", detection.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: model server unhealthy: %d", detection.ErrModelUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) postImage(ctx context.Context, path string, img image.Image, fields map[string]string, out any) error {
	// png keeps the crop lossless for the embedder
	data, err := c.processor.EncodeImage(img, "png", 0)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("copy image data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", detection.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inference %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
