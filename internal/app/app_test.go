package app

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/parcel-matcher/internal/config"
	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/embedding"
	"github.com/menta2k/parcel-matcher/pkg/inference"
)

// newModelServer serves a fixed detection and a fixed embedding
func newModelServer(t *testing.T, vec []float32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /predict", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(inference.PredictResponse{Detections: []inference.Box{
			{X1: 10, Y1: 10, X2: 50, Y2: 50, Confidence: 0.95, Class: "parcel"},
			{X1: 0, Y1: 0, X2: 5, Y2: 5, Confidence: 0.3, Class: "parcel"},
		}})
	})
	mux.HandleFunc("POST /embed/image", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(inference.EmbedResponse{Embedding: vec, Dim: len(vec)})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, detector, url string) *config.Config {
	t.Helper()
	awb := filepath.Join(t.TempDir(), "AWB.txt")
	require.NoError(t, os.WriteFile(awb, []byte("A1\nA2\n"), 0o644))

	cfg := config.Default()
	cfg.Detector.Backend = detector
	cfg.Detector.HTTP.URL = url
	cfg.Embedder.Backend = config.BackendHTTP
	cfg.Embedder.HTTP.URL = url
	cfg.Embedder.Dim = 3
	cfg.Lookup.Path = awb
	return cfg
}

func parcelImage() image.Image {
	img := imaging.New(96, 96, color.NRGBA{20, 20, 20, 255})
	for y := 30; y < 66; y++ {
		for x := 30; x < 66; x++ {
			img.SetNRGBA(x, y, color.NRGBA{240, 200, 120, 255})
		}
	}
	return img
}

func TestBuildHTTPBackends(t *testing.T) {
	srv := newModelServer(t, []float32{1, 2, 3})
	cfg := testConfig(t, config.BackendHTTP, srv.URL)

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	dets, err := a.Matcher.Detect(context.Background(), parcelImage())
	require.NoError(t, err)
	require.Len(t, dets, 1, "low confidence box filtered locally")

	result, err := a.Matcher.Match(context.Background(), parcelImage(), parcelImage())
	require.NoError(t, err)
	assert.True(t, result.Decision.Match)
	assert.Equal(t, "A2\n", result.AWB)
	assert.Equal(t, 3, result.Query.EmbeddingDim)
}

func TestBuildSaliencyDetector(t *testing.T) {
	srv := newModelServer(t, []float32{1, 0, 0})
	cfg := testConfig(t, config.BackendSaliency, srv.URL)

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	dets, err := a.Matcher.Detect(context.Background(), parcelImage())
	require.NoError(t, err)
	assert.NotEmpty(t, dets)
}

func TestBuildRejectsDimMismatch(t *testing.T) {
	srv := newModelServer(t, []float32{1, 2})
	cfg := testConfig(t, config.BackendHTTP, srv.URL)

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, _, err = a.Matcher.Describe(context.Background(), parcelImage())
	assert.ErrorIs(t, err, embedding.ErrUnexpectedOutput)
}

func TestBuildInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Detector.Backend = "tensorflow"

	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestBuildBadURL(t *testing.T) {
	cfg := testConfig(t, config.BackendHTTP, "ftp://models")

	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "detector:")
}

func TestBuildModelServerDown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, config.BackendSaliency, srv.URL)
	_, err := Build(context.Background(), cfg)
	assert.ErrorIs(t, err, detection.ErrModelUnavailable)
	assert.ErrorContains(t, err, "embedder:")

	cfg.Detector.Backend = config.BackendHTTP
	_, err = Build(context.Background(), cfg)
	assert.ErrorIs(t, err, detection.ErrModelUnavailable)
	assert.ErrorContains(t, err, "detector:")
}

func TestBuildVLMBackends(t *testing.T) {
	for _, backend := range []string{config.BackendOllama, config.BackendLlamaCpp} {
		t.Run(backend, func(t *testing.T) {
			srv := newModelServer(t, []float32{1, 2, 3})
			cfg := testConfig(t, backend, srv.URL)
			cfg.Detector.VLM.URL = "http://localhost:11434"

			a, err := Build(context.Background(), cfg)
			require.NoError(t, err)
			assert.NoError(t, a.Close())
		})
	}
}
