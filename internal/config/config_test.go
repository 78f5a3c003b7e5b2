package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.85, cfg.Detector.Confidence)
	assert.Equal(t, 0.5, cfg.Similarity.Threshold)
	assert.Equal(t, 224, cfg.Embedder.InputSize)
	assert.Equal(t, 4096, cfg.Embedder.Dim)
	assert.Equal(t, "./weights/v5_30.onnx", cfg.Detector.ONNX.ModelPath)
	assert.Equal(t, "./AWB.txt", cfg.Lookup.Path)
	assert.Equal(t, "last", cfg.Cropper.Policy)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
detector:
  backend: http
  confidence: 0.6
  http:
    url: http://models:9000
    timeout: 15s
similarity:
  threshold: 0.7
lookup:
  path: /data/awb.txt
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendHTTP, cfg.Detector.Backend)
	assert.Equal(t, 0.6, cfg.Detector.Confidence)
	assert.Equal(t, "http://models:9000", cfg.Detector.HTTP.URL)
	assert.Equal(t, 15*time.Second, cfg.Detector.HTTP.Timeout)
	assert.Equal(t, 0.7, cfg.Similarity.Threshold)
	assert.Equal(t, "/data/awb.txt", cfg.Lookup.Path)

	// untouched sections keep their defaults
	assert.Equal(t, 224, cfg.Embedder.InputSize)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lookup:\n  path: from-file.txt\n"), 0o644))

	t.Setenv("PARCEL_MATCHER_LOOKUP_PATH", "from-env.txt")
	t.Setenv("PARCEL_MATCHER_SIMILARITY_THRESHOLD", "0.42")
	t.Setenv("PARCEL_MATCHER_ONNX_THREADS", "4")
	t.Setenv("PARCEL_MATCHER_VERBOSE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.txt", cfg.Lookup.Path)
	assert.Equal(t, 0.42, cfg.Similarity.Threshold)
	assert.Equal(t, 4, cfg.ONNX.Threads)
	assert.True(t, cfg.Log.Verbose)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("PARCEL_MATCHER_DETECTOR_CONFIDENCE", "high")

	_, err := Load("")
	assert.ErrorContains(t, err, "PARCEL_MATCHER_DETECTOR_CONFIDENCE")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detector: [unclosed"), 0o644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Cropper.Policy = "largest"
	cfg.Detector.ONNX.Labels = []string{"parcel", "label"}
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown detector", func(c *Config) { c.Detector.Backend = "yolo" }, "detector.backend"},
		{"confidence", func(c *Config) { c.Detector.Confidence = 1.5 }, "detector.confidence"},
		{"vlm model", func(c *Config) { c.Detector.Backend = BackendOllama; c.Detector.VLM.Model = "" }, "detector.vlm"},
		{"embedder backend", func(c *Config) { c.Embedder.Backend = "tf" }, "embedder.backend"},
		{"layout", func(c *Config) { c.Embedder.Layout = "chw" }, "embedder.layout"},
		{"threshold", func(c *Config) { c.Similarity.Threshold = 2 }, "similarity.threshold"},
		{"policy", func(c *Config) { c.Cropper.Policy = "first" }, "cropper.policy"},
		{"lookup", func(c *Config) { c.Lookup.Path = "" }, "lookup.path"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "server.max_upload_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateAcceptsModelFreeBackends(t *testing.T) {
	for _, backend := range []string{BackendSaliency, BackendCloudVision} {
		cfg := Default()
		cfg.Detector.Backend = backend
		assert.NoError(t, cfg.Validate(), backend)
	}
}
