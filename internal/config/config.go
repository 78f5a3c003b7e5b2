package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "PARCEL_MATCHER_"

// Detector backends
const (
	BackendONNX        = "onnx"
	BackendHTTP        = "http"
	BackendCloudVision = "cloudvision"
	BackendOllama      = "ollama"
	BackendLlamaCpp    = "llamacpp"
	BackendSaliency    = "saliency"
)

// Config holds the application configuration
type Config struct {
	ONNX       ONNXConfig       `yaml:"onnx"`
	Detector   DetectorConfig   `yaml:"detector"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Cropper    CropperConfig    `yaml:"cropper"`
	Lookup     LookupConfig     `yaml:"lookup"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
}

// ONNXConfig locates the ONNX Runtime shared library
type ONNXConfig struct {
	LibraryPath string `yaml:"library_path"`
	Threads     int    `yaml:"threads"`
}

// DetectorConfig selects and configures the detection backend
type DetectorConfig struct {
	Backend    string  `yaml:"backend"`
	Confidence float64 `yaml:"confidence"`

	ONNX        YOLOConfig        `yaml:"onnx"`
	HTTP        HTTPConfig        `yaml:"http"`
	CloudVision CloudVisionConfig `yaml:"cloudvision"`
	VLM         VLMConfig         `yaml:"vlm"`
}

// YOLOConfig configures the in-process YOLO detector
type YOLOConfig struct {
	ModelPath string   `yaml:"model_path"`
	InputSize int      `yaml:"input_size"`
	IoU       float64  `yaml:"iou"`
	Format    string   `yaml:"format"`
	Labels    []string `yaml:"labels,omitempty"`
}

// HTTPConfig points at a model server
type HTTPConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CloudVisionConfig configures Google Cloud Vision object localization
type CloudVisionConfig struct {
	Labels  []string `yaml:"labels,omitempty"`
	MaxSide int      `yaml:"max_side"`
}

// VLMConfig configures the vision language model detector
type VLMConfig struct {
	URL     string `yaml:"url"`
	Model   string `yaml:"model"`
	MaxSide int    `yaml:"max_side"`
}

// EmbedderConfig selects and configures the embedding backend
type EmbedderConfig struct {
	Backend   string     `yaml:"backend"`
	ModelPath string     `yaml:"model_path"`
	InputSize int        `yaml:"input_size"`
	Layout    string     `yaml:"layout"`
	Dim       int        `yaml:"dim"`
	HTTP      HTTPConfig `yaml:"http"`
}

// SimilarityConfig holds the match decision threshold
type SimilarityConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// CropperConfig holds configuration for cropping
type CropperConfig struct {
	Policy       string  `yaml:"policy"`
	PaddingRatio float64 `yaml:"padding_ratio"`
	Fallback     bool    `yaml:"fallback"`
}

// LookupConfig locates the identifier file
type LookupConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures log output
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Verbose    bool   `yaml:"verbose"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	MaxUploadMB  int           `yaml:"max_upload_mb"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		ONNX: ONNXConfig{
			LibraryPath: "",
			Threads:     0,
		},
		Detector: DetectorConfig{
			Backend:    BackendONNX,
			Confidence: 0.85,
			ONNX: YOLOConfig{
				ModelPath: "./weights/v5_30.onnx",
				InputSize: 640,
				IoU:       0.7,
				Format:    "auto",
			},
			HTTP: HTTPConfig{
				URL:     "http://localhost:8000",
				Timeout: 60 * time.Second,
			},
			CloudVision: CloudVisionConfig{
				MaxSide: 1600,
			},
			VLM: VLMConfig{
				URL:     "http://localhost:11434",
				Model:   "qwen2.5vl:7b",
				MaxSide: 1536,
			},
		},
		Embedder: EmbedderConfig{
			Backend:   BackendONNX,
			ModelPath: "./weights/vgg16_fc2.onnx",
			InputSize: 224,
			Layout:    "nhwc",
			Dim:       4096,
			HTTP: HTTPConfig{
				URL:     "http://localhost:8000",
				Timeout: 60 * time.Second,
			},
		},
		Similarity: SimilarityConfig{
			Threshold: 0.5,
		},
		Cropper: CropperConfig{
			Policy: "last",
		},
		Lookup: LookupConfig{
			Path: "./AWB.txt",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxUploadMB:  32,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// PARCEL_MATCHER_* environment variables, in that order
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides values from PARCEL_MATCHER_* environment variables
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"ONNX_LIBRARY_PATH":   &c.ONNX.LibraryPath,
		"DETECTOR_BACKEND":    &c.Detector.Backend,
		"DETECTOR_MODEL_PATH": &c.Detector.ONNX.ModelPath,
		"DETECTOR_URL":        &c.Detector.HTTP.URL,
		"VLM_URL":             &c.Detector.VLM.URL,
		"VLM_MODEL":           &c.Detector.VLM.Model,
		"EMBEDDER_BACKEND":    &c.Embedder.Backend,
		"EMBEDDER_MODEL_PATH": &c.Embedder.ModelPath,
		"EMBEDDER_URL":        &c.Embedder.HTTP.URL,
		"EMBEDDER_LAYOUT":     &c.Embedder.Layout,
		"CROPPER_POLICY":      &c.Cropper.Policy,
		"LOOKUP_PATH":         &c.Lookup.Path,
		"LOG_FILE":            &c.Log.File,
		"SERVER_ADDR":         &c.Server.Addr,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"DETECTOR_CONFIDENCE":  &c.Detector.Confidence,
		"SIMILARITY_THRESHOLD": &c.Similarity.Threshold,
	}
	for key, dst := range floats {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"ONNX_THREADS": &c.ONNX.Threads,
		"EMBEDDER_DIM": &c.Embedder.Dim,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "VERBOSE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sVERBOSE: %w", EnvPrefix, err)
		}
		c.Log.Verbose = b
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Detector.Backend {
	case BackendONNX:
		if c.Detector.ONNX.ModelPath == "" {
			return fmt.Errorf("detector.onnx.model_path is required for the onnx backend")
		}
	case BackendHTTP:
		if c.Detector.HTTP.URL == "" {
			return fmt.Errorf("detector.http.url is required for the http backend")
		}
	case BackendOllama, BackendLlamaCpp:
		if c.Detector.VLM.URL == "" || c.Detector.VLM.Model == "" {
			return fmt.Errorf("detector.vlm.url and detector.vlm.model are required for the %s backend", c.Detector.Backend)
		}
	case BackendCloudVision, BackendSaliency:
	default:
		return fmt.Errorf("detector.backend must be one of onnx, http, cloudvision, ollama, llamacpp, saliency (got %q)", c.Detector.Backend)
	}

	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		return fmt.Errorf("detector.confidence must be between 0 and 1")
	}
	if c.Detector.ONNX.IoU < 0 || c.Detector.ONNX.IoU > 1 {
		return fmt.Errorf("detector.onnx.iou must be between 0 and 1")
	}

	switch c.Embedder.Backend {
	case BackendONNX:
		if c.Embedder.ModelPath == "" {
			return fmt.Errorf("embedder.model_path is required for the onnx backend")
		}
	case BackendHTTP:
		if c.Embedder.HTTP.URL == "" {
			return fmt.Errorf("embedder.http.url is required for the http backend")
		}
	default:
		return fmt.Errorf("embedder.backend must be onnx or http (got %q)", c.Embedder.Backend)
	}

	if c.Embedder.InputSize < 1 {
		return fmt.Errorf("embedder.input_size must be positive")
	}
	if c.Embedder.Dim < 0 {
		return fmt.Errorf("embedder.dim cannot be negative")
	}
	if l := strings.ToLower(c.Embedder.Layout); l != "nhwc" && l != "nchw" {
		return fmt.Errorf("embedder.layout must be nhwc or nchw")
	}

	if c.Similarity.Threshold < -1 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity.threshold must be between -1 and 1")
	}

	switch c.Cropper.Policy {
	case "last", "highest_score", "largest":
	default:
		return fmt.Errorf("cropper.policy must be one of last, highest_score, largest")
	}
	if c.Cropper.PaddingRatio < 0 || c.Cropper.PaddingRatio > 1 {
		return fmt.Errorf("cropper.padding_ratio must be between 0 and 1")
	}

	if c.Lookup.Path == "" {
		return fmt.Errorf("lookup.path cannot be empty")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "parcel-matcher", "config.yaml")
}
