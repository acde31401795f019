// Package config loads docuflow configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete docuflow configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	DataDir     string            `yaml:"data_dir" json:"data_dir"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Queue       QueueConfig       `yaml:"queue" json:"queue"`
	ObjectStore ObjectStoreConfig `yaml:"object_store" json:"object_store"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Model       ModelConfig       `yaml:"model" json:"model"`
	Pipeline    PipelineConfig    `yaml:"pipeline" json:"pipeline"`
	Defaults    DocumentDefaults  `yaml:"defaults" json:"defaults"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// QueueConfig configures the NATS track queues.
type QueueConfig struct {
	// URL is the NATS server URL.
	URL string `yaml:"url" json:"url"`
	// SubjectPrefix prefixes all track subjects (default: "docuflow").
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
	// MaxRetries before a message is sent to the DLQ.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// ObjectStoreConfig configures the S3-compatible object store.
type ObjectStoreConfig struct {
	// Bucket holds uploads and derived artifacts.
	Bucket string `yaml:"bucket" json:"bucket"`
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the S3 endpoint (MinIO, localstack). Empty uses AWS.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// ForcePathStyle is required for most S3-compatible servers.
	ForcePathStyle bool `yaml:"force_path_style" json:"force_path_style"`
	// PresignTTL is the default lifetime for presigned URLs.
	PresignTTL time.Duration `yaml:"presign_ttl" json:"presign_ttl"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" or "static" (offline, deterministic).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	// Endpoint overrides the OpenAI-compatible base URL.
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// ModelConfig configures the LLM used by the segment analyzer and summarizer.
type ModelConfig struct {
	ChatModel   string `yaml:"chat_model" json:"chat_model"`
	VisionModel string `yaml:"vision_model" json:"vision_model"`
	// Endpoint overrides the OpenAI-compatible base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// MaxIterations bounds the analyzer tool loop per segment.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

// PipelineConfig configures orchestration timing and parallelism.
type PipelineConfig struct {
	// PollInterval is the preprocess-status polling cadence (default: 10s).
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// PollBudget is the maximum wall-clock spent polling (default: 30m).
	PollBudget time.Duration `yaml:"poll_budget" json:"poll_budget"`
	// AnalysisParallelism caps concurrent segment analyses per workflow (default: 4).
	AnalysisParallelism int `yaml:"analysis_parallelism" json:"analysis_parallelism"`
	// StepTimeout is the wall-clock budget per step.
	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`
}

// DocumentDefaults are the hard defaults for per-document settings, applied
// after document and project values.
type DocumentDefaults struct {
	Language       string            `yaml:"language" json:"language"`
	UseBDA         bool              `yaml:"use_bda" json:"use_bda"`
	UseOCR         bool              `yaml:"use_ocr" json:"use_ocr"`
	UseTranscribe  bool              `yaml:"use_transcribe" json:"use_transcribe"`
	OCRModel       string            `yaml:"ocr_model" json:"ocr_model"`
	OCROptions     map[string]string `yaml:"ocr_options" json:"ocr_options"`
	DocumentPrompt string            `yaml:"document_prompt" json:"document_prompt"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		DataDir: ".docuflow",
		Logging: LoggingConfig{
			Level: "info",
		},
		Queue: QueueConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "docuflow",
			MaxRetries:    3,
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:     "docuflow",
			Region:     "us-east-1",
			PresignTTL: 15 * time.Minute,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  32,
			CacheSize:  1000,
		},
		Model: ModelConfig{
			ChatModel:     "gpt-4o-mini",
			VisionModel:   "gpt-4o",
			MaxIterations: 10,
		},
		Pipeline: PipelineConfig{
			PollInterval:        10 * time.Second,
			PollBudget:          30 * time.Minute,
			AnalysisParallelism: 4,
			StepTimeout:         10 * time.Minute,
		},
		Defaults: DocumentDefaults{
			Language:      "en",
			UseOCR:        true,
			UseBDA:        false,
			UseTranscribe: false,
			OCRModel:      "paddleocr-vl",
			OCROptions:    map[string]string{},
		},
	}
}

// Load reads configuration from path, falling back to defaults for missing
// fields, then applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DOCUFLOW_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DOCUFLOW_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DOCUFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCUFLOW_NATS_URL"); v != "" {
		c.Queue.URL = v
	}
	if v := os.Getenv("DOCUFLOW_S3_BUCKET"); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := os.Getenv("DOCUFLOW_S3_ENDPOINT"); v != "" {
		c.ObjectStore.Endpoint = v
		c.ObjectStore.ForcePathStyle = true
	}
	if v := os.Getenv("DOCUFLOW_S3_REGION"); v != "" {
		c.ObjectStore.Region = v
	}
	if v := os.Getenv("DOCUFLOW_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCUFLOW_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("DOCUFLOW_ANALYSIS_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.AnalysisParallelism = n
		}
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Pipeline.AnalysisParallelism <= 0 {
		return fmt.Errorf("pipeline.analysis_parallelism must be positive, got %d", c.Pipeline.AnalysisParallelism)
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be positive, got %s", c.Pipeline.PollInterval)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative, got %d", c.Queue.MaxRetries)
	}
	switch c.Embeddings.Provider {
	case "openai", "static":
	default:
		return fmt.Errorf("unknown embeddings.provider %q", c.Embeddings.Provider)
	}
	return nil
}
