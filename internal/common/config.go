package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Ingestion   IngestionConfig `toml:"ingestion"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// StorageConfig selects and configures the durable storage backend.
// Only "badger" is supported; Type exists so config files and tests can
// name it explicitly and fail loudly on a typo rather than silently.
type StorageConfig struct {
	Type   string       `toml:"type"`
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level       string   `toml:"level"`        // "debug", "info", "warn", "error"
	Format      string   `toml:"format"`       // "json" or "text"
	Output      []string `toml:"output"`       // "stdout", "file"
	ClientDebug bool     `toml:"client_debug"` // Enable client-side debug logging
	TimeFormat  string   `toml:"time_format"`  // Log timestamp layout (default: "15:04:05.000")
}

// IngestionConfig tunes the durable job-queue ingestion engine
// (internal/jobqueue), mirroring spec.md section 6's three settings
// (MAX_JOB_WORKERS, JOB_STEP_BATCH_SIZE, CHUNK_PREFIX) plus the knobs
// needed to wire its Features and HTTP surface.
type IngestionConfig struct {
	MaxJobWorkers      int      `toml:"max_job_workers"`      // Size of the JobQueue's WorkerPool (default: 4)
	JobStepBatchSize   int      `toml:"job_step_batch_size"`  // PENDING steps released per PollMore page (default: 100)
	ChunkPrefix        string   `toml:"chunk_prefix"`         // Prepended to chunk text before embedding (default: "passage: ")
	DataDir            string   `toml:"data_dir"`             // Root directory crawled by the local-filesystem Feature
	DataDirPatterns    []string `toml:"data_dir_patterns"`    // Glob patterns (relative to DataDir) the local-filesystem Feature crawls
	RoutePrefix        string   `toml:"route_prefix"`         // HTTP prefix jobqueuehttp.Handler mounts under (default: "/api/ingestion")
	EmbeddingOllamaURL string   `toml:"embedding_ollama_url"` // Ollama base URL used for chunk embedding
	EmbeddingModel     string   `toml:"embedding_model"`      // Ollama model name used for chunk embedding
	EmbeddingDimension int      `toml:"embedding_dimension"`  // Expected embedding vector length
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Ingestion: IngestionConfig{
			MaxJobWorkers:      4,
			JobStepBatchSize:   100,
			ChunkPrefix:        "passage: ",
			DataDir:            "./data/ingestion",
			DataDirPatterns:    []string{"**/*.md", "**/*.txt", "**/*.pdf"},
			RoutePrefix:        "/api/ingestion",
			EmbeddingOllamaURL: "http://localhost:11434",
			EmbeddingModel:     "nomic-embed-text",
			EmbeddingDimension: 768,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// kvStorage can be nil for backward compatibility (replacement will be skipped)
func LoadFromFile(kvStorage interfaces.KeyValueStorage, path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles(kvStorage)
	}
	return LoadFromFiles(kvStorage, path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files. kvStorage can be nil (replacement will be skipped).
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Perform {key-name} replacement if KV storage is available
	if kvStorage != nil {
		ctx := context.Background()
		kvMap, err := kvStorage.GetAll(ctx)
		if err != nil {
			logger := arbor.NewLogger()
			logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
		} else {
			logger := arbor.NewLogger()
			if err := ReplaceInStruct(config, kvMap, logger); err != nil {
				logger.Warn().Err(err).Msg("Failed to replace key references in config")
			} else {
				logger.Info().Int("keys", len(kvMap)).Msg("Applied key/value replacements to config")
			}
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUAERO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("QUAERO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("QUAERO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Ingestion engine configuration (internal/jobqueue). Honors spec.md
	// section 6's bare env var names directly, falling back to the
	// QUAERO_-prefixed form used by the rest of this function.
	if v := firstNonEmpty(os.Getenv("MAX_JOB_WORKERS"), os.Getenv("QUAERO_MAX_JOB_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Ingestion.MaxJobWorkers = n
		}
	}
	if v := firstNonEmpty(os.Getenv("JOB_STEP_BATCH_SIZE"), os.Getenv("QUAERO_JOB_STEP_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Ingestion.JobStepBatchSize = n
		}
	}
	if v := firstNonEmpty(os.Getenv("CHUNK_PREFIX"), os.Getenv("QUAERO_CHUNK_PREFIX")); v != "" {
		config.Ingestion.ChunkPrefix = v
	}
	if v := os.Getenv("QUAERO_INGESTION_DATA_DIR"); v != "" {
		config.Ingestion.DataDir = v
	}
	if v := os.Getenv("QUAERO_EMBEDDING_OLLAMA_URL"); v != "" {
		config.Ingestion.EmbeddingOllamaURL = v
	}
	if v := os.Getenv("QUAERO_EMBEDDING_MODEL"); v != "" {
		config.Ingestion.EmbeddingModel = v
	}

	// Storage configuration
	if badgerPath := os.Getenv("QUAERO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("QUAERO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("QUAERO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("QUAERO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// firstNonEmpty returns the first non-empty string among vals, or "".
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
