// Package config implements the configuration management as specified in
// section 6 of the design specification. It handles loading Wasabi
// credentials and validating the tuning parameters that drive the scanner,
// worker pool, and pipeline.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// endpointTemplate is the region-templated Wasabi endpoint from section 6.
const endpointTemplate = "https://s3.%s.wasabisys.com"

// Config holds all configuration for the scanning pipeline as defined in
// section 6 of the design specification.
type Config struct {
	AccessKey string // WASABI_ACCESS_KEY
	SecretKey string // WASABI_SECRET_KEY
	Region    string // default region used until a bucket's own region is discovered
	StartPath string // optional bucket-relative prefix narrowing the scan root (section 4.4)

	ReportS3URI string // optional S3 URI metrics reports are uploaded to

	MaxWorkers      int           // section 4.5: MAX_WORKERS
	MaxBatch        int           // section 4.4: MAX_BATCH
	MaxRetries      int           // section 4.5: MAX_RETRIES
	RetryDelay      time.Duration // section 4.5: RETRY_DELAY
	IdleScanDelay   time.Duration // section 4.6: inter-scan sleep when a batch is empty or partial
	ShutdownTimeout time.Duration // section 5: drain timeout on stop

	// ProgressStore backing: "file" (default) or "postgres".
	ProgressStoreKind string
	ProgressStorePath string // JSON file path when ProgressStoreKind == "file"
	PostgresDSN       string // connection string when ProgressStoreKind == "postgres"

	OperationLogPath string // processing_log.json mirror path (section 6)
}

// Load reads a .env file (if present) into the process environment and
// returns a Config populated from environment variables, mirroring the
// credential-loading behavior of original_source's wasabi_manager.py
// (python-dotenv's load_dotenv()).
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envPath, err)
		}
	} else {
		// A missing .env in the working directory is not an error.
		_ = godotenv.Load()
	}

	cfg := &Config{
		AccessKey:         os.Getenv("WASABI_ACCESS_KEY"),
		SecretKey:         os.Getenv("WASABI_SECRET_KEY"),
		Region:            envOrDefault("WASABI_REGION", "us-east-1"),
		ReportS3URI:       os.Getenv("REPORT_S3_URI"),
		MaxWorkers:        50,
		MaxBatch:          200,
		MaxRetries:        3,
		RetryDelay:        10 * time.Second,
		IdleScanDelay:     60 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		ProgressStoreKind: envOrDefault("PROGRESS_STORE", "file"),
		ProgressStorePath: envOrDefault("PROGRESS_STORE_PATH", "processed_files.json"),
		PostgresDSN:       os.Getenv("PROGRESS_STORE_DSN"),
		OperationLogPath:  envOrDefault("OPERATION_LOG_PATH", "processing_log.json"),
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Endpoint returns the Wasabi endpoint URL for the given region, per
// section 6's region-templated endpoint.
func Endpoint(region string) string {
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf(endpointTemplate, region)
}

// Validate implements the fail-fast configuration checks required by
// section 7, Error kind 1: missing credentials or bad tuning parameters
// must be caught before scanning begins.
func (c *Config) Validate() error {
	if c.AccessKey == "" {
		return fmt.Errorf("WASABI_ACCESS_KEY is required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("WASABI_SECRET_KEY is required")
	}
	if c.Region == "" {
		return fmt.Errorf("a default region is required")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1")
	}
	if c.MaxBatch < 1 {
		return fmt.Errorf("max batch must be at least 1")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if c.IdleScanDelay <= 0 {
		return fmt.Errorf("idle scan delay must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	switch c.ProgressStoreKind {
	case "file":
		if c.ProgressStorePath == "" {
			return fmt.Errorf("progress store path is required for the file-backed store")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("progress store DSN is required for the postgres-backed store")
		}
	default:
		return fmt.Errorf("progress store kind must be 'file' or 'postgres', got %q", c.ProgressStoreKind)
	}
	return nil
}
