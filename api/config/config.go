package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	BindAddr string `yaml:"bindAddr"`
	APIKey   string `yaml:"apiKey"`

	GitRepo    string `yaml:"githubRepo"`
	GitToken   string `yaml:"githubToken"`
	GitBranch  string `yaml:"githubBranch"`
	RepoFolder string `yaml:"repoFolder"`
	TestsDir   string `yaml:"testsDir"` // test root inside the checkout
	CloneDepth int    `yaml:"cloneDepth"`
	// CloneTimeout bounds one clone once in-flight runs have released the checkout.
	CloneTimeout time.Duration `yaml:"cloneTimeout"`

	RobotExecutable   string        `yaml:"robotExecutable"`
	RobotArgs         []string      `yaml:"robotArgs"`
	WorkDir           string        `yaml:"workDir"` // per-run scratch directories live here
	RunTimeout        time.Duration `yaml:"runTimeout"`
	MaxRunTimeout     time.Duration `yaml:"maxRunTimeout"`
	MaxConcurrentRuns int           `yaml:"maxConcurrentRuns"`

	StorageDriver      string `yaml:"storageDriver"` // s3, gcs, http, dir
	S3Endpoint         string `yaml:"minioEndpoint"`
	S3AccessKey        string `yaml:"minioAccessKey"`
	S3SecretKey        string `yaml:"minioSecretKey"`
	S3Bucket           string `yaml:"minioBucket"`
	S3Region           string `yaml:"minioRegion"`
	S3UseSSL           bool   `yaml:"minioUseSSL"`
	GCSBucket          string `yaml:"gcsBucket"`
	GCSProject         string `yaml:"gcsProject"` // set to create a missing bucket
	StoragePublicURL   string `yaml:"storagePublicUrl"`
	StorageDir         string `yaml:"storageDir"`
	MultipartThreshold int64  `yaml:"multipartThreshold"`
	MultipartPartSize  int64  `yaml:"multipartPartSize"`
	UploadAPIURL       string `yaml:"uploadApiUrl"`
	UploadAPIKey       string `yaml:"uploadApiKey"`

	DatabaseURL         string        `yaml:"databaseUrl"` // empty keeps run records in memory
	AllowedOrigins      string        `yaml:"allowedOrigins"`
	RepoRefreshSchedule string        `yaml:"repoRefreshSchedule"`
	HealthPollInterval  time.Duration `yaml:"healthPollInterval"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

func defaults() *Config {
	return &Config{
		Port:               "3001",
		BindAddr:           "0.0.0.0",
		RepoFolder:         "repo",
		TestsDir:           "tests",
		CloneDepth:         1,
		CloneTimeout:       10 * time.Minute,
		RobotExecutable:    "robot",
		WorkDir:            filepath.Join(os.TempDir(), "robot-runner"),
		RunTimeout:         30 * time.Minute,
		MaxRunTimeout:      2 * time.Hour,
		MaxConcurrentRuns:  4,
		StorageDriver:      "s3",
		S3Bucket:           "test-results",
		S3Region:           "us-east-1",
		S3UseSSL:           true,
		StorageDir:         "artifacts",
		MultipartThreshold: 16 << 20,
		MultipartPartSize:  16 << 20,
		HealthPollInterval: 30 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// RUNNER_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("RUNNER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Port = envOr("PORT", c.Port)
	c.BindAddr = envOr("BIND_ADDR", c.BindAddr)
	c.APIKey = envOr("API_KEY", c.APIKey)

	c.GitRepo = envOr("GITHUB_REPO", c.GitRepo)
	c.GitToken = envOr("GITHUB_TOKEN", c.GitToken)
	c.GitBranch = envOr("GITHUB_BRANCH", c.GitBranch)
	c.RepoFolder = envOr("REPO_FOLDER", c.RepoFolder)
	c.TestsDir = envOr("TESTS_DIR", c.TestsDir)

	c.RobotExecutable = envOr("ROBOT_EXECUTABLE", c.RobotExecutable)
	if v := os.Getenv("ROBOT_ARGS"); v != "" {
		c.RobotArgs = strings.Fields(v)
	}
	c.WorkDir = envOr("WORK_DIR", c.WorkDir)

	c.StorageDriver = envOr("STORAGE_DRIVER", c.StorageDriver)
	c.S3Endpoint = envOr("MINIO_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = envOr("MINIO_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOr("MINIO_SECRET_KEY", c.S3SecretKey)
	c.S3Bucket = envOr("MINIO_BUCKET", c.S3Bucket)
	c.S3Region = envOr("MINIO_REGION", c.S3Region)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		c.S3UseSSL = v != "false"
	}
	c.GCSBucket = envOr("GCS_BUCKET", c.GCSBucket)
	c.GCSProject = envOr("GCS_PROJECT", c.GCSProject)
	c.StoragePublicURL = envOr("STORAGE_PUBLIC_URL", c.StoragePublicURL)
	c.StorageDir = envOr("STORAGE_DIR", c.StorageDir)
	c.UploadAPIURL = envOr("UPLOAD_API_URL", c.UploadAPIURL)
	c.UploadAPIKey = envOr("UPLOAD_API_KEY", c.UploadAPIKey)

	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.AllowedOrigins = envOr("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.RepoRefreshSchedule = envOr("REPO_REFRESH_SCHEDULE", c.RepoRefreshSchedule)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)

	var err error
	if c.CloneDepth, err = envInt("CLONE_DEPTH", c.CloneDepth); err != nil {
		return err
	}
	if c.CloneTimeout, err = envDuration("CLONE_TIMEOUT", c.CloneTimeout); err != nil {
		return err
	}
	if c.MaxConcurrentRuns, err = envInt("MAX_CONCURRENT_RUNS", c.MaxConcurrentRuns); err != nil {
		return err
	}
	if c.RunTimeout, err = envDuration("RUN_TIMEOUT", c.RunTimeout); err != nil {
		return err
	}
	if c.MaxRunTimeout, err = envDuration("MAX_RUN_TIMEOUT", c.MaxRunTimeout); err != nil {
		return err
	}
	if c.MultipartThreshold, err = envInt64("MULTIPART_THRESHOLD", c.MultipartThreshold); err != nil {
		return err
	}
	if c.HealthPollInterval, err = envDuration("HEALTH_POLL_INTERVAL", c.HealthPollInterval); err != nil {
		return err
	}
	if c.MultipartPartSize, err = envInt64("MULTIPART_PART_SIZE", c.MultipartPartSize); err != nil {
		return err
	}
	return nil
}

// Validate reports every setting the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.GitRepo == "" {
		errs = append(errs, errors.New("GITHUB_REPO is required"))
	}
	if c.RobotExecutable == "" {
		errs = append(errs, errors.New("ROBOT_EXECUTABLE must not be empty"))
	}
	if c.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_RUNS must be at least 1"))
	}
	if c.RunTimeout <= 0 || c.MaxRunTimeout < c.RunTimeout {
		errs = append(errs, errors.New("RUN_TIMEOUT must be positive and not above MAX_RUN_TIMEOUT"))
	}
	switch c.StorageDriver {
	case "s3":
		if c.S3Endpoint == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT is required for the s3 storage driver"))
		}
	case "gcs":
		if c.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required for the gcs storage driver"))
		}
	case "http":
		if c.UploadAPIURL == "" {
			errs = append(errs, errors.New("UPLOAD_API_URL is required for the http storage driver"))
		}
	case "dir":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	return errors.Join(errs...)
}

// TestRoot is the directory holding one subdirectory per project.
func (c *Config) TestRoot() string {
	return filepath.Join(c.RepoFolder, c.TestsDir)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
