// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/fingerprint-match/internal/imaging"
	"github.com/example/fingerprint-match/internal/matcher"
)

// Candidate store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Embedding backends.
const (
	EmbedderGRPC = "grpc"
	EmbedderREST = "rest"
)

// Config holds every runtime setting of the service.
type Config struct {
	HTTPAddr        string          `yaml:"http_addr"`
	LogLevel        string          `yaml:"log_level"`
	LogDevelopment  bool            `yaml:"log_development"`
	StrictStartup   bool            `yaml:"strict_startup"`
	MaxUploadBytes  int64           `yaml:"max_upload_bytes"`
	MaxImagePixels  int             `yaml:"max_image_pixels"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	ResultTTL       time.Duration   `yaml:"result_ttl"`
	Database        DatabaseConfig  `yaml:"database"`
	Redis           RedisConfig     `yaml:"redis"`
	Candidates      CandidateConfig `yaml:"candidates"`
	Embedder        EmbedderConfig  `yaml:"embedder"`
	Match           matcher.Options `yaml:"match"`
	Profiles        ProfileConfig   `yaml:"profiles"`
}

// DatabaseConfig configures the postgres connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the redis connection.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// CandidateConfig selects where enrolled records are read from.
type CandidateConfig struct {
	Store       string `yaml:"store"`
	Table       string `yaml:"table"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// EmbedderConfig selects and addresses the embedding backend.
type EmbedderConfig struct {
	Backend string        `yaml:"backend"`
	Addr    string        `yaml:"addr"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProfileConfig configures profile image presigning. An empty endpoint
// disables it.
type ProfileConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	Bucket    string        `yaml:"bucket"`
	URLTTL    time.Duration `yaml:"url_ttl"`
}

// Default returns the settings used when nothing is configured. The input
// shape is left unset so that the embedding backend's declared shape is used.
func Default() *Config {
	match := matcher.DefaultOptions()
	match.Shape = imaging.Shape{}
	return &Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		MaxUploadBytes:  10 << 20,
		MaxImagePixels:  imaging.DefaultMaxPixels,
		ShutdownTimeout: 15 * time.Second,
		ResultTTL:       5 * time.Minute,
		Database: DatabaseConfig{
			DSN: "host=postgres user=postgres password=postgres dbname=fingerprints port=5432 sslmode=disable",
		},
		Redis: RedisConfig{Addr: "redis:6379"},
		Candidates: CandidateConfig{
			Store:       StorePostgres,
			Table:       "citizens",
			RedisPrefix: "citizen:",
		},
		Embedder: EmbedderConfig{
			Backend: EmbedderGRPC,
			Addr:    "embedder:50051",
			URL:     "http://embedder:8501/v1/models/fingerprint",
			Timeout: 10 * time.Second,
		},
		Match:    match,
		Profiles: ProfileConfig{URLTTL: 15 * time.Minute},
	}
}

// Load reads CONFIG_FILE when set, applies environment overrides and validates
// the result.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var env envReader
	env.str("HTTP_ADDR", &c.HTTPAddr)
	env.str("LOG_LEVEL", &c.LogLevel)
	env.boolean("LOG_DEVELOPMENT", &c.LogDevelopment)
	env.boolean("STRICT_STARTUP", &c.StrictStartup)
	env.int64("MAX_UPLOAD_BYTES", &c.MaxUploadBytes)
	env.integer("MAX_IMAGE_PIXELS", &c.MaxImagePixels)
	env.duration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	env.duration("RESULT_TTL", &c.ResultTTL)

	env.str("DATABASE_DSN", &c.Database.DSN)
	env.str("REDIS_ADDR", &c.Redis.Addr)

	env.str("CANDIDATE_STORE", &c.Candidates.Store)
	env.str("CANDIDATE_TABLE", &c.Candidates.Table)
	env.str("REDIS_CANDIDATE_PREFIX", &c.Candidates.RedisPrefix)

	env.str("EMBEDDER_BACKEND", &c.Embedder.Backend)
	env.str("EMBEDDER_ADDR", &c.Embedder.Addr)
	env.str("EMBEDDER_URL", &c.Embedder.URL)
	env.duration("EMBEDDER_TIMEOUT", &c.Embedder.Timeout)

	env.integer("INPUT_HEIGHT", &c.Match.Shape.Height)
	env.integer("INPUT_WIDTH", &c.Match.Shape.Width)
	var policy string
	if env.str("SCORE_POLICY", &policy) {
		c.Match.Policy = matcher.Policy(strings.ToLower(policy))
	}
	env.float("SCORE_STEEPNESS", &c.Match.Steepness)
	env.float("SCORE_MARGIN", &c.Match.Margin)
	env.float("MATCH_THRESHOLD", &c.Match.Threshold)
	env.integer("MATCH_TOP_K", &c.Match.TopK)
	env.floats("ROTATION_ANGLES", &c.Match.RotationAngles)

	env.str("MINIO_ENDPOINT", &c.Profiles.Endpoint)
	env.str("MINIO_ACCESS_KEY", &c.Profiles.AccessKey)
	env.str("MINIO_SECRET_KEY", &c.Profiles.SecretKey)
	env.boolean("MINIO_USE_SSL", &c.Profiles.UseSSL)
	env.str("MINIO_BUCKET", &c.Profiles.Bucket)
	env.duration("PROFILE_URL_TTL", &c.Profiles.URLTTL)

	return errors.Join(env.errs...)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Candidates.Store {
	case StorePostgres, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown candidate store %q", c.Candidates.Store))
	}
	switch c.Embedder.Backend {
	case EmbedderGRPC, EmbedderREST:
	default:
		errs = append(errs, fmt.Errorf("unknown embedder backend %q", c.Embedder.Backend))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.MaxImagePixels <= 0 {
		errs = append(errs, fmt.Errorf("max image pixels must be positive, got %d", c.MaxImagePixels))
	}

	match := c.Match
	if !c.HasInputShape() {
		if match.Shape.Height != 0 || match.Shape.Width != 0 {
			errs = append(errs, fmt.Errorf("input height and width must be set together, got %s", match.Shape))
		}
		match.Shape = imaging.DefaultShape
	}
	if err := match.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HasInputShape reports whether the input shape is pinned by configuration
// rather than taken from the embedding backend.
func (c *Config) HasInputShape() bool {
	return c.Match.Shape.Height != 0 && c.Match.Shape.Width != 0
}

// envReader applies set environment variables and collects parse errors.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *envReader) str(key string, dst *string) bool {
	value, ok := r.lookup(key)
	if ok {
		*dst = value
	}
	return ok
}

func (r *envReader) boolean(key string, dst *bool) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) int64(key string, dst *int64) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) float(key string, dst *float64) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

// floats parses a comma separated list such as "-10,0,10".
func (r *envReader) floats(key string, dst *[]float64) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(value, ",")
	parsed := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		parsed = append(parsed, f)
	}
	*dst = parsed
}
