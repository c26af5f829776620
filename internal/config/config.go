package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"tenderscope/internal/association"
	"tenderscope/internal/baseline"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/outlier"
	"tenderscope/internal/rules"
	"tenderscope/internal/scoring"
	"tenderscope/internal/table"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" envconfig:"SNAPSHOT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// MaxBodyBytes bounds an uploaded table.
	MaxBodyBytes int64 `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES" validate:"gt=0"`
	// MaxRuns is how many scoring runs the server keeps in memory.
	MaxRuns int `yaml:"max_runs" envconfig:"MAX_RUNS" validate:"gte=1"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console stderr file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// PipelineConfig holds every weight, threshold and hyper-parameter of a
// scoring run.
type PipelineConfig struct {
	// MinGroupSize is the smallest item group that gets deviation features.
	MinGroupSize int `yaml:"min_group_size" envconfig:"MIN_GROUP_SIZE" validate:"gte=1"`
	// StopWords extend the built-in description stop-words.
	StopWords []string `yaml:"stop_words" envconfig:"STOP_WORDS"`
	// Columns maps item fields to explicit input headers.
	Columns map[string]string `yaml:"columns" envconfig:"COLUMNS"`
	// Sheet names the XLSX sheet to read; empty reads the first one.
	Sheet string `yaml:"sheet" envconfig:"SHEET"`

	RuleWeights    rules.Weights      `yaml:"rule_weights" envconfig:"RULE_WEIGHTS"`
	RuleThresholds rules.Thresholds   `yaml:"rule_thresholds" envconfig:"RULE_THRESHOLDS"`
	Model          outlier.Config     `yaml:"model" envconfig:"MODEL"`
	Composite      CompositeConfig    `yaml:"composite" envconfig:"COMPOSITE"`
	Association    association.Params `yaml:"association" envconfig:"ASSOCIATION"`

	// FlagThreshold is the composite score at which a process counts as
	// flagged for association mining.
	FlagThreshold float64 `yaml:"flag_threshold" envconfig:"FLAG_THRESHOLD" validate:"gte=0"`
}

// CompositeConfig holds the literal model/rules multipliers.
type CompositeConfig struct {
	Model float64 `yaml:"model" envconfig:"MODEL" validate:"gte=0"`
	Rules float64 `yaml:"rules" envconfig:"RULES" validate:"gte=0"`
}

// Weights converts to the snapshot representation.
func (c CompositeConfig) Weights() baseline.CompositeWeights {
	return baseline.CompositeWeights{Model: c.Model, Rules: c.Rules}
}

// ColumnOverrides converts the configured header overrides to table fields.
func (p PipelineConfig) ColumnOverrides() map[table.Field]string {
	if len(p.Columns) == 0 {
		return nil
	}
	out := make(map[table.Field]string, len(p.Columns))
	for field, header := range p.Columns {
		out[table.Field(field)] = header
	}
	return out
}

func knownField(name string) bool {
	for _, spec := range table.DefaultColumns {
		if string(spec.Field) == name {
			return true
		}
	}
	return false
}

// SnapshotConfig selects where run snapshots are persisted.
type SnapshotConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND" validate:"oneof=file sql"`
	// DSN is the sqlite database path used by the sql backend.
	DSN string `yaml:"dsn" envconfig:"DSN"`
}

// EnvPrefix namespaces every environment variable.
const EnvPrefix = "TENDERSCOPE"

// Load builds the configuration from defaults, the YAML file at path (or
// the first well-known location when path is empty) and TENDERSCOPE_*
// environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks struct tags and the cross-field rules of the pipeline.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.Struct(c); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}
	if err := c.Pipeline.RuleWeights.Validate(); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}
	if err := c.Pipeline.RuleThresholds.Validate(); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}
	if err := scoring.ValidateWeights(c.Pipeline.Composite.Weights()); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}
	if err := c.Pipeline.Association.Validate(); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}
	if _, err := outlier.New(c.Pipeline.Model, nil); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}
	for field := range c.Pipeline.Columns {
		if !knownField(field) {
			return apperrors.NewConfigError(fmt.Sprintf("config validation failed: unknown column field %q", field), nil)
		}
	}
	if c.Snapshot.Backend == "sql" && c.Snapshot.DSN == "" {
		return apperrors.NewConfigError("config validation failed: sql snapshot backend needs a dsn", nil)
	}
	return nil
}

// getConfigFilePath returns the first config file found in the usual places
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	locations := []string{
		"tenderscope.yaml",
		"configs/tenderscope.yaml",
		"../configs/tenderscope.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    32 << 20,
			MaxRuns:         32,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     10,
				Burst:   20,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/tenderscope.log",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
			Environment:    "development",
		},
		Paths: PathsConfig{
			DataDir:     "data",
			SnapshotDir: "data/snapshots",
			OutputDir:   "data/output",
			LogsDir:     "logs",
		},
		Pipeline: PipelineConfig{
			MinGroupSize:   baseline.DefaultMinGroupSize,
			RuleWeights:    rules.DefaultWeights(),
			RuleThresholds: rules.DefaultThresholds(),
			Model:          outlier.DefaultConfig(),
			Composite:      CompositeConfig{Model: scoring.DefaultModelWeight, Rules: scoring.DefaultRulesWeight},
			Association:    association.DefaultParams(),
			FlagThreshold:  DefaultFlagThreshold,
		},
		Snapshot: SnapshotConfig{
			Backend: "file",
			DSN:     "data/snapshots.db",
		},
	}
}
