package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Model      ModelConfig      `yaml:"model" mapstructure:"model"`
	Features   FeatureConfig    `yaml:"features" mapstructure:"features"`
	Forecast   ForecastConfig   `yaml:"forecast" mapstructure:"forecast"`
	Upload     UploadConfig     `yaml:"upload" mapstructure:"upload"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ModelConfig configures elimination scoring.
type ModelConfig struct {
	EliminationThreshold float64 `yaml:"elimination_threshold" mapstructure:"elimination_threshold"`
	ConfidenceThreshold  float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MinTrainingSamples   int     `yaml:"min_training_samples" mapstructure:"min_training_samples"`
	DefaultStrategy      string  `yaml:"default_strategy" mapstructure:"default_strategy"`
	ReviewRemainingLife  float64 `yaml:"review_remaining_life" mapstructure:"review_remaining_life"`
	ReviewConfidence     float64 `yaml:"review_confidence" mapstructure:"review_confidence"`
	TrainingIterations   int     `yaml:"training_iterations" mapstructure:"training_iterations"`
	LearningRate         float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
}

// FeatureConfig bounds the raw metrics fed into the feature vector.
type FeatureConfig struct {
	MaxCorrosionRate float64 `yaml:"max_corrosion_rate" mapstructure:"max_corrosion_rate"`
	MinRemainingLife float64 `yaml:"min_remaining_life" mapstructure:"min_remaining_life"`
	MaxRemainingLife float64 `yaml:"max_remaining_life" mapstructure:"max_remaining_life"`
}

// ForecastConfig configures thickness forecasting.
type ForecastConfig struct {
	DefaultStrategy string  `yaml:"default_strategy" mapstructure:"default_strategy"`
	DefaultHorizon  int     `yaml:"default_horizon" mapstructure:"default_horizon"`
	MaxHorizon      int     `yaml:"max_horizon" mapstructure:"max_horizon"`
	DefaultMarginMM float64 `yaml:"default_margin_mm" mapstructure:"default_margin_mm"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// UploadConfig configures batch reconciliation input.
type UploadConfig struct {
	SheetName         string `yaml:"sheet_name" mapstructure:"sheet_name"`
	ColumnMapPath     string `yaml:"column_map_path" mapstructure:"column_map_path"`
	MaxStoredErrors   int    `yaml:"max_stored_errors" mapstructure:"max_stored_errors"`
	MaxReturnedErrors int    `yaml:"max_returned_errors" mapstructure:"max_returned_errors"`
}

// MonitoringConfig configures background alerting.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CriticalRemainingLife  float64 `yaml:"critical_remaining_life" mapstructure:"critical_remaining_life"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CML")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cml.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:8000"})
	v.SetDefault("server.timeout_secs", 60)
	v.SetDefault("model.elimination_threshold", 0.70)
	v.SetDefault("model.confidence_threshold", 0.85)
	v.SetDefault("model.min_training_samples", 50)
	v.SetDefault("model.default_strategy", "logistic")
	v.SetDefault("model.review_remaining_life", 5.0)
	v.SetDefault("model.review_confidence", 0.5)
	v.SetDefault("model.training_iterations", 2000)
	v.SetDefault("model.learning_rate", 0.5)
	v.SetDefault("features.max_corrosion_rate", 5.0)
	v.SetDefault("features.min_remaining_life", 0.0)
	v.SetDefault("features.max_remaining_life", 100.0)
	v.SetDefault("forecast.default_strategy", "linear")
	v.SetDefault("forecast.default_horizon", 24)
	v.SetDefault("forecast.max_horizon", 120)
	v.SetDefault("forecast.default_margin_mm", 0.5)
	v.SetDefault("forecast.concurrency", 4)
	v.SetDefault("upload.sheet_name", "CML_Master_Data")
	v.SetDefault("upload.max_stored_errors", 100)
	v.SetDefault("upload.max_returned_errors", 10)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.critical_remaining_life", 2.0)
	v.SetDefault("monitoring.review_backlog_threshold", 0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration needed by the given command mode:
// "store", "analyze", "forecast", "upload" or "serve". Every mode
// validates the store section.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres (got %q)", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres (CML_STORE_DATABASE_URL)")
	}

	switch mode {
	case "store":
	case "analyze":
		errs = append(errs, c.validateModel()...)
	case "forecast":
		errs = append(errs, c.validateForecast()...)
	case "upload":
		errs = append(errs, c.validateUpload()...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535 (got %d)", c.Server.Port))
		}
		errs = append(errs, c.validateModel()...)
		errs = append(errs, c.validateForecast()...)
		errs = append(errs, c.validateUpload()...)
		errs = append(errs, c.validateMonitoring()...)
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateModel() []string {
	var errs []string
	m := c.Model
	if m.EliminationThreshold < 0 || m.EliminationThreshold > 1 {
		errs = append(errs, "model.elimination_threshold must be between 0 and 1")
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		errs = append(errs, "model.confidence_threshold must be between 0 and 1")
	}
	if m.MinTrainingSamples < 1 {
		errs = append(errs, "model.min_training_samples must be >= 1")
	}
	f := c.Features
	if f.MaxCorrosionRate <= 0 {
		errs = append(errs, "features.max_corrosion_rate must be > 0")
	}
	if f.MaxRemainingLife <= f.MinRemainingLife {
		errs = append(errs, "features.max_remaining_life must be > min_remaining_life")
	}
	return errs
}

func (c *Config) validateForecast() []string {
	var errs []string
	f := c.Forecast
	if f.MaxHorizon < 1 {
		errs = append(errs, "forecast.max_horizon must be >= 1")
	}
	if f.DefaultHorizon < 1 || f.DefaultHorizon > f.MaxHorizon {
		errs = append(errs, "forecast.default_horizon must be between 1 and max_horizon")
	}
	if f.DefaultMarginMM < 0 {
		errs = append(errs, "forecast.default_margin_mm must be >= 0")
	}
	if f.Concurrency < 1 {
		errs = append(errs, "forecast.concurrency must be >= 1")
	}
	return errs
}

func (c *Config) validateUpload() []string {
	var errs []string
	if c.Upload.MaxStoredErrors < 0 || c.Upload.MaxReturnedErrors < 0 {
		errs = append(errs, "upload error caps must be >= 0")
	}
	return errs
}

func (c *Config) validateMonitoring() []string {
	m := c.Monitoring
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.LookbackWindowHours < 1 {
		errs = append(errs, "monitoring.lookback_window_hours must be >= 1")
	}
	if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if m.CriticalRemainingLife < 0 {
		errs = append(errs, "monitoring.critical_remaining_life must be >= 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
