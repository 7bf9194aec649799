package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/meteo-histo/internal/common"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
}

// APIConfig describes the DPClim endpoint.
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	Key          string        `mapstructure:"key"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxPolls     int           `mapstructure:"max_polls" validate:"gte=0"` // 0 = poll until the context ends
}

// RetryConfig controls transport-level retries and the circuit breaker.
type RetryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gte=1"`
	InitialInterval  time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval      time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" validate:"gte=-1"` // -1 disables the breaker
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
}

type PipelineConfig struct {
	HistoryStart    string        `mapstructure:"history_start" validate:"required,datetime=2006-01-02"`
	RequestBudget   int           `mapstructure:"request_budget" validate:"gte=1"`
	RepairBudget    int           `mapstructure:"repair_budget" validate:"gte=1"`
	RecheckInterval time.Duration `mapstructure:"recheck_interval" validate:"gte=0"`
	MaxIterations   int           `mapstructure:"max_iterations" validate:"gte=1"`
	MaxDateAttempts int           `mapstructure:"max_date_attempts" validate:"gte=1"`
	CircuitWaits    int           `mapstructure:"circuit_waits" validate:"gte=0"`
	Stations        []string      `mapstructure:"stations" validate:"dive,numeric"`
}

// HistoryStartTime returns HistoryStart as a UTC day.
func (p PipelineConfig) HistoryStartTime() time.Time {
	t, err := time.Parse(time.DateOnly, p.HistoryStart)
	if err != nil {
		// unreachable after Validate
		return time.Time{}
	}
	return t
}

type StorageConfig struct {
	DataDir      string        `mapstructure:"data_dir" validate:"required"`
	StationsFile string        `mapstructure:"stations_file" validate:"required"`
	CacheEntries int           `mapstructure:"cache_entries" validate:"gte=0"` // 0 = unlimited
	CacheMaxAge  time.Duration `mapstructure:"cache_max_age" validate:"gte=0"` // 0 = never expires
}

// SchedulerConfig drives the periodic refresh done by the serve command.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required,numeric"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// GeocoderConfig enables commune lookups during harvesting when a key is set.
type GeocoderConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load reads configuration from an optional YAML file, the environment and
// a .env file, in increasing order of precedence for the environment.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindings := map[string]string{
		"api.key":               "METEO_API_KEY",
		"api.base_url":          "METEO_BASE_URL",
		"storage.data_dir":      "DATA_DIR",
		"storage.stations_file": "STATIONS_FILE",
		"pipeline.stations":     "METEO_STATIONS",
		"scheduler.enabled":     "SCHEDULER_ENABLED",
		"scheduler.interval":    "FETCH_INTERVAL",
		"server.port":           "PORT",
		"log.level":             "LOG_LEVEL",
		"log.format":            "LOG_FORMAT",
		"geocoder.api_key":      "GEOCODER_API_KEY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Pipeline.Stations = normalizeStations(cfg.Pipeline.Stations)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://public-api.meteofrance.fr/public/DPClim/v1")
	v.SetDefault("api.timeout", "60s")
	v.SetDefault("api.poll_interval", "5s")
	v.SetDefault("api.max_polls", 720)

	v.SetDefault("retry.max_attempts", 10)
	v.SetDefault("retry.initial_interval", "2s")
	v.SetDefault("retry.max_interval", "60s")
	v.SetDefault("retry.breaker_threshold", 30)
	v.SetDefault("retry.breaker_timeout", "2m")

	v.SetDefault("pipeline.history_start", "2017-01-01")
	v.SetDefault("pipeline.request_budget", 10)
	v.SetDefault("pipeline.repair_budget", 5)
	v.SetDefault("pipeline.recheck_interval", "3s")
	v.SetDefault("pipeline.max_iterations", 10)
	v.SetDefault("pipeline.max_date_attempts", 3)
	v.SetDefault("pipeline.circuit_waits", 5)
	v.SetDefault("pipeline.stations", []string{})

	v.SetDefault("storage.data_dir", "data_meteo_histo")
	v.SetDefault("storage.stations_file", "data/stations.csv")
	v.SetDefault("storage.cache_entries", 64)
	v.SetDefault("storage.cache_max_age", "1h")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.timeout", "6h")

	v.SetDefault("server.port", "8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

// normalizeStations accepts both list and comma-separated forms.
func normalizeStations(in []string) []string {
	out := []string{}
	for _, s := range in {
		out = append(out, common.SplitList(s)...)
	}
	return out
}
