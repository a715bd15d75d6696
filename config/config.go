package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Fundingheat FundingheatConfig `yaml:"fundingheat"`
	Source      SourceConfig      `yaml:"source"`
	Ranking     RankingConfig     `yaml:"ranking"`
	Store       StoreConfig       `yaml:"store"`
	Heatmap     HeatmapConfig     `yaml:"heatmap"`
	Export      ExportConfig      `yaml:"export"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type FundingheatConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Exchange  string           `yaml:"exchange"`
	Timeout   time.Duration    `yaml:"timeout"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Retry     RetryConfig      `yaml:"retry"`
	Binance   ExchangeEndpoint `yaml:"binance"`
	Bybit     ExchangeEndpoint `yaml:"bybit"`
	Kucoin    ExchangeEndpoint `yaml:"kucoin"`
}

type ExchangeEndpoint struct {
	URL            string               `yaml:"url"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

type RankingConfig struct {
	TopN       int                `yaml:"top_n"`
	MaxAge     time.Duration      `yaml:"max_age"`
	QuoteAsset string             `yaml:"quote_asset"`
	Exclude    []string           `yaml:"exclude"`
	Cache      RankingCacheConfig `yaml:"cache"`
}

type RankingCacheConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type StoreConfig struct {
	Backend    string        `yaml:"backend"`
	Directory  string        `yaml:"directory"`
	SQLitePath string        `yaml:"sqlite_path"`
	RowCap     int           `yaml:"row_cap"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Workers    int           `yaml:"workers"`
}

type HeatmapConfig struct {
	WindowDays int `yaml:"window_days"`
}

type ExportConfig struct {
	MatrixCSV string        `yaml:"matrix_csv"`
	Parquet   ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"`
	Upload      bool   `yaml:"upload"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used for keys missing from the YAML file.
func Default() Config {
	return Config{
		Fundingheat: FundingheatConfig{Name: "fundingheat", Version: "dev"},
		Source: SourceConfig{
			Exchange:  "binance",
			Timeout:   10 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 1},
			Retry:     RetryConfig{MaxAttempts: 3, MinBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second},
			Binance:   ExchangeEndpoint{URL: "https://fapi.binance.com"},
			Bybit:     ExchangeEndpoint{URL: "https://api.bybit.com"},
			Kucoin:    ExchangeEndpoint{URL: "https://api-futures.kucoin.com"},
		},
		Ranking: RankingConfig{
			TopN:       30,
			MaxAge:     24 * time.Hour,
			QuoteAsset: "USDT",
			Cache: RankingCacheConfig{
				Backend: "file",
				Path:    "data/top_vol_coins_cache.json",
				Redis:   RedisConfig{Addr: "localhost:6379", Key: "fundingheat:top_symbols"},
			},
		},
		Store: StoreConfig{
			Backend:    "csv",
			Directory:  "data/funding_rate",
			SQLitePath: "data/funding_rate.db",
			RowCap:     10000,
			StaleAfter: 12 * time.Hour,
			Workers:    1,
		},
		Heatmap: HeatmapConfig{WindowDays: 90},
		Export: ExportConfig{
			Parquet: ParquetConfig{Path: "data/export", Compression: "snappy"},
		},
		Dashboard: DashboardConfig{Address: ":8080", RefreshInterval: 30 * time.Minute},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "Fundingheat", Dashboard: "Fundingheat"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Source.Exchange = strings.ToLower(strings.TrimSpace(config.Source.Exchange))
	config.Ranking.QuoteAsset = strings.ToUpper(strings.TrimSpace(config.Ranking.QuoteAsset))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Ranking.Cache.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Ranking.Cache.Redis.Password = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Fundingheat.Name == "" {
		return fmt.Errorf("fundingheat.name is required")
	}

	switch cfg.Source.Exchange {
	case "binance", "bybit", "kucoin":
	default:
		return fmt.Errorf("source.exchange '%s' is not supported", cfg.Source.Exchange)
	}
	if cfg.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be greater than 0")
	}
	if cfg.Source.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("source.retry.max_attempts must be greater than 0")
	}
	if cfg.Source.Retry.MaxBackoff < cfg.Source.Retry.MinBackoff {
		return fmt.Errorf("source.retry.max_backoff must not be less than source.retry.min_backoff")
	}

	if cfg.Ranking.TopN <= 0 {
		return fmt.Errorf("ranking.top_n must be greater than 0")
	}
	if cfg.Ranking.MaxAge <= 0 {
		return fmt.Errorf("ranking.max_age must be greater than 0")
	}
	switch cfg.Ranking.Cache.Backend {
	case "file":
		if cfg.Ranking.Cache.Path == "" {
			return fmt.Errorf("ranking.cache.path is required for the file backend")
		}
	case "redis":
		if cfg.Ranking.Cache.Redis.Addr == "" || cfg.Ranking.Cache.Redis.Key == "" {
			return fmt.Errorf("ranking.cache.redis.addr and ranking.cache.redis.key are required for the redis backend")
		}
	default:
		return fmt.Errorf("ranking.cache.backend '%s' is not supported", cfg.Ranking.Cache.Backend)
	}

	switch cfg.Store.Backend {
	case "csv":
		if cfg.Store.Directory == "" {
			return fmt.Errorf("store.directory is required for the csv backend")
		}
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend '%s' is not supported", cfg.Store.Backend)
	}
	if cfg.Store.RowCap <= 0 {
		return fmt.Errorf("store.row_cap must be greater than 0")
	}
	if cfg.Store.StaleAfter <= 0 {
		return fmt.Errorf("store.stale_after must be greater than 0")
	}
	if cfg.Store.Workers <= 0 {
		return fmt.Errorf("store.workers must be greater than 0")
	}

	if cfg.Heatmap.WindowDays <= 0 {
		return fmt.Errorf("heatmap.window_days must be greater than 0")
	}

	if cfg.Export.Parquet.Enabled && cfg.Export.Parquet.Path == "" && !cfg.Export.Parquet.Upload {
		return fmt.Errorf("export.parquet needs a path or upload enabled")
	}
	if cfg.Export.Parquet.Upload && !cfg.Storage.S3.Enabled {
		return fmt.Errorf("export.parquet.upload requires storage.s3.enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.RefreshInterval <= 0 {
		return fmt.Errorf("dashboard.refresh_interval must be greater than 0")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
