package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"RSIndex/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Store       StoreConfig      `yaml:"store"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	REST        RESTConfig       `yaml:"rest"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Redis       RedisConfig      `yaml:"redis"`
	Queue       QueueConfig      `yaml:"queue"`
	Momentum    MomentumConfig   `yaml:"momentum"`
	Universe    UniverseConfig   `yaml:"universe"`
	Index       IndexConfig      `yaml:"index"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
}

type LogConfig struct {
	Level          string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format         string        `yaml:"format" default:"json" validate:"oneof=json console"`
	Output         string        `yaml:"output" default:"stdout"`
	CollectorTopic string        `yaml:"collector_topic"`
	FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CacheTTL        time.Duration `yaml:"cache_ttl" default:"5m"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// StoreConfig selects the backend that holds prices and receives derived rows.
type StoreConfig struct {
	Backend      string        `yaml:"backend" default:"postgres" validate:"oneof=postgres clickhouse rest memory"`
	PageSize     int           `yaml:"page_size" default:"1000" validate:"gte=1"`
	WriteBatch   int           `yaml:"write_batch" default:"500" validate:"gte=1"`
	QueryTimeout time.Duration `yaml:"query_timeout" default:"30s"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
	Tables       TablesConfig  `yaml:"tables"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

type TablesConfig struct {
	Prices       string                `yaml:"prices" default:"daily_prices"`
	Rankings     string                `yaml:"rankings" default:"rs_rankings"`
	Constituents string                `yaml:"constituents" default:"index_constituents_monthly"`
	Indices      string                `yaml:"indices" default:"equal_weight_indices"`
	Groups       map[string]GroupTable `yaml:"groups"`
}

// GroupTable maps a group kind onto its catalogue table and its membership table.
type GroupTable struct {
	Catalog  string `yaml:"catalog"`
	Members  string `yaml:"members"`
	IDColumn string `yaml:"id_column"`
}

type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled" default:"true"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"3"`
	Interval            time.Duration `yaml:"interval" default:"60s"`
	Timeout             time.Duration `yaml:"timeout" default:"30s"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" default:"5m"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"rsindex"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

// RESTConfig points at a PostgREST-compatible table API.
type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	RequiredAcks int           `yaml:"required_acks" default:"-1"`
	Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Topics       KafkaTopics   `yaml:"topics"`
	Producer     KafkaProducer `yaml:"producer"`
	Consumer     KafkaConsumer `yaml:"consumer"`
}

type KafkaTopics struct {
	PricesUpdated string `yaml:"prices_updated" default:"prices.updated"`
	Events        string `yaml:"events" default:"rsindex.events"`
}

type KafkaProducer struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	Linger       time.Duration `yaml:"linger" default:"200ms"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

type KafkaConsumer struct {
	GroupID    string        `yaml:"group_id" default:"rsindex"`
	Workers    int           `yaml:"workers" default:"1"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic   string        `yaml:"dlq_topic"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"rsindex"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
	RetryLimit int           `yaml:"retry_limit" default:"2"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	KeyPrefix  string        `yaml:"key_prefix" default:"rsindex:queue"`
}

// MomentumConfig holds the lookback windows (trading positions) and their weights.
type MomentumConfig struct {
	Windows  []int          `yaml:"windows" default:"[63,126,189,252]"`
	Weights  []float64      `yaml:"weights" default:"[0.4,0.2,0.2,0.2]"`
	Horizons HorizonsConfig `yaml:"horizons"`
}

type HorizonsConfig struct {
	ThreeMonth  int `yaml:"three_month" default:"63" validate:"gte=1"`
	SixMonth    int `yaml:"six_month" default:"126" validate:"gte=1"`
	TwelveMonth int `yaml:"twelve_month" default:"252" validate:"gte=1"`
}

type UniverseConfig struct {
	IndexType       string   `yaml:"index_type" default:"custom" validate:"required"`
	IndexCode       string   `yaml:"index_code" default:"EW_60D_TOP70" validate:"required"`
	IndexName       string   `yaml:"index_name" default:"Equal Weight 60D Top 70%"`
	TopPct          float64  `yaml:"top_pct" default:"0.7" validate:"gt=0,lte=1"`
	LiquidityWindow int      `yaml:"liquidity_window" default:"60" validate:"gte=1"`
	BaseDate        string   `yaml:"base_date" default:"2024-01-01"`
	Rebalance       string   `yaml:"rebalance" default:"monthly" validate:"oneof=monthly quarterly"`
	GroupKinds      []string `yaml:"group_kinds" default:"[\"industry\",\"theme\"]"`
}

type IndexConfig struct {
	BaseValue   float64       `yaml:"base_value" default:"100" validate:"gt=0"`
	Parallelism int           `yaml:"parallelism" default:"4" validate:"gte=1"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"10m"`
}

type RateLimitConfig struct {
	Capacity     float64 `yaml:"capacity" default:"5"`
	RefillPerSec float64 `yaml:"refill_per_sec" default:"0.2"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.Store.Tables.Groups = defaultGroupTables()
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with RSINDEX_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(c); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	m := c.Momentum
	if len(m.Windows) == 0 {
		return errors.New("momentum.windows cannot be empty")
	}
	if len(m.Windows) != len(m.Weights) {
		return fmt.Errorf("momentum.windows has %d entries but momentum.weights has %d", len(m.Windows), len(m.Weights))
	}
	prev := 0
	for _, w := range m.Windows {
		if w <= prev {
			return fmt.Errorf("momentum.windows must be positive and strictly increasing, got %v", m.Windows)
		}
		prev = w
	}

	if _, err := util.ParseDate(c.Universe.BaseDate); err != nil {
		return fmt.Errorf("universe.base_date: %w", err)
	}
	for _, kind := range c.Universe.GroupKinds {
		if _, ok := c.Store.Tables.Groups[kind]; !ok {
			return fmt.Errorf("universe.group_kinds: no store.tables.groups entry for %q", kind)
		}
	}

	switch c.Store.Backend {
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
	case "rest":
		if c.REST.BaseURL == "" {
			return errors.New("rest.base_url is required for the rest backend")
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return errors.New("queue requires redis.enabled")
	}
	return nil
}

// BaseDate returns the parsed universe base date. Only valid after Validate.
func (c *Config) BaseDate() time.Time {
	t, _ := util.ParseDate(c.Universe.BaseDate)
	return t
}

func defaultGroupTables() map[string]GroupTable {
	return map[string]GroupTable{
		"industry": {Catalog: "industries", Members: "company_industries", IDColumn: "industry_id"},
		"theme":    {Catalog: "themes", Members: "company_themes", IDColumn: "theme_id"},
	}
}
