package config

import "github.com/kelseyhightower/envconfig"

// envOverrides lists the settings deployments commonly inject through the environment.
// Fields carry no defaults so an unset variable never clobbers the YAML value.
type envOverrides struct {
	Environment  string   `envconfig:"ENVIRONMENT"`
	LogLevel     string   `envconfig:"LOG_LEVEL"`
	ServerPort   int      `envconfig:"SERVER_PORT"`
	StoreBackend string   `envconfig:"STORE_BACKEND"`
	PostgresDSN  string   `envconfig:"POSTGRES_DSN"`
	RESTBaseURL  string   `envconfig:"REST_BASE_URL"`
	RESTAPIKey   string   `envconfig:"REST_API_KEY"`
	CHPassword   string   `envconfig:"CLICKHOUSE_PASSWORD"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	RedisHost    string   `envconfig:"REDIS_HOST"`
	RedisPass    string   `envconfig:"REDIS_PASSWORD"`
	BaseDate     string   `envconfig:"BASE_DATE"`
}

const envPrefix = "RSINDEX"

func applyEnv(c *Config) error {
	var o envOverrides
	if err := envconfig.Process(envPrefix, &o); err != nil {
		return err
	}

	setString(&c.Environment, o.Environment)
	setString(&c.Log.Level, o.LogLevel)
	if o.ServerPort != 0 {
		c.Server.Port = o.ServerPort
	}
	setString(&c.Store.Backend, o.StoreBackend)
	setString(&c.Postgres.DSN, o.PostgresDSN)
	setString(&c.REST.BaseURL, o.RESTBaseURL)
	setString(&c.REST.APIKey, o.RESTAPIKey)
	setString(&c.ClickHouse.Password, o.CHPassword)
	if len(o.KafkaBrokers) > 0 {
		c.Kafka.Brokers = o.KafkaBrokers
	}
	setString(&c.Redis.Host, o.RedisHost)
	setString(&c.Redis.Password, o.RedisPass)
	setString(&c.Universe.BaseDate, o.BaseDate)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
