package di

import (
	"context"
	"fmt"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/internal/handler/api"
	"RSIndex/internal/repository"
	"RSIndex/internal/service/ratelimit"
	"RSIndex/internal/services/indexing"
	"RSIndex/internal/services/momentum"
	"RSIndex/internal/services/universe"
	"RSIndex/internal/usecase"
	"RSIndex/pkg/cache"
	pkgch "RSIndex/pkg/clickhouse"
	"RSIndex/pkg/config"
	pkgkafka "RSIndex/pkg/kafka"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/metrics"
	"RSIndex/pkg/postgres"
	"RSIndex/pkg/queue"
	"RSIndex/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics registers the Prometheus recorder on the default registry.
func ProvideMetrics() drepo.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideStore opens the configured backend, optionally creates the derived tables and
// wraps the result in circuit breakers.
func ProvideStore(cfg *config.Config, log *logger.Logger) (drepo.Store, error) {
	tables := repository.TablesFromConfig(cfg.Store.Tables)

	var store drepo.Store
	switch cfg.Store.Backend {
	case "postgres":
		pgCfg := postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
			QueryTimeout:    cfg.Store.QueryTimeout,
		}
		client, err := postgres.NewClient(pgCfg, log)
		if err != nil {
			return nil, err
		}
		store = repository.NewPostgresStore(client, tables, cfg.Store.WriteBatch, log)
	case "clickhouse":
		client, err := pkgch.NewClient(log,
			pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store = repository.NewClickHouseStore(client, tables, cfg.Store.WriteBatch, cfg.Store.QueryTimeout, log)
	case "rest":
		store = repository.NewRESTStore(cfg.REST.BaseURL, cfg.REST.APIKey, cfg.REST.Timeout, tables, cfg.Store.PageSize, cfg.Store.WriteBatch, log)
	case "memory":
		store = repository.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if m, ok := store.(interface{ Migrate(context.Context) error }); ok && cfg.Store.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate %s store: %w", cfg.Store.Backend, err)
		}
		log.Info("store schema ready", logger.String("backend", cfg.Store.Backend))
	}

	if cfg.Store.Breaker.Enabled && cfg.Store.Backend != "memory" {
		return repository.NewBreakerStore(store, cfg.Store.Breaker, log), nil
	}
	return store, nil
}

// ProvideRedisClient returns nil when redis is disabled.
func ProvideRedisClient(cfg *config.Config, log *logger.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis connected", logger.String("host", cfg.Redis.Host), logger.Int("port", cfg.Redis.Port))
	return client, nil
}

// ProvideCache layers a process-local cache over redis when redis is on.
func ProvideCache(cfg *config.Config, client *redis.Client) cache.Service {
	l1 := cache.NewMemoryCache(cache.WithMemoryTTL(cfg.Server.CacheTTL))
	if client == nil {
		return l1
	}
	return cache.NewLayeredCache(l1, cache.NewRedisCacheFromClient(client, cfg.Redis.Prefix), time.Minute)
}

// ProvideLocker takes index rebuild locks through the cache.
func ProvideLocker(c cache.Service) drepo.Locker { return c }

// ProvideKafkaProducer returns nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(log,
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer returns nil when kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideQueue returns nil unless the queue is enabled.
func ProvideQueue(cfg *config.Config, client *redis.Client, log *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || client == nil {
		return nil
	}
	return queue.NewRedisQueue(log, queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		KeyPrefix:  cfg.Queue.KeyPrefix,
	}, client)
}

func ProvideQueries(cfg *config.Config, store drepo.Store, c cache.Service, log *logger.Logger) *usecase.Queries {
	return usecase.NewQueries(store, c, cfg.Server.CacheTTL, log)
}

// ProvideEvents publishes to kafka when a producer exists and logs otherwise. Either
// way cached reads are invalidated first.
func ProvideEvents(cfg *config.Config, producer *pkgkafka.Producer, queries *usecase.Queries, log *logger.Logger) drepo.EventPublisher {
	if producer != nil {
		return queries.Wrap(usecase.NewKafkaEvents(producer, cfg.Kafka.Topics.Events))
	}
	return queries.Wrap(usecase.NewLogEvents(log))
}

func ProvideScorer(cfg *config.Config) (*momentum.Scorer, error) {
	h := cfg.Momentum.Horizons
	return momentum.NewScorer(cfg.Momentum.Windows, cfg.Momentum.Weights, momentum.Horizons{
		ThreeMonth:  h.ThreeMonth,
		SixMonth:    h.SixMonth,
		TwelveMonth: h.TwelveMonth,
	})
}

func ProvideSelector(cfg *config.Config) (*universe.Selector, error) {
	return universe.NewSelector(cfg.Universe.LiquidityWindow, cfg.Universe.TopPct)
}

func ProvideCompounder(cfg *config.Config) *indexing.Compounder {
	return indexing.NewCompounder(cfg.Index.BaseValue)
}

func parentKey(cfg *config.Config) models.IndexKey {
	return models.IndexKey{IndexType: cfg.Universe.IndexType, IndexCode: cfg.Universe.IndexCode}
}

func ProvideMomentumRanking(
	cfg *config.Config,
	store drepo.Store,
	scorer *momentum.Scorer,
	events drepo.EventPublisher,
	m drepo.Metrics,
	log *logger.Logger,
) *usecase.MomentumRanking {
	return usecase.NewMomentumRanking(store, store, scorer, events, m, log, cfg.Store.WriteBatch)
}

func ProvideConstituentBuilder(
	cfg *config.Config,
	store drepo.Store,
	selector *universe.Selector,
	events drepo.EventPublisher,
	m drepo.Metrics,
	log *logger.Logger,
) *usecase.ConstituentBuilder {
	return usecase.NewConstituentBuilder(store, store, selector, usecase.ConstituentSettings{
		Key:        parentKey(cfg),
		BaseDate:   cfg.BaseDate(),
		Frequency:  cfg.Universe.Rebalance,
		GroupKinds: cfg.Universe.GroupKinds,
	}, events, m, log)
}

func ProvideIndexBuilder(
	cfg *config.Config,
	store drepo.Store,
	compounder *indexing.Compounder,
	locker drepo.Locker,
	events drepo.EventPublisher,
	m drepo.Metrics,
	log *logger.Logger,
) *usecase.IndexBuilder {
	return usecase.NewIndexBuilder(store, store, store, compounder, locker, usecase.IndexSettings{
		Parent:      parentKey(cfg),
		ParentName:  cfg.Universe.IndexName,
		BaseDate:    cfg.BaseDate(),
		Frequency:   cfg.Universe.Rebalance,
		GroupKinds:  cfg.Universe.GroupKinds,
		Parallelism: cfg.Index.Parallelism,
		LockTTL:     cfg.Index.LockTTL,
	}, events, m, log)
}

func ProvideLiquidityRanker(store drepo.Store, selector *universe.Selector) *usecase.LiquidityRanker {
	return usecase.NewLiquidityRanker(store, selector)
}

// ProvideJobs runs jobs inline when no queue is configured.
func ProvideJobs(
	q *queue.RedisQueue,
	m *usecase.MomentumRanking,
	c *usecase.ConstituentBuilder,
	i *usecase.IndexBuilder,
	log *logger.Logger,
) *usecase.Jobs {
	if q == nil {
		return usecase.NewJobs(nil, m, c, i, log)
	}
	return usecase.NewJobs(q, m, c, i, log)
}

func ProvidePricesUpdatedHandler(cfg *config.Config, jobs *usecase.Jobs, m drepo.Metrics, log *logger.Logger) *usecase.PricesUpdatedHandler {
	return usecase.NewPricesUpdatedHandler(cfg.Kafka.Topics.PricesUpdated, jobs, m, log)
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
}

func ProvideHandler(
	log *logger.Logger,
	queries *usecase.Queries,
	liquidity *usecase.LiquidityRanker,
	jobs *usecase.Jobs,
	limiter *ratelimit.Limiter,
) *api.Handler {
	return api.NewHandler(log, queries, liquidity, jobs, limiter)
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	store drepo.Store,
	c cache.Service,
	client *redis.Client,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	prices *usecase.PricesUpdatedHandler,
	handler *api.Handler,
	jobs *usecase.Jobs,
	m *usecase.MomentumRanking,
	cb *usecase.ConstituentBuilder,
	ib *usecase.IndexBuilder,
) *server.App {
	return server.New(cfg, log, server.Components{
		Store:        store,
		Cache:        c,
		Redis:        client,
		Queue:        q,
		Producer:     producer,
		Consumer:     consumer,
		PricesTopic:  prices,
		Handler:      handler,
		Jobs:         jobs,
		Momentum:     m,
		Constituents: cb,
		Indices:      ib,
	})
}
