package server

import (
	"context"
	"fmt"
	"time"

	drepo "RSIndex/internal/domain/repository"
	"RSIndex/internal/usecase"
	"RSIndex/pkg/cache"
	"RSIndex/pkg/config"
	xhttp "RSIndex/pkg/http"
	pkgkafka "RSIndex/pkg/kafka"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// App owns every long-lived component and its lifecycle.
type App struct {
	cfg      *config.Config
	log      *logger.Logger
	store    drepo.Store
	cache    cache.Service
	redis    *redis.Client
	queue    *queue.RedisQueue
	producer *pkgkafka.Producer
	consumer *pkgkafka.Consumer
	prices   pkgkafka.MessageHandler
	handler  xhttp.Handler

	jobs         *usecase.Jobs
	momentum     *usecase.MomentumRanking
	constituents *usecase.ConstituentBuilder
	indices      *usecase.IndexBuilder

	httpServer *xhttp.Server
}

// Components groups what New needs. Nil infrastructure fields mean the feature is off.
type Components struct {
	Store        drepo.Store
	Cache        cache.Service
	Redis        *redis.Client
	Queue        *queue.RedisQueue
	Producer     *pkgkafka.Producer
	Consumer     *pkgkafka.Consumer
	PricesTopic  pkgkafka.MessageHandler
	Handler      xhttp.Handler
	Jobs         *usecase.Jobs
	Momentum     *usecase.MomentumRanking
	Constituents *usecase.ConstituentBuilder
	Indices      *usecase.IndexBuilder
}

func New(cfg *config.Config, log *logger.Logger, c Components) *App {
	return &App{
		cfg:          cfg,
		log:          log,
		store:        c.Store,
		cache:        c.Cache,
		redis:        c.Redis,
		queue:        c.Queue,
		producer:     c.Producer,
		consumer:     c.Consumer,
		prices:       c.PricesTopic,
		handler:      c.Handler,
		jobs:         c.Jobs,
		momentum:     c.Momentum,
		constituents: c.Constituents,
		indices:      c.Indices,
	}
}

func (a *App) Logger() *logger.Logger { return a.log }
func (a *App) Momentum() *usecase.MomentumRanking { return a.momentum }
func (a *App) Constituents() *usecase.ConstituentBuilder { return a.constituents }
func (a *App) Indices() *usecase.IndexBuilder { return a.indices }

// Serve starts the HTTP API, queue workers and the price-update consumer, then blocks
// until ctx is cancelled and shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Log.CollectorTopic != "" && a.producer != nil {
		a.log.AddCollector(&logger.CollectionConfig{
			FlushInterval: a.cfg.Log.FlushInterval,
			Topic:         a.cfg.Log.CollectorTopic,
			Publisher:     a.producer,
		})
	}

	if a.queue != nil {
		a.queue.RegisterJobs(a.jobs.Handlers()...)
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
		a.log.Info("job queue started", logger.Int("workers", a.cfg.Queue.Workers))
	}

	if a.consumer != nil && a.prices != nil {
		a.consumer.RegisterHandler(a.prices)
		a.consumer.WithHook(pkgkafka.TraceIDHook())
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", logger.String("topic", a.prices.Topic()))
	}

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.handler, a.log,
		xhttp.WithAddr(a.cfg.Server.Host, a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithHealth(a.health),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) health(ctx context.Context) error {
	if err := a.store.Health(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", logger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", logger.Error(err))
		}
	}
	a.Close()
	a.log.Info("shutdown complete")
	return nil
}

// Close releases infrastructure clients. Safe to call after one-shot commands.
func (a *App) Close() {
	start := time.Now()
	a.log.RemoveCollector()
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", logger.Error(err))
		}
		a.producer = nil
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close error", logger.Error(err))
		}
		a.cache = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close error", logger.Error(err))
		}
		a.redis = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close error", logger.Error(err))
		}
		a.store = nil
	}
	a.log.Debug("clients closed", logger.Duration("took", time.Since(start)))
}
