package di

import (
	"context"
	"fmt"
	"time"

	"FluxDash/internal/domain/repository"
	"FluxDash/internal/handler/api"
	mid "FluxDash/internal/middleware"
	internalrepo "FluxDash/internal/repository"
	"FluxDash/internal/service/lasp"
	"FluxDash/internal/service/ratelimit"
	"FluxDash/internal/usecase"
	pkgcache "FluxDash/pkg/cache"
	pkgch "FluxDash/pkg/clickhouse"
	"FluxDash/pkg/config"
	xhttp "FluxDash/pkg/http"
	httpmw "FluxDash/pkg/http/middleware"
	pkgkafka "FluxDash/pkg/kafka"
	applogger "FluxDash/pkg/logger"
	"FluxDash/pkg/metrics"
	"FluxDash/pkg/server"
)

// ProvideLogger creates the root logger. With log.collect set, repeated
// warnings and errors are aggregated and published to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Log.CollectTopic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when the backend stores observations.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.UsesClickHouse() {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideStorage creates the ClickHouse flux store and ensures its schema.
func ProvideStorage(ch *pkgch.Client, l *applogger.Logger) (repository.Storage, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHFluxStore(ch, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer when observations or logs go to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != config.BackendKafka && !cfg.Log.Collect {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the Kafka observation publisher.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil || cfg.Backend.Type != config.BackendKafka {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideKafkaConsumer creates the consumer that moves observations from Kafka to ClickHouse.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Backend.Type != config.BackendKafka {
		return nil, nil
	}
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	}
	if cfg.Kafka.Consumer.FromLatest {
		opts = append(opts, pkgkafka.WithConsumerLatestOffset())
	}
	consumer, err := pkgkafka.NewConsumer(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TracingHook(),
		pkgkafka.LoggingHook(l, cfg.Metrics.SlowThreshold),
	))
	return consumer, nil
}

// ProvideKafkaFluxHandler creates the handler for the observations topic.
func ProvideKafkaFluxHandler(store repository.Storage, metrics repository.Metrics, cfg *config.Config) *usecase.KafkaFluxHandler {
	if store == nil || cfg.Backend.Type != config.BackendKafka {
		return nil
	}
	return usecase.NewKafkaFluxHandler(cfg.Kafka.Topic, store, metrics)
}

// ProvideCache creates the series cache for cache.backend.
func ProvideCache(cfg *config.Config) (pkgcache.Service, error) {
	memory := func() *pkgcache.MemoryCache {
		return pkgcache.NewMemoryCache(
			pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
			pkgcache.WithMemoryCleanup(time.Minute),
		)
	}
	if !cfg.UsesRedis() {
		return memory(), nil
	}

	redis, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Cache.Redis.Host),
		pkgcache.WithRedisPort(cfg.Cache.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
		pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
		pkgcache.WithRedisPool(cfg.Cache.Redis.PoolSize, cfg.Cache.Redis.MinIdle, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if cfg.Cache.Backend == "layered" {
		return pkgcache.NewLayeredCache(redis,
			pkgcache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
			pkgcache.WithLayeredMemoryTTL(time.Minute),
		), nil
	}
	return redis, nil
}

// ProvideFluxSource creates the LASP LaTiS client.
func ProvideFluxSource(cfg *config.Config, l *applogger.Logger) repository.FluxSource {
	return lasp.NewClient(cfg.LASP.BaseURL, cfg.LASP.Dataset, l,
		xhttp.WithTimeout(cfg.LASP.Timeout),
		xhttp.WithRetries(cfg.LASP.Retries, 500*time.Millisecond),
		xhttp.WithUserAgent("fluxdash/"+cfg.Environment),
	)
}

// ProvideFluxProcessor creates the backend router.
func ProvideFluxProcessor(pub repository.Publisher, store repository.Storage, metrics repository.Metrics, cfg *config.Config) *usecase.FluxProcessor {
	return usecase.NewFluxProcessor(cfg.Backend.Type, pub, store, metrics, cfg.Backend.BatchSize)
}

// ProvidePipeline builds the validation and buffering stage between the
// source poller and the processor.
func ProvidePipeline(proc *usecase.FluxProcessor, metrics repository.Metrics, l *applogger.Logger) *mid.ObservationPipeline {
	return mid.NewObservationPipeline(proc, metrics,
		mid.WithBufferSize(64),
		mid.WithBackoff(100*time.Millisecond, 30*time.Second),
		mid.WithLogger(l),
	)
}

// ProvideFluxExplorer creates the read-side use case.
func ProvideFluxExplorer(
	source repository.FluxSource,
	store repository.Storage,
	cache pkgcache.Service,
	metrics repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.FluxExplorer {
	opts := []usecase.ExplorerOption{
		usecase.WithCacheTTL(cfg.Cache.TTL),
		usecase.WithRollingDefaults(cfg.Cleaning.RollingWindow, cfg.Cleaning.RollingThreshold),
		usecase.WithExplorerLogger(l),
	}
	if store != nil {
		opts = append(opts, usecase.WithStorageFallback(store, cfg.Cleaning.StorageFallback))
	}
	return usecase.NewFluxExplorer(source, cache, metrics, opts...)
}

// ProvideStreamHub creates the websocket hub.
func ProvideStreamHub(cfg *config.Config, l *applogger.Logger) *api.StreamHub {
	return api.NewStreamHub(l, api.WithPingInterval(cfg.Server.WSPingInterval))
}

// ProvideFluxCollector creates the scheduled collector.
func ProvideFluxCollector(
	source repository.FluxSource,
	explorer *usecase.FluxExplorer,
	pipe *mid.ObservationPipeline,
	store repository.Storage,
	hub *api.StreamHub,
	cache pkgcache.Service,
	metrics repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.FluxCollector {
	opts := []usecase.CollectorOption{
		usecase.WithInterval(cfg.LASP.PollInterval),
		usecase.WithBroadcaster(hub),
		usecase.WithCollectorLogger(l),
	}
	if store != nil {
		opts = append(opts, usecase.WithSeedStorage(store))
	}
	return usecase.NewFluxCollector(source, explorer, pipe, cache, metrics, opts...)
}

// ProvideRateLimiter creates the per-client limiter for /api routes.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
}

// ProvideFluxHandler creates the REST handler.
func ProvideFluxHandler(
	explorer *usecase.FluxExplorer,
	collector *usecase.FluxCollector,
	store repository.Storage,
	cfg *config.Config,
	l *applogger.Logger,
) *api.FluxEchoHandler {
	return api.NewFluxEchoHandler(l, explorer, collector).WithHealthStorage(cfg.Backend.Type, store)
}

// ProvideHTTPServer creates the echo server with every route registered.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	fh *api.FluxEchoHandler,
	hub *api.StreamHub,
	limiter *ratelimit.Limiter,
) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, xhttp.Handlers{fh, hub},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(metricsPath, cfg.Metrics.SlowThreshold),
		xhttp.WithMiddleware(httpmw.RateLimit(limiter, "/api/")),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	collector *usecase.FluxCollector,
	processor *usecase.FluxProcessor,
	hub *api.StreamHub,
	cache pkgcache.Service,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaFluxHandler,
	producer *pkgkafka.Producer,
	store repository.Storage,
	chClient *pkgch.Client,
) *server.App {
	deps := server.Deps{
		HTTP:      srv,
		Collector: collector,
		Processor: processor,
		Hub:       hub,
		Cache:     cache,
		Consumer:  consumer,
		Producer:  producer,
		Storage:   store,
		CHClient:  chClient,
	}
	// a nil *KafkaFluxHandler must not become a non-nil interface
	if kh != nil {
		deps.Handler = kh
	}
	return server.New(cfg, l, deps)
}
