package di

import (
	"fmt"
	"strings"
	"time"

	"OhlcvAPI/internal/domain/market"
	domrepo "OhlcvAPI/internal/domain/repository"
	"OhlcvAPI/internal/feed"
	"OhlcvAPI/internal/gateway"
	"OhlcvAPI/internal/handler/api"
	"OhlcvAPI/internal/handler/ws"
	mid "OhlcvAPI/internal/middleware"
	"OhlcvAPI/internal/realtime"
	internalrepo "OhlcvAPI/internal/repository"
	"OhlcvAPI/internal/usecase"
	"OhlcvAPI/pkg/cache"
	pkgch "OhlcvAPI/pkg/clickhouse"
	"OhlcvAPI/pkg/config"
	xhttp "OhlcvAPI/pkg/http"
	pkgkafka "OhlcvAPI/pkg/kafka"
	applogger "OhlcvAPI/pkg/logger"
	"OhlcvAPI/pkg/metrics"
	pkgpg "OhlcvAPI/pkg/postgres"
	"OhlcvAPI/pkg/ratelimit"
	"OhlcvAPI/pkg/server"

	"github.com/redis/go-redis/v9"
)

// limiterIdle is how long a client key may stay silent before its bucket is pruned.
const limiterIdle = 10 * time.Minute

// throttleIdle is how long a live key may stay silent before its throttle entry is pruned.
const throttleIdle = 5 * time.Minute

// ProvideMetrics creates a Prometheus metrics recorder, or a no-op one when metrics are disabled.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideLogPublisher attaches a Kafka-backed collector to the logger when log collection is enabled.
// Returns nil otherwise.
func ProvideLogPublisher(cfg *config.Config, log *applogger.Logger) (*internalrepo.KafkaLogPublisher, error) {
	if !cfg.Log.Collect.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithAsync(true),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithBatch(50, 2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka log producer: %w", err)
	}
	pub := internalrepo.NewKafkaLogPublisher(producer, cfg.Service)
	log.AddCollector(&applogger.CollectionConfig{
		FlushInterval: cfg.Log.Collect.Interval,
		MaxEntries:    cfg.Log.Collect.Threshold,
		Topic:         cfg.Log.Collect.Topic,
		Publisher:     pub,
	})
	return pub, nil
}

// ProvideStore opens the configured storage backend.
func ProvideStore(cfg *config.Config, log *applogger.Logger, m domrepo.Metrics) (domrepo.Store, error) {
	switch cfg.Storage.Backend {
	case "clickhouse":
		c := cfg.Storage.ClickHouse
		client, err := pkgch.NewClient(
			pkgch.WithHost(c.Host),
			pkgch.WithPort(c.Port),
			pkgch.WithDatabase(c.Database),
			pkgch.WithCredentials(c.User, c.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(c.UseHTTP),
			pkgch.WithReadonly(true),
			pkgch.WithTimeouts(c.DialTimeout, c.ReadTimeout),
			pkgch.WithCompression(c.Compress),
			pkgch.WithMaxExecutionTime(c.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		return internalrepo.NewClickHouseStore(client, log, m), nil

	case "sqlite":
		store, err := internalrepo.NewSQLiteStore(cfg.Storage.SQLite.Path, log, m)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return store, nil

	default:
		t := cfg.Storage.Timescale
		opts := []pkgpg.ClientOption{
			pkgpg.WithMaxConnections(t.MaxOpenConns, t.MaxIdleConns),
			pkgpg.WithStatementTimeout(t.StatementTimeout),
		}
		if t.DSN != "" {
			opts = append(opts, pkgpg.WithDSN(t.DSN))
		} else {
			opts = append(opts,
				pkgpg.WithHost(t.Host, t.Port),
				pkgpg.WithDatabase(t.Database),
				pkgpg.WithCredentials(t.User, t.Password),
				pkgpg.WithSSLMode(t.SSLMode),
			)
		}
		client, err := pkgpg.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("timescale client: %w", err)
		}
		return internalrepo.NewTimescaleStore(client, log, m), nil
	}
}

// ProvideRedisClient connects to Redis when an address is configured. Returns nil otherwise.
func ProvideRedisClient(cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	return cache.NewRedisClient(
		cache.WithRedisAddrs(strings.Split(cfg.Redis.Addr, ",")...),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns),
	)
}

// ProvideCache builds the response cache for range queries. Returns nil for backend "none".
func ProvideCache(cfg *config.Config, rc redis.UniversalClient) (cache.Service, error) {
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil
	case "redis":
		return cache.NewRedisCache(rc, cfg.Redis.Prefix), nil
	case "layered":
		return cache.NewLayeredCache(
			cache.NewRedisCache(rc, cfg.Redis.Prefix),
			cache.WithL1(cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxEntries))),
			cache.WithL1TTL(cfg.Cache.TTL/2),
		), nil
	default:
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxEntries)), nil
	}
}

// ProvideHub creates the WebSocket connection manager.
func ProvideHub(log *applogger.Logger, m domrepo.Metrics) *realtime.Manager {
	return realtime.NewManager(realtime.WithLogger(log), realtime.WithMetrics(m))
}

func ProvideCandlesUseCase(store domrepo.Store, cfg *config.Config, log *applogger.Logger, m domrepo.Metrics) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(store, market.WindowPolicy{Fallback: cfg.Window.Fallback},
		usecase.WithLogger(log),
		usecase.WithMetrics(m),
	)
}

func ProvideTradesUseCase(store domrepo.Store, log *applogger.Logger, m domrepo.Metrics) *usecase.TradesUseCase {
	return usecase.NewTradesUseCase(store, usecase.WithLogger(log), usecase.WithMetrics(m))
}

// ProvideLivePipeline puts validation and per-key throttling in front of the broadcaster.
func ProvideLivePipeline(hub *realtime.Manager, cfg *config.Config, log *applogger.Logger, m domrepo.Metrics) *mid.LivePipeline {
	broadcaster := usecase.NewLiveBroadcaster(hub, usecase.WithLogger(log), usecase.WithMetrics(m))
	return mid.NewLivePipeline(broadcaster, m, mid.WithMaxRPS(cfg.Live.MaxRPS))
}

// ProvideLiveUpdatesHandler decodes source payloads into the pipeline.
func ProvideLiveUpdatesHandler(pipe *mid.LivePipeline, cfg *config.Config, m domrepo.Metrics) *usecase.LiveUpdatesHandler {
	return usecase.NewLiveUpdatesHandler(cfg.Live.Kafka.Topic, pipe, m)
}

// ProvideLiveConsumer creates the Kafka consumer for live updates. Returns nil when disabled.
func ProvideLiveConsumer(cfg *config.Config, h *usecase.LiveUpdatesHandler, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	k := cfg.Live.Kafka
	if !k.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(k.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(k.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(k.Workers),
		pkgkafka.WithConsumerBufferSize(k.BufferSize),
		pkgkafka.WithConsumerRetry(k.RetryMax, k.BackoffMin, k.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(h)
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TracingHook{},
		pkgkafka.MaxAgeHook{MaxAge: k.MaxAge},
	))
	return consumer, nil
}

// ProvideRedisSource subscribes to Redis pub/sub live channels. Returns nil when disabled.
func ProvideRedisSource(cfg *config.Config, rc redis.UniversalClient, h *usecase.LiveUpdatesHandler, log *applogger.Logger) *feed.RedisSource {
	if !cfg.Live.Redis.Enabled || rc == nil {
		return nil
	}
	return feed.NewRedisSource(rc, cfg.Live.Redis.Channels, h, log)
}

func ProvideMarketHandler(
	candles *usecase.CandlesUseCase,
	trades *usecase.TradesUseCase,
	store domrepo.Store,
	hub *realtime.Manager,
	c cache.Service,
	cfg *config.Config,
	log *applogger.Logger,
) *api.MarketHandler {
	opts := []api.MarketOption{
		api.WithLogger(log),
		api.WithServiceName(cfg.Service),
		api.WithBasePath(cfg.API.Prefix),
	}
	if c != nil {
		opts = append(opts, api.WithCache(c, cfg.Cache.TTL))
	}
	return api.NewMarketHandler(candles, trades, store, hub, opts...)
}

func ProvideWSHandler(hub *realtime.Manager, log *applogger.Logger) *ws.Handler {
	return ws.NewHandler(hub, ws.WithLogger(log))
}

func ProvideGateway(market *api.MarketHandler, live *ws.Handler, cfg *config.Config) *gateway.Gateway {
	return gateway.New(market, live, cfg.API.Prefix)
}

// ProvideLimiter returns the per-client rate limiter, or nil when rate limiting is disabled.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.API.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.API.RateLimit.Burst, cfg.API.RateLimit.PerSecond)
}

func ProvideHTTPServer(gw *gateway.Gateway, limiter *ratelimit.Limiter, cfg *config.Config, log *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(gw,
		xhttp.WithHost(cfg.API.Host),
		xhttp.WithPort(cfg.API.Port),
		xhttp.WithTimeouts(cfg.API.ReadTimeout, cfg.API.ShutdownTimeout),
		xhttp.WithCORS(cfg.API.CORS, cfg.API.CORSOrigins...),
		xhttp.WithSlowThreshold(cfg.API.SlowThreshold),
		xhttp.WithMetrics(cfg.Metrics.Enabled),
		xhttp.WithLogger(log),
		xhttp.WithRateLimit(limiter),
	)
}

// ProvideApp assembles the application lifecycle. Closers run in reverse order,
// so the hub closes client sockets before storage and Redis go away.
func ProvideApp(
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	source *feed.RedisSource,
	hub *realtime.Manager,
	pipe *mid.LivePipeline,
	store domrepo.Store,
	c cache.Service,
	rc redis.UniversalClient,
	logPub *internalrepo.KafkaLogPublisher,
	limiter *ratelimit.Limiter,
	cfg *config.Config,
	log *applogger.Logger,
) *server.App {
	opts := []server.Option{
		server.WithLogger(log),
		server.WithShutdownTimeout(cfg.API.ShutdownTimeout),
	}
	if logPub != nil {
		opts = append(opts, server.WithCloser("log_collector", server.CloserFunc(func() error {
			log.RemoveCollector()
			return logPub.Close()
		})))
	}
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc))
	}
	opts = append(opts, server.WithCloser("store", store))
	if c != nil {
		opts = append(opts, server.WithCloser("cache", c))
	}
	opts = append(opts, server.WithCloser("hub", server.CloserFunc(func() error {
		hub.CloseAll()
		return nil
	})))
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer))
	}
	if source != nil {
		opts = append(opts, server.WithBackground("redis_source", source))
	}
	if consumer != nil || source != nil {
		opts = append(opts, server.WithBackground("throttle_prune", server.Every(time.Minute, func() {
			pipe.Prune(throttleIdle)
		})))
	}
	if limiter != nil {
		opts = append(opts, server.WithBackground("limiter_prune", server.Every(time.Minute, func() {
			limiter.Prune(limiterIdle)
		})))
	}
	return server.New(srv, opts...)
}
