package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	drepo "RunGuard/internal/domain/repository"
	"RunGuard/internal/handler/api"
	mid "RunGuard/internal/middleware"
	internalrepo "RunGuard/internal/repository"
	svcmetrics "RunGuard/internal/service/metrics"
	"RunGuard/internal/usecase"
	"RunGuard/pkg/cache"
	pkgch "RunGuard/pkg/clickhouse"
	"RunGuard/pkg/config"
	xhttp "RunGuard/pkg/http"
	pkgkafka "RunGuard/pkg/kafka"
	applogger "RunGuard/pkg/logger"
	"RunGuard/pkg/metrics"
	pkgpg "RunGuard/pkg/postgres"
	"RunGuard/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder and registers the
// session collectors.
func ProvideMetrics() drepo.Metrics {
	svcmetrics.Register()
	return metrics.New()
}

// ProvideSnapshotCache returns Redis when enabled, an in-process cache otherwise.
func ProvideSnapshotCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		l.Info("snapshot store: in-memory")
		c := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Session.MaxSessions * 2))
		return c, func() { _ = c.Close() }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	c, err := cache.NewRedisCache(ctx, cfg.Redis.RedisConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	l.Info("snapshot store: redis", applogger.String("addr", cfg.Redis.Addr))
	return c, func() { _ = c.Close() }, nil
}

// ProvideSnapshotStore wraps the cache with the snapshot key scheme and TTL.
func ProvideSnapshotStore(c cache.Service, cfg *config.Config) drepo.SnapshotStore {
	return internalrepo.NewSnapshotStore(c, cfg.Session.SnapshotTTL)
}

// ProvideClickHouseClient connects and creates the tables.
func ProvideClickHouseClient(ctx context.Context, cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(ctx, cfg.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvidePostgresClient connects and creates the tables.
func ProvidePostgresClient(ctx context.Context, cfg *config.Config) (*pkgpg.Client, error) {
	client, err := pkgpg.NewClient(ctx, cfg.Postgres.DSN,
		pkgpg.WithPoolSize(cfg.Postgres.MaxConns, cfg.Postgres.MinConns),
		pkgpg.WithConnectTimeout(cfg.Postgres.ConnTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	if err := client.InitSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(cfg.Kafka.Config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRecorder builds one recorder per configured backend and fans out to
// them. The cleanup closes the database clients; Kafka producers are closed
// by their recorder.
func ProvideRecorder(cfg *config.Config, m drepo.Metrics, l *applogger.Logger) (drepo.Recorder, func(), error) {
	backends := cfg.Backends()
	if len(backends) == 0 {
		return internalrepo.NopRecorder{}, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var (
		recorders []drepo.Recorder
		closers   []func() error
	)
	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	fail := func(err error) (drepo.Recorder, func(), error) {
		for _, r := range recorders {
			_ = r.Close()
		}
		cleanup()
		return nil, nil, err
	}

	for _, b := range backends {
		switch b {
		case config.BackendKafka:
			p, err := ProvideKafkaProducer(cfg)
			if err != nil {
				return fail(err)
			}
			recorders = append(recorders, internalrepo.NewKafkaRecorder(p, cfg.Kafka.OutputsTopic))
		case config.BackendClickHouse:
			ch, err := ProvideClickHouseClient(ctx, cfg)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, ch.Close)
			recorders = append(recorders, internalrepo.NewClickHouseRecorder(ch))
		case config.BackendPostgres:
			pg, err := ProvidePostgresClient(ctx, cfg)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, pg.Close)
			recorders = append(recorders, internalrepo.NewPostgresRecorder(pg))
		default:
			return fail(fmt.Errorf("unsupported backend %q", b))
		}
		l.Info("recorder ready", applogger.String("backend", b))
	}

	return internalrepo.NewMultiRecorder(m, l, recorders...), cleanup, nil
}

// ProvideStreamHub creates the websocket broadcaster.
func ProvideStreamHub(cfg *config.Config, l *applogger.Logger) *api.StreamHub {
	return api.NewStreamHub(cfg.Session.StreamBuffer, l)
}

// ProvideSessionRegistry creates the registry shared by every transport.
func ProvideSessionRegistry(
	cfg *config.Config,
	rec drepo.Recorder,
	hub *api.StreamHub,
	store drepo.SnapshotStore,
	m drepo.Metrics,
	l *applogger.Logger,
) (*usecase.SessionRegistry, error) {
	return usecase.NewSessionRegistry(cfg.Engine, usecase.RunnerDeps{
		Recorder:      rec,
		Broadcaster:   hub,
		Snapshots:     store,
		Metrics:       m,
		SnapshotEvery: cfg.Session.SnapshotEvery,
		Log:           l,
	}, cfg.Session.MaxSessions)
}

// ProvideBlockPipeline puts validation and the per-session rate limit in front of the registry.
func ProvideBlockPipeline(reg *usecase.SessionRegistry, m drepo.Metrics, cfg *config.Config) *mid.BlockPipeline {
	return mid.NewBlockPipeline(reg, m, mid.WithRateLimit(cfg.Session.BlocksPerSecond, cfg.Session.Burst))
}

// ProvideSessionsHandler creates the echo handler for the session API.
func ProvideSessionsHandler(l *applogger.Logger, reg *usecase.SessionRegistry, p *mid.BlockPipeline, hub *api.StreamHub) *api.SessionsHandler {
	return api.NewSessionsHandler(l, reg, p, hub)
}

// ProvideHTTPServer creates the echo server with the metrics endpoint.
func ProvideHTTPServer(cfg *config.Config, h *api.SessionsHandler, reg *usecase.SessionRegistry, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(cfg.Server, xhttp.Handlers{h, api.NewHealthHandler(reg)},
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideKafkaBlocksHandler creates the handler for the blocks topic.
func ProvideKafkaBlocksHandler(cfg *config.Config, reg *usecase.SessionRegistry, p *mid.BlockPipeline, m drepo.Metrics) *usecase.KafkaBlocksHandler {
	return usecase.NewKafkaBlocksHandler(cfg.Kafka.BlocksTopic, reg, p, m)
}

// ProvideKafkaConsumer creates the blocks consumer, or nil when the feed is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger, m drepo.Metrics) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l, cfg.Kafka.Config)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook, rejectionHook(l, m)))
	return consumer, nil
}

// rejectionHook logs failed attempts with their trace id and offset.
func rejectionHook(l *applogger.Logger, m drepo.Metrics) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		After: func(ctx context.Context, topic string, km kafka.Message, err error) {
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			m.RecordError("kafka_handle")
			l.Warn("kafka block rejected",
				applogger.String("topic", topic),
				applogger.Int("partition", km.Partition),
				applogger.Any("offset", km.Offset),
				applogger.String("key", string(km.Key)),
				applogger.String("trace_id", pkgkafka.TraceIDFrom(ctx)),
				applogger.Bool("permanent", pkgkafka.IsPermanent(err)),
				applogger.Error(err),
			)
		},
	}
}

// ProvideReplayer runs block files against the local registry.
func ProvideReplayer(reg *usecase.SessionRegistry, l *applogger.Logger) *usecase.Replayer {
	return usecase.NewReplayer(reg, l)
}

// ProvideApp creates the application server. A nil consumer disables the feed.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	reg *usecase.SessionRegistry,
	rec drepo.Recorder,
	hub *api.StreamHub,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBlocksHandler,
	replayer *usecase.Replayer,
) *server.App {
	if consumer == nil {
		return server.New(cfg, l, reg, rec, hub, srv, nil, nil, replayer)
	}
	return server.New(cfg, l, reg, rec, hub, srv, consumer, kh, replayer)
}
