package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/reshard/internal/coordinator"
	"github.com/dreamware/reshard/internal/storage"
)

const (
	storeMemory = "memory"
	storeBolt   = "bolt"
	storeMongo  = "mongo"
)

// config is the coordinator's runtime configuration, read from flags or
// their environment variables.
type config struct {
	Addr            string
	Store           string
	BoltPath        string
	MongoURI        string
	Shards          string
	LogLevel        string
	LogEncoding     string
	RetryMaxElapsed time.Duration
	HealthInterval  time.Duration
	Postconditions  bool
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "coordinator",
		Usage: "resharding coordinator persistence service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "HTTP listen address",
				Value:   ":8080",
				EnvVars: []string{"COORDINATOR_ADDR"},
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "catalog store: memory, bolt or mongo",
				Value:   storeMemory,
				EnvVars: []string{"CATALOG_STORE"},
			},
			&cli.StringFlag{
				Name:    "bolt-path",
				Usage:   "catalog file for the bolt store",
				Value:   "catalog.db",
				EnvVars: []string{"CATALOG_BOLT_PATH"},
			},
			&cli.StringFlag{
				Name:    "mongo-uri",
				Usage:   "connection string for the mongo store",
				EnvVars: []string{"CATALOG_MONGO_URI"},
			},
			&cli.StringFlag{
				Name:    "shards",
				Usage:   "shards known at startup, as id=host pairs separated by commas",
				EnvVars: []string{"COORDINATOR_SHARDS"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-encoding",
				Usage:   "json or console",
				Value:   "json",
				EnvVars: []string{"LOG_ENCODING"},
			},
			&cli.DurationFlag{
				Name:    "retry-max-elapsed",
				Usage:   "how long a failing catalog call is retried; 0 disables retries",
				Value:   10 * time.Second,
				EnvVars: []string{"CATALOG_RETRY_MAX_ELAPSED"},
			},
			&cli.DurationFlag{
				Name:    "health-interval",
				Usage:   "interval between catalog and shard health checks",
				Value:   5 * time.Second,
				EnvVars: []string{"HEALTH_INTERVAL"},
			},
			&cli.BoolFlag{
				Name:    "check-postconditions",
				Usage:   "re-read the catalog after every operation and verify it",
				EnvVars: []string{"CHECK_POSTCONDITIONS"},
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, configFrom(c))
		},
	}
}

func configFrom(c *cli.Context) config {
	return config{
		Addr:            c.String("addr"),
		Store:           c.String("store"),
		BoltPath:        c.String("bolt-path"),
		MongoURI:        c.String("mongo-uri"),
		Shards:          c.String("shards"),
		LogLevel:        c.String("log-level"),
		LogEncoding:     c.String("log-encoding"),
		RetryMaxElapsed: c.Duration("retry-max-elapsed"),
		HealthInterval:  c.Duration("health-interval"),
		Postconditions:  c.Bool("check-postconditions"),
	}
}

func run(ctx context.Context, cfg config) error {
	logger, err := newLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := coordinator.NewShardRegistry()
	if cfg.Shards != "" {
		if err := registry.RegisterList(cfg.Shards); err != nil {
			return errors.Wrap(err, "parse shard list")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := coordinator.NewPersistence(store, engineOptions(cfg, logger, reg, registry)...)
	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval, logger)
	monitor.SetOnUnhealthy(func(name string) {
		if name == coordinator.CatalogProbe {
			logger.Error("catalog unreachable, persistence calls will fail until it recovers")
		}
	})
	srv := newServer(engine, coordinator.NewCatalogReader(store), registry, monitor, logger)

	probeClient := &http.Client{Timeout: 2 * time.Second}
	go monitor.Start(ctx, func() []coordinator.Probe {
		return coordinator.RegistryProbes(store, registry, probeClient)
	})
	defer monitor.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store),
			zap.Int("shards", registry.Len()))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("coordinator stopped")
	return nil
}

// engineOptions builds the persistence engine's options from cfg.
func engineOptions(cfg config, logger *zap.Logger, reg prometheus.Registerer, registry *coordinator.ShardRegistry) []coordinator.Option {
	opts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(coordinator.NewMetrics(reg)),
		coordinator.WithShardRegistry(registry),
		coordinator.WithPostconditionChecks(cfg.Postconditions),
	}
	if cfg.RetryMaxElapsed > 0 {
		maxElapsed := cfg.RetryMaxElapsed
		opts = append(opts, coordinator.WithRetry(func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = maxElapsed
			return b
		}))
	}
	return opts
}

// openStore opens the catalog store cfg names.
func openStore(ctx context.Context, cfg config) (storage.Catalog, error) {
	switch cfg.Store {
	case storeMemory:
		return storage.NewMemoryStore(), nil
	case storeBolt:
		s, err := storage.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, errors.Wrapf(err, "open bolt catalog %s", cfg.BoltPath)
		}
		return s, nil
	case storeMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("the mongo store needs --mongo-uri")
		}
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s, err := storage.OpenMongoStore(connectCtx, cfg.MongoURI)
		if err != nil {
			return nil, errors.Wrap(err, "open mongo catalog")
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown catalog store %q", cfg.Store)
	}
}

// newLogger builds a zap logger at the given level with the given encoding.
func newLogger(level, encoding string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	if encoding != "json" && encoding != "console" {
		return nil, errors.Errorf("log encoding %q", encoding)
	}

	cfg := zap.Config{
		Level:            lvl,
		Development:      lvl.Level() == zapcore.DebugLevel,
		Encoding:         encoding,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}
	return cfg.Build()
}
