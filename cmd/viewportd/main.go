package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/osm-viewport/internal/cache/responsecache"
	"github.com/mohammed-shakir/osm-viewport/internal/catalog"
	"github.com/mohammed-shakir/osm-viewport/internal/core/config"
	"github.com/mohammed-shakir/osm-viewport/internal/core/health"
	"github.com/mohammed-shakir/osm-viewport/internal/core/httpclient"
	"github.com/mohammed-shakir/osm-viewport/internal/core/server"
	"github.com/mohammed-shakir/osm-viewport/internal/logger"
	"github.com/mohammed-shakir/osm-viewport/internal/metrics"
	"github.com/mohammed-shakir/osm-viewport/internal/overpass"
	"github.com/mohammed-shakir/osm-viewport/internal/pipeline"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
	"github.com/mohammed-shakir/osm-viewport/internal/viewport/kafkasource"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	catalogFlag := flag.String("catalog", "", "catalog file (overrides CATALOG_FILE)")
	flag.Parse()

	_ = godotenv.Load(*envFile)

	cfg, err := config.FromEnv()
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "viewportd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	if err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}
	if *catalogFlag != "" {
		cfg.CatalogFile = *catalogFlag
	}

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.Load(cfg.CatalogFile); err != nil {
			appLog.Error("catalog load failed", "file", cfg.CatalogFile, "err", err)
			return 1
		}
	}

	appLog.Info("starting viewportd",
		"addr", cfg.Addr,
		"version", Version,
		"overpass", cfg.OverpassURL,
		"queries", len(cat),
		"viewport_source", cfg.ViewportSource)

	client, err := overpass.New(appLog, httpclient.NewOutbound(cfg.OverpassTimeout), cfg.OverpassURL)
	if err != nil {
		appLog.Error("failed to initialize overpass client", "err", err)
		return 1
	}
	fetcher := overpass.WithRetry(client, cfg.FetchAttempts, cfg.FetchRetryDelay, appLog)
	cache := responsecache.New(fetcher, appLog)

	orch := pipeline.New(cat, cache, store.New(),
		pipeline.WithParallelism(cfg.IngestParallelism),
		pipeline.WithLogger(appLog),
	)
	if cfg.InitialViewport != nil {
		if err := orch.SetViewport(*cfg.InitialViewport); err != nil {
			appLog.Error("initial viewport rejected", "err", err)
			return 1
		}
	}

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := []health.ReadinessReporter{health.ReadyFunc(orch.Ready)}
	if cfg.ViewportSource == "kafka" {
		src := kafkasource.New(kafkasource.FromConfig(cfg.Kafka), orch, kafkasource.Options{
			Logger:   appLog,
			Register: mp.Registerer(),
		})
		if err := src.Start(ctx); err != nil {
			appLog.Error("kafka viewport source failed to start", "err", err)
			return 1
		}
		defer src.Stop()
		ready = append(ready, src)
	}

	handler := server.NewHandler(appLog, orch, health.All(ready...), mp)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, cfg, appLog, handler) })
	g.Go(func() error { return server.RunMetrics(gctx, appLog, mp) })
	g.Go(func() error {
		rep, err := orch.Ingest(gctx)
		if err != nil {
			appLog.Warn("initial ingest finished with errors", "failed", rep.Failed(), "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
