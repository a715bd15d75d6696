package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"fundingheat/config"
	"fundingheat/internal/dashboard"
	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/processor"
	"fundingheat/reader"
	"fundingheat/storage"
	"fundingheat/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	serve := flag.Bool("serve", false, "Serve the dashboard and refresh periodically instead of running once")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":  cfg.Fundingheat.Name,
		"version":  cfg.Fundingheat.Version,
		"exchange": cfg.Source.Exchange,
	}).Info("starting fundingheat")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *serve || cfg.Dashboard.Enabled); err != nil {
		log.WithError(err).Error("fundingheat failed")
		os.Exit(1)
	}
	log.Info("fundingheat stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log, serve bool) error {
	metrics.Init()

	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}

	source, err := reader.New(cfg)
	if err != nil {
		return err
	}

	snapshots, closeSnapshots, err := newSnapshotStore(ctx, cfg.Ranking.Cache)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	repo, closeRepo, err := newRepository(cfg.Store)
	if err != nil {
		return err
	}
	defer closeRepo()

	ranks := processor.NewSymbolRankCache(source, snapshots, cfg.Ranking.QuoteAsset, cfg.Ranking.Exclude)
	store := processor.NewFundingRateStore(repo, source, ranks, processor.StoreOptions{
		TopN:          cfg.Ranking.TopN,
		RankingMaxAge: cfg.Ranking.MaxAge,
		RowCap:        cfg.Store.RowCap,
		StaleAfter:    cfg.Store.StaleAfter,
		Workers:       cfg.Store.Workers,
	})

	var srv *dashboard.Server
	if serve {
		dashCfg := cfg.Dashboard
		dashCfg.Enabled = true
		if srv, err = dashboard.NewServer(dashCfg, cfg.Fundingheat.Name, log); err != nil {
			return err
		}
	}

	var renderers []processor.Renderer
	if srv != nil {
		renderers = append(renderers, srv)
	}
	if cfg.Export.MatrixCSV != "" {
		renderers = append(renderers, writer.NewMatrixCSVWriter(cfg.Export.MatrixCSV))
	}

	var exporters []processor.DatasetExporter
	if cfg.Export.Parquet.Enabled {
		var uploader writer.Uploader
		if cfg.Export.Parquet.Upload {
			s3u, err := writer.NewS3Uploader(ctx, cfg.Storage.S3)
			if err != nil {
				return fmt.Errorf("s3 uploader: %w", err)
			}
			uploader = s3u
		}
		exporters = append(exporters, writer.NewParquetExporter(cfg.Export.Parquet, cfg.Source.Exchange, cfg.Fundingheat.Version, uploader))
	}

	pipeline := processor.NewPipeline(store, cfg.Heatmap.WindowDays, renderers, exporters)

	if !serve {
		matrix, err := pipeline.Run(ctx)
		if matrix != nil {
			log.WithComponent("main").WithFields(logger.Fields{
				"symbols": matrix.Rows(),
				"columns": matrix.Cols(),
				"min_pct": matrix.Min,
				"max_pct": matrix.Max,
			}).Info("heatmap built")
		}
		return err
	}

	if err := srv.Run(ctx, pipeline); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newSnapshotStore(ctx context.Context, cfg config.RankingCacheConfig) (processor.SnapshotStore, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return storage.NewFileSnapshotStore(cfg.Path), func() {}, nil
	case "redis":
		rdb, err := storage.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisSnapshotStore(rdb, cfg.Redis.Key), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ranking cache backend %q", cfg.Backend)
	}
}

func newRepository(cfg config.StoreConfig) (processor.DatasetRepository, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "csv":
		return storage.NewCSVRepository(cfg.Directory), func() {}, nil
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
