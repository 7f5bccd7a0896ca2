package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"content-agent/internal/config"
	"content-agent/internal/content"
	"content-agent/internal/feedback"
	"content-agent/internal/flags"
	"content-agent/internal/logging"
	"content-agent/internal/models"
	"content-agent/internal/publisher"
	"content-agent/internal/ratelimit"
	"content-agent/internal/selector"
	"content-agent/internal/store"
	"content-agent/internal/telemetry"
	"content-agent/internal/visual"
	"content-agent/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker shut down")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, logger, "content-agent-worker", cfg.TracingExporter)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()
	throttle := ratelimit.NewTokenBucket(rdb, "publisher:", cfg.PublisherRateCap, cfg.PublisherRateRefill, time.Hour)

	graph := publisher.NewClient(publisher.Config{
		BaseURL:     cfg.GraphURL,
		IGAccountID: cfg.IGAccountID,
		IGToken:     cfg.IGAccessToken,
		FBPageID:    cfg.FBPageID,
		FBPageToken: cfg.FBPageToken,
		Timeout:     cfg.GraphTimeout,
	}, throttle, logger)

	flagSvc := flags.NewService(st, flags.NewCache(cfg.FlagCacheTTL, time.Now), logger)
	sel := selector.New(st, selector.Config{
		Epsilon:             cfg.Epsilon,
		CooldownDays:        cfg.CooldownDays,
		DiversityByCategory: cfg.DiversityByCategory,
		FlagshipBoost:       cfg.FlagshipBoost,
	}, logger, selector.WithEpsilonSource(flagSvc))

	gen, err := content.NewClient(content.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.OpenAITimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("content client: %w", err)
	}

	uploader, err := visual.NewUploader(ctx, visual.StorageConfig{
		OutputDir:     cfg.AssetOutputDir,
		PublicBaseURL: cfg.AssetPublicBaseURL,
		S3Bucket:      cfg.AssetS3Bucket,
		S3Region:      cfg.AssetS3Region,
		S3Endpoint:    cfg.AssetS3Endpoint,
		S3PathStyle:   cfg.AssetS3PathStyle,
	})
	if err != nil {
		return fmt.Errorf("asset uploader: %w", err)
	}
	composer, err := visual.NewComposer(uploader, visual.Options{
		Timeout:  cfg.ImageTimeout,
		MaxBytes: cfg.ImageMaxBytes,
		LogoURL:  cfg.BrandLogoURL,
		FontPath: cfg.BrandFontPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("composer: %w", err)
	}

	mode, err := feedback.ParseMode(cfg.ScoringMode)
	if err != nil {
		return err
	}
	collector := feedback.NewCollector(st, graph, mode, feedback.Options{
		MaxPosts:    cfg.FeedbackMaxPosts,
		MinAgeHours: cfg.FeedbackMinAgeHours,
	}, logger)

	dispatcher := worker.NewDispatcher(st, worker.DispatcherConfig{
		WorkerID:     workerID(cfg.WorkerID),
		PollInterval: cfg.WorkerPollInterval,
		BackoffMax:   cfg.PollBackoffMax,
	}, logger)
	dispatcher.RegisterHandler(models.JobCreatePost, worker.NewCreatePostHandler(sel, flagSvc, gen, composer, st, cfg.CarouselFallback, logger).Handle)
	dispatcher.RegisterHandler(models.JobPublishPost, worker.NewPublishPostHandler(st, graph, cfg.PublishDraftOrder, logger).Handle)
	dispatcher.RegisterHandler(models.JobCollectFeedback, worker.NewCollectFeedbackHandler(collector, logger).Handle)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(sctx)
	})
	return g.Wait()
}

// workerID falls back to hostname-pid so concurrent dispatchers hold distinct leases.
func workerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
