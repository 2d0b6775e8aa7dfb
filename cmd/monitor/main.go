// Package main wires together the monitor service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/api"
	"github.com/eagleharbor/monitor/internal/classify"
	"github.com/eagleharbor/monitor/internal/clock/system"
	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/events"
	"github.com/eagleharbor/monitor/internal/ingest"
	"github.com/eagleharbor/monitor/internal/logging"
	"github.com/eagleharbor/monitor/internal/mailer"
	"github.com/eagleharbor/monitor/internal/metrics"
	"github.com/eagleharbor/monitor/internal/notify"
	"github.com/eagleharbor/monitor/internal/pipeline"
	"github.com/eagleharbor/monitor/internal/scheduler"
	"github.com/eagleharbor/monitor/internal/source/board"
	"github.com/eagleharbor/monitor/internal/source/fulltext"
	"github.com/eagleharbor/monitor/internal/source/legistar"
	"github.com/eagleharbor/monitor/internal/source/rss"
	"github.com/eagleharbor/monitor/internal/store/memory"
	"github.com/eagleharbor/monitor/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		articleStore pipeline.ArticleStore
		subStore     pipeline.SubscriberStore
		eventStore   pipeline.EventStore
		alertLog     pipeline.AlertLog
		dbPing       api.Pinger
	)
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			logger.Fatal("database connect failed", zap.Error(err))
		}
		defer pool.Close()
		articleStore = postgres.NewArticleStore(pool)
		subStore = postgres.NewSubscriberStore(pool)
		eventStore = postgres.NewEventStore(pool)
		alertLog = postgres.NewAlertLog(pool)
		dbPing = pool
	default:
		articleStore = memory.NewArticleStore()
		subStore = memory.NewSubscriberStore()
		eventStore = memory.NewEventStore()
		alertLog = memory.NewAlertLog()
	}

	clock := system.New()
	keywords := pipeline.NewKeywordMatcher(cfg.Sources.Keywords)
	ua := cfg.Sources.UserAgent

	// Each adapter gets an extractor bound to its own timeout so a slow
	// board site cannot stretch legistar or RSS body fetches.
	adapters := []pipeline.SourceAdapter{
		legistar.New(
			legistar.NewClient(cfg.Sources.Legistar.BaseURL, cfg.Sources.Legistar.PageSize, cfg.Sources.Legistar.Timeout),
			keywords,
			fulltext.New(cfg.Sources.Legistar.Timeout, ua),
			clock,
			cfg.Sources.Legistar,
			logger.Named("legistar"),
		),
		rss.New(keywords, fulltext.New(cfg.Sources.RSS.Timeout, ua), clock, cfg.Sources.RSS, logger.Named("rss")),
		board.New(keywords, fulltext.New(cfg.Sources.Board.Timeout, ua), clock, cfg.Sources.Board, ua, logger.Named("board")),
	}

	var chat pipeline.ChatCompleter
	if cfg.Classifier.Enabled {
		chat = classify.NewChatClient(cfg.Classifier)
	}
	retry := pipeline.NewRetryPolicy(
		cfg.Classifier.MaxRetries+1,
		cfg.Classifier.BackoffInitial,
		cfg.Classifier.BackoffMax,
	)
	gateway := classify.NewGateway(chat, retry, logger.Named("classify"))
	sweeper := classify.NewSweeper(
		articleStore,
		gateway,
		clock,
		cfg.Classifier.SweepBatchSize,
		cfg.Classifier.RetryFailedAfter,
		logger.Named("classify"),
	)
	eventSweep := events.New(articleStore, eventStore, chat, cfg.Classifier.SweepBatchSize, logger.Named("events"))

	var mail pipeline.Mailer
	if cfg.Mailer.Enabled {
		mail = mailer.New(cfg.Mailer, logger.Named("mailer"))
	} else {
		mail = mailer.NewLogMailer(logger.Named("mailer"))
	}
	subscriptions := notify.NewService(subStore, mail, cfg.Mailer.AppURL, logger.Named("notify"))
	dispatch, err := notify.NewDispatcher(
		articleStore, subStore, eventStore, alertLog,
		mail, clock, cfg.Dispatch, cfg.Mailer,
		logger.Named("dispatch"),
	)
	if err != nil {
		logger.Fatal("dispatcher init failed", zap.Error(err))
	}

	sched := scheduler.New(cfg.Scheduler.JobBudget, logger.Named("scheduler"))
	intervals := map[string]time.Duration{
		"source.legistar":       cfg.Scheduler.LegistarInterval,
		"source.rss":            cfg.Scheduler.RSSInterval,
		"source.planning_board": cfg.Scheduler.BoardInterval,
	}
	for _, adapter := range adapters {
		name := "source." + adapter.Name()
		sched.Register(name, intervals[name], sourceJob(adapter, ingest.New(articleStore, logger.Named(adapter.Name()))))
	}
	sched.Register("classify", cfg.Scheduler.ClassifyInterval, func(ctx context.Context) error {
		_, err := sweeper.Run(ctx)
		return err
	})
	sched.Register("events", cfg.Scheduler.EventsInterval, func(ctx context.Context) error {
		_, err := eventSweep.Run(ctx)
		return err
	})
	sched.Register("dispatch.instant", cfg.Scheduler.DispatchInterval, func(ctx context.Context) error {
		_, err := dispatch.RunInstant(ctx)
		return err
	})
	sched.Register("dispatch.digest", cfg.Scheduler.DigestInterval, func(ctx context.Context) error {
		_, err := dispatch.RunDigest(ctx)
		return err
	})

	apiServer := api.NewServer(subscriptions, articleStore, eventStore, clock, dbPing, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		logger.Info("scheduler started")
		sched.Start(ctx)
		close(schedDone)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedDone
	logger.Info("shutdown complete")
}

// sourceJob runs one adapter pass and feeds the results through ingestion.
func sourceJob(adapter pipeline.SourceAdapter, ingester *ingest.Ingester) scheduler.JobFunc {
	return func(ctx context.Context) error {
		start := time.Now()
		ingester.ResetRun()
		batch, err := adapter.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", adapter.Name(), err)
		}
		inserted, _, err := ingester.IngestAll(ctx, batch)
		metrics.ObserveSourceRun(adapter.Name(), inserted, time.Since(start))
		return err
	}
}
