package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dalexandrias/marketwatch/internal/analytics"
	"github.com/dalexandrias/marketwatch/internal/api"
	"github.com/dalexandrias/marketwatch/internal/config"
	"github.com/dalexandrias/marketwatch/internal/dispatcher"
	"github.com/dalexandrias/marketwatch/internal/housekeeper"
	"github.com/dalexandrias/marketwatch/internal/leaderelection"
	"github.com/dalexandrias/marketwatch/internal/metrics"
	"github.com/dalexandrias/marketwatch/internal/notify"
	"github.com/dalexandrias/marketwatch/internal/scheduler"
)

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, db, err := openBackend(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	opener, err := buildOpener(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build fetch adapter: %v\n", err)
		return exitInvalidConfig
	}

	// Initialize metrics sink (optional)
	var metricsSink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("marketwatch: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("marketwatch: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("marketwatch: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("marketwatch: METRICS_ENABLED not set; metrics disabled")
	}

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	sinks, err := buildSinks(cfg, redisClient, metricsSink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build notification sinks: %v\n", err)
		return exitInvalidConfig
	}

	disp := dispatcher.New(store, opener, dispatcher.Config{
		Workers:       cfg.DispatcherWorkers,
		CourtesyDelay: cfg.CourtesyDelay,
		GroupDelay:    cfg.GroupDelay,
		FetchTimeout:  cfg.FetchTimeout,
		FetchLimit:    cfg.FetchLimit,
		ShutdownGrace: cfg.ShutdownGrace,
		OpTimeout:     cfg.DBOpTimeout,
	}).WithMetrics(metricsSink)

	// Wire analytics if Redis is configured
	if redisClient != nil {
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient, analytics.DefaultConfig()))
		log.Printf("marketwatch: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("marketwatch: REDIS_ADDR not set; analytics disabled")
	}

	pipeline := notify.NewPipeline(store, sinks, cfg.NotifyBatchSize).
		WithOpTimeout(cfg.DBOpTimeout).
		WithMetrics(metricsSink)
	log.Printf("marketwatch: notification sinks %v", pipeline.Sinks())

	keeper := housekeeper.New(housekeeper.Config{Retention: cfg.StatsRetention}, store).
		WithMetrics(metricsSink)

	sched := scheduler.New(
		scheduler.Config{
			DefaultInterval:    cfg.DefaultInterval,
			SleepFloor:         cfg.SleepFloor,
			HousekeepingEvery:  cfg.HousekeepingEvery,
			MaxStorageFailures: cfg.MaxStorageFailures,
			OpTimeout:          cfg.DBOpTimeout,
		},
		store,
		disp,
		pipeline,
	).WithHousekeeper(keeper).WithMetrics(metricsSink)

	apiHandler := api.NewHandler(store, cfg.DefaultInterval).
		WithHealthChecker(db).
		WithStatusProvider(sched)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("marketwatch: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("marketwatch: http server error: %v", err)
		}
	}()

	log.Printf("marketwatch: started (mode=%s, workers=%d, default_interval=%s, http=%s)",
		cfg.FetchMode, cfg.DispatcherWorkers, cfg.DefaultInterval, cfg.HTTPAddr)

	// A fatal scheduler error ends the process even though no signal arrived.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// runMu is held for the lifetime of a scheduler run, so a demoted
	// instance never overlaps with the next elected run.
	var (
		runMu sync.Mutex
		fatal error
	)
	runScheduler := func(ctx context.Context) {
		runMu.Lock()
		defer runMu.Unlock()
		if err := sched.Run(ctx); err != nil {
			fatal = err
			cancelRun()
		}
	}

	if cfg.LeaderElection {
		onElected := func(ctx context.Context) {
			log.Println("marketwatch: elected leader, starting scheduler")
			runScheduler(ctx)
		}
		onDemoted := func() {
			runMu.Lock()
			runMu.Unlock()
			log.Println("marketwatch: scheduler stopped after demotion")
		}
		elector := leaderelection.New(
			leaderelection.NewAdvisoryLocker(db, cfg.LeaderLockKey),
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			onElected,
			onDemoted,
		).WithMetrics(metricsSink)
		log.Printf("marketwatch: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
		elector.Run(runCtx)
	} else {
		metricsSink.LeaderStatusUpdate(true)
		runScheduler(runCtx)
	}

	runMu.Lock()
	err = fatal
	runMu.Unlock()

	if err == nil {
		log.Println("marketwatch: received shutdown signal, scheduler stopped")
	}

	log.Println("marketwatch: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("marketwatch: http server shutdown error: %v", err)
	}
	log.Println("marketwatch: http server stopped")

	if metricsServer != nil {
		log.Println("marketwatch: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("marketwatch: metrics server shutdown error: %v", err)
		}
		log.Println("marketwatch: metrics server stopped")
	}

	if err != nil {
		log.Printf("marketwatch: stopped on fatal error: %v", err)
		return exitRuntimeError
	}
	log.Println("marketwatch: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("marketwatch version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
