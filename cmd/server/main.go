package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"zapflow/internal/api"
	"zapflow/internal/automation"
	"zapflow/internal/campaign"
	"zapflow/internal/config"
	"zapflow/internal/database"
	"zapflow/internal/dispatch"
	"zapflow/internal/lock"
	"zapflow/internal/logger"
	"zapflow/internal/metrics"
	"zapflow/internal/queue"
	"zapflow/internal/scheduler"
	"zapflow/internal/store"
	"zapflow/internal/webhook"
	"zapflow/internal/whatsapp"
	"zapflow/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg)
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get database handle")
	}
	defer sqlDB.Close()
	st := store.New(db)
	loc := cfg.Location()

	checks := map[string]api.HealthCheck{"database": sqlDB.PingContext}

	var (
		jobs   queue.Broker
		locker lock.Locker
	)
	switch cfg.QueueBackend {
	case "memory":
		log.Warn().Msg("Using in-memory queue; jobs are lost on restart and locks are process local")
		jobs = queue.NewMemoryBroker()
		locker = lock.NewMemoryLocker()
	default:
		rdb, err := queue.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		jobs = queue.NewRedisBroker(rdb, "zapflow:queue")
		locker = lock.NewRedisLocker(rdb, "zapflow:lock:")
		checks["redis"] = redisCheck(rdb)
	}

	wa := whatsapp.NewClient(cfg)
	hub := ws.NewHub()

	// campaign dispatch
	worker := dispatch.NewWorker(st, wa, jobs, locker,
		dispatch.WithNotifier(hub),
		dispatch.WithLocation(loc))
	runner := queue.NewRunner(jobs, queue.RunnerConfig{
		Concurrency: cfg.WorkerConcurrency,
		MaxAttempts: cfg.JobMaxAttempts,
		Backoff:     cfg.JobBackoff,
	})
	runner.Handle(dispatch.JobType, worker.Handle)

	poller := scheduler.NewPoller(st, jobs, locker, scheduler.Config{
		PollInterval: cfg.SchedulerInterval,
		Location:     loc,
	})

	// chatbot
	engine := automation.NewEngine(st, wa)
	conversations := automation.NewSerializer()
	webhookHandler := webhook.NewHandler(ctx, st, engine, conversations).WithNotifier(hub)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	api.Register(r, api.Routes{
		Tenants:     st,
		Campaigns:   api.NewCampaignHandler(campaign.NewService(st, jobs, loc)),
		Automations: api.NewAutomationHandler(st),
		Contacts:    api.NewContactHandler(st),
		WhatsApp:    api.NewWhatsAppHandler(wa, st),
		Dashboard:   api.NewDashboardHandler(st, checks),
		Webhook:     webhookHandler.HandleEvent,
		Stream:      api.Stream(hub.ServeWs),
		Metrics:     gin.WrapH(promhttp.Handler()),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		return poller.Start(gctx)
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		if err := poller.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Scheduler shutdown failed")
		}
		conversations.Wait()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server exiting")
}

func redisCheck(rdb *redis.Client) api.HealthCheck {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
