package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/grievance-engine/internal/api/http"
	"github.com/spec-kit/grievance-engine/internal/api/http/handlers"
	"github.com/spec-kit/grievance-engine/internal/auth"
	"github.com/spec-kit/grievance-engine/internal/config"
	"github.com/spec-kit/grievance-engine/internal/events"
	"github.com/spec-kit/grievance-engine/internal/lifecycle"
	"github.com/spec-kit/grievance-engine/internal/notify"
	"github.com/spec-kit/grievance-engine/internal/observability"
	"github.com/spec-kit/grievance-engine/internal/persistence"
	"github.com/spec-kit/grievance-engine/internal/repository"
	"github.com/spec-kit/grievance-engine/internal/scheduler"
	"github.com/spec-kit/grievance-engine/internal/sla"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rds := persistence.NewRedis(cfg.Redis, logger)
	defer rds.Close()

	var (
		issueRepo        repository.IssueRepository
		auditRepo        repository.AuditRepository
		notificationRepo repository.NotificationRepository
		ruleRepo         repository.EscalationRuleRepository
	)
	if pool := pg.PoolHandle(); pool != nil {
		issueRepo = repository.NewIssueRepository(pool)
		auditRepo = repository.NewAuditRepository(pool)
		notificationRepo = repository.NewNotificationRepository(pool)
		ruleRepo = repository.NewCachedRuleRepository(
			repository.NewEscalationRuleRepository(pool),
			rds.Client,
			cfg.Escalation.RuleCacheTTL,
			logger,
		)
	} else {
		store := repository.NewMemoryStore()
		issueRepo = store.Issues()
		auditRepo = store.Audit()
		notificationRepo = store.Notifications()
		ruleRepo = store.Rules()
	}

	clock := sla.SystemClock()
	calendar := sla.NewCalendar(cfg.Calendar)
	policy := sla.NewPolicy(calendar, cfg.SLA)
	resolver := sla.NewResolver(calendar, clock, cfg.SLA)

	var eventBus events.Dispatcher
	if rds.Ping(ctx) == nil {
		eventBus = events.NewRedisDispatcher(rds.Client, cfg.Redis.EventChannel, logger)
	} else {
		eventBus = events.NewInMemoryDispatcher()
	}

	metrics := observability.NewMetrics()
	dispatcher := notify.NewDispatcher(notificationRepo, cfg.Escalation, logger)

	lifecycleService := lifecycle.NewService(cfg.SLA, lifecycle.Dependencies{
		IssueRepo:  issueRepo,
		AuditRepo:  auditRepo,
		Dispatcher: dispatcher,
		EventBus:   eventBus,
		Calendar:   calendar,
		Clock:      clock,
		Locks:      lifecycle.NewIssueLocks(),
		Logger:     logger,
	})

	sweepScheduler := scheduler.New(cfg.Escalation, scheduler.Dependencies{
		IssueRepo: issueRepo,
		RuleRepo:  ruleRepo,
		Resolver:  resolver,
		Lifecycle: lifecycleService,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err := sweepScheduler.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sweepScheduler.Stop()

	verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(),
		Issues:         handlers.NewIssuesHandler(lifecycleService, sweepScheduler, calendar, policy, clock),
		Notifications:  handlers.NewNotificationsHandler(notificationRepo),
		Ops:            handlers.NewOpsHandler(sweepScheduler, metrics),
		AuthMiddleware: auth.Middleware(verifier),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
