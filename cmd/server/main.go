// Command server runs the protocol engine: the HTTP API, the polling
// scheduler, and the audit worker, against a redis-backed or in-memory
// status store.
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

	"golang.org/x/sync/errgroup"

	"protokoll/internal/audit"
	"protokoll/internal/catalog"
	"protokoll/internal/platform/config"
	"protokoll/internal/platform/httpserver"
	"protokoll/internal/platform/logger"
	"protokoll/internal/platform/metrics"
	"protokoll/internal/platform/redis"
	"protokoll/internal/protocol/compliance"
	"protokoll/internal/protocol/instruction"
	"protokoll/internal/protocol/models"
	"protokoll/internal/protocol/punishment"
	"protokoll/internal/protocol/scheduler"
	"protokoll/internal/protocol/settings"
	"protokoll/internal/protocol/timebank"
	"protokoll/internal/protocol/tzd"
	"protokoll/internal/status/store"
	transporthttp "protokoll/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "protokoll: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	// Store selection: redis when configured, in-memory otherwise.
	var statusStore store.Store
	var health transporthttp.HealthChecker
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		statusStore = store.NewRedisStore(redisClient.Client)
		health = redisClient
		log.Info("using redis status store")
	} else {
		statusStore = store.NewInMemoryStore()
		log.Info("using in-memory status store")
	}

	items := catalog.NewInMemoryItemStore()
	sessions := catalog.NewInMemorySessionStore()
	plans := catalog.NewInMemoryPlanStore()

	auditStore := audit.NewInMemoryStore()
	auditInbox := make(chan audit.Event, 256)
	audits := audit.NewPublisher(audit.NewChannelSink(auditInbox))
	auditWorker := audit.NewWorker(auditStore, auditInbox)
	m := metrics.New()

	cfgSvc, err := settings.New(statusStore)
	if err != nil {
		return err
	}
	ledger, err := timebank.New(statusStore, cfg.UserID,
		timebank.WithLogger(log),
		timebank.WithAuditPublisher(audits),
		timebank.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	punisher, err := punishment.New(statusStore, cfg.UserID,
		punishment.WithLogger(log),
		punishment.WithAuditPublisher(audits),
		punishment.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	generator, err := instruction.New(statusStore, items, sessions, plans, cfgSvc, ledger, cfg.UserID,
		instruction.WithLogger(log),
		instruction.WithAuditPublisher(audits),
		instruction.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	engine, err := tzd.New(statusStore, items, sessions, cfgSvc, punisher, cfg.UserID,
		tzd.WithLogger(log),
		tzd.WithAuditPublisher(audits),
		tzd.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	tracker, err := compliance.New(statusStore, sessions, cfgSvc, punisher, cfg.UserID,
		compliance.WithLogger(log),
		compliance.WithAuditPublisher(audits),
	)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(statusStore, engine, generator, punisher, ledger, tracker, cfgSvc, scheduler.Intervals{
		Trigger:  cfg.TriggerInterval,
		Progress: cfg.ProgressInterval,
		CheckIn:  cfg.CheckInInterval,
	}, scheduler.WithLogger(log))
	if err != nil {
		return err
	}

	handler := transporthttp.New(generator, engine, ledger, punisher, cfgSvc, sched, log, func() models.PeriodID {
		return models.PeriodFor(time.Now())
	})
	srv := httpserver.New(cfg.Addr, transporthttp.NewRouter(handler, log, health))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting protokoll", "addr", cfg.Addr, "user", cfg.UserID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := sched.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := auditWorker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("protokoll stopped")
	return nil
}
