// Command server runs the custodia compliance service: the container
// lifecycle, chain-of-custody ledger, retention policy registry, approval
// engine, and destruction workflow behind one HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"custodia/internal/approval"
	approvalpg "custodia/internal/approval/store/postgres"
	"custodia/internal/audit"
	auditpg "custodia/internal/audit/store/postgres"
	"custodia/internal/audit/publisher"
	"custodia/internal/container"
	containerpg "custodia/internal/container/store/postgres"
	"custodia/internal/custody"
	custodypg "custodia/internal/custody/store/postgres"
	"custodia/internal/destruction"
	destructionpg "custodia/internal/destruction/store/postgres"
	"custodia/internal/identity"
	"custodia/internal/notify"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/postgres"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/retention"
	retentionpg "custodia/internal/retention/store/postgres"
	httptransport "custodia/internal/transport/http"
	"custodia/pkg/platform/tx"
)

func main() {
	log := logger.New()

	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()
	runner := tx.NewSQLRunner(db)

	// Audit log with optional Kafka fan-out.
	auditOpts := []audit.Option{audit.WithLogger(log), audit.WithMetrics(m)}
	var auditSink chan audit.Entry
	var auditPublisher *publisher.Publisher
	if len(cfg.Kafka.Seeds) > 0 {
		auditSink = make(chan audit.Entry, 256)
		auditPublisher, err = publisher.New(ctx, cfg.Kafka.Seeds, cfg.Kafka.Topic, auditSink, log)
		if err != nil {
			return err
		}
		defer auditPublisher.Close()
		auditOpts = append(auditOpts, audit.WithSink(auditSink))
	}
	auditSvc := audit.NewService(auditpg.New(db), auditOpts...)

	// Notifications over redis, degrading to log-only without one.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	var queue notify.Queue
	if redisClient != nil {
		defer redisClient.Close()
		queue = redisClient
	}
	dispatcher := notify.NewDispatcher(queue, cfg.Redis.Queue, log, notify.WithMetrics(m))

	// Domain services.
	containers := container.NewService(containerpg.New(db), auditSvc, container.WithLogger(log))

	ledger := custody.NewLedger(custodypg.New(db), containers, auditSvc, runner,
		custody.WithLogger(log),
		custody.WithMetrics(m),
		custody.WithContinuityPolicy(custody.ContinuityPolicy(cfg.CustodyContinuity)),
	)

	retentionSvc := retention.NewService(retentionpg.New(db), auditSvc, runner, retention.WithLogger(log))

	engine := approval.NewEngine(approvalpg.New(db), auditSvc, runner,
		approval.WithLogger(log),
		approval.WithMetrics(m),
		approval.WithNotifier(dispatcher),
		approval.WithGroupPolicy(approval.GroupPolicy(cfg.ApprovalGroupPolicy)),
	)

	workflow := destruction.NewWorkflow(destructionpg.New(db), containers, retentionSvc, engine, ledger, auditSvc, runner,
		destruction.WithLogger(log),
		destruction.WithMetrics(m),
		destruction.WithNotifier(dispatcher),
	)
	engine.SetResolutionHandler(workflow)

	router := httptransport.NewRouter(httptransport.Services{
		Containers: containers,
		Custody:    ledger,
		Retention:  retentionSvc,
		Approvals:  engine,
		Requests:   workflow,
		Audit:      auditSvc,
	}, identity.NewVerifier(cfg.JWTSigningKey), log)

	server := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		return approval.NewSweeper(engine, cfg.SweepInterval).Run(ctx)
	})

	if auditPublisher != nil {
		group.Go(func() error {
			return auditPublisher.Run(ctx)
		})
	}

	return group.Wait()
}
