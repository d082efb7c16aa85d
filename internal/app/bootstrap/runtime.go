package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	cacheadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/cache"
	clientadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/clients"
	eventadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/events"
	gatewayadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/gateway"
	grpcadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/grpc"
	httpadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/http"
	metricsadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/metrics"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/postgres"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/application"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

const sandboxWebhookSecret = "whsec_sandbox"

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	httpServer *http.Server
	grpcServer *grpc.Server
	outbox     *eventadapter.OutboxWorker
	consumer   *eventadapter.ConsumerWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping escrow ledger service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage", cfg.StorageDriver,
		"gateway", cfg.GatewayMode,
	)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup()
		return nil, err
	}

	db, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	closers = append(closers, func() { _ = sqlDB.Close() })

	var redisClient *redis.Client
	var locker ports.AccountLocker
	if cfg.RedisURL != "" {
		redisClient, err = cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		locker = cacheadapter.NewRedisAccountLocker(redisClient, cfg.LockLease)
	} else {
		logger.Warn("REDIS_URL not set; account locks are process-local")
		locker = cacheadapter.NewLocalAccountLocker()
	}

	var publisher ports.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.topicByEvent(escrowEventTypes, eventadapter.NotificationEventType))
		if err != nil {
			return fail(fmt.Errorf("init kafka publisher: %w", err))
		}
		closers = append(closers, func() { _ = kafkaPublisher.Close() })
		publisher = kafkaPublisher
	} else {
		logger.Warn("KAFKA_BROKERS not set; events are logged instead of published")
		publisher = eventadapter.NewLoggingPublisher(logger)
	}

	paymentGateway, err := newGateway(cfg)
	if err != nil {
		return fail(err)
	}
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" && cfg.GatewayMode == GatewayModeSandbox {
		webhookSecret = sandboxWebhookSecret
	}

	contracts, users, err := newCollaborators(cfg, logger)
	if err != nil {
		return fail(err)
	}

	prom := metricsadapter.NewPrometheus()
	repos := postgres.NewRepositories(db)

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:               cfg.ServiceID,
			DefaultFeeRate:            cfg.DefaultFeeRate,
			LockTimeout:               cfg.LockTimeout,
			ConflictRetries:           cfg.ConflictRetries,
			AutoReleaseDefaultEnabled: cfg.AutoReleaseEnabled,
			AutoReleaseDefaultDelay:   cfg.AutoReleaseDelay,
			AutoReleaseTimers:         cfg.AutoReleaseTimers,
			PendingDepositStaleAfter:  cfg.PendingDepositStaleAfter,
			PendingDepositExpiry:      cfg.PendingDepositExpiry,
			CollaboratorTimeout:       cfg.CollaboratorTimeout,
		},
		Logger:       logger,
		Escrows:      repos.Escrows,
		Transactions: repos.Transactions,
		Audit:        repos.Audit,
		Commissions:  repos.Commissions,
		Idempotency:  repos.Idempotency,
		EventDedup:   repos.EventDedup,
		Gateway:      paymentGateway,
		Contracts:    contracts,
		Users:        users,
		Notifier:     eventadapter.NewNotifier(logger, publisher, cfg.CollaboratorTimeout),
		Locker:       locker,
		Metrics:      prom,
	})
	closers = append(closers, svc.Close)

	ready := func(ctx context.Context) error {
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	handler := httpadapter.NewHandler(svc, httpadapter.WebhookConfig{
		Secret:    webhookSecret,
		Tolerance: cfg.WebhookTolerance,
	})
	router := httpadapter.NewRouter(handler, httpadapter.RouterConfig{
		Ready:              ready,
		MetricsMiddleware:  prom.Middleware,
		MetricsHandler:     prom.Handler(),
		MoneyRatePerSecond: cfg.MoneyRatePerSecond,
		MoneyBurst:         cfg.MoneyBurst,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewHealthServer(ready))

	outbox := eventadapter.NewOutboxWorker(logger, repos.Outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	var consumer eventadapter.Consumer = eventadapter.NoopConsumer{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaConsumer, err := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaInputTopics)
		if err != nil {
			return fail(fmt.Errorf("init kafka consumer: %w", err))
		}
		closers = append(closers, func() { _ = kafkaConsumer.Close() })
		consumer = kafkaConsumer
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		httpServer: httpServer,
		grpcServer: grpcServer,
		outbox:     outbox,
		consumer:   eventadapter.NewConsumerWorker(logger, consumer, svc, cfg.OutboxPollInterval),
		cleanupFn: func(context.Context) {
			cleanup()
		},
	}, nil
}

var escrowEventTypes = []string{
	domain.EventEscrowCreated,
	domain.EventEscrowFunded,
	domain.EventEscrowFundsReleased,
	domain.EventEscrowRefundProcessed,
	domain.EventEscrowCompleted,
	domain.EventEscrowFrozen,
	domain.EventEscrowUnfrozen,
	domain.EventEscrowDisputed,
	domain.EventEscrowDisputeResolved,
	domain.EventEscrowFeeAdjusted,
}

func openStorage(ctx context.Context, cfg Config) (*gorm.DB, error) {
	if cfg.StorageDriver == StorageDriverSQLite {
		db, err := postgres.OpenSQLite(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, nil
	}
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, db); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func newGateway(cfg Config) (ports.PaymentGateway, error) {
	if cfg.GatewayMode == GatewayModeSandbox {
		return gatewayadapter.NewSandbox(), nil
	}
	gw, err := gatewayadapter.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewaySecretKey,
		gatewayadapter.WithMaxRetries(uint64(cfg.GatewayMaxRetries)),
	)
	if err != nil {
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}
	return gw, nil
}

func newCollaborators(cfg Config, logger *slog.Logger) (ports.ContractService, ports.UserDirectory, error) {
	httpClient := &http.Client{Timeout: cfg.CollaboratorTimeout}

	var contracts ports.ContractService
	if cfg.ContractServiceURL != "" {
		client, err := clientadapter.NewContractClient(cfg.ContractServiceURL,
			clientadapter.WithHTTPClient(httpClient),
			clientadapter.WithServiceToken(cfg.ServiceToken),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("init contract client: %w", err)
		}
		contracts = client
	} else {
		logger.Warn("CONTRACT_SERVICE_URL not set; using an empty in-process contract directory")
		contracts = clientadapter.NewStaticContracts()
	}

	var users ports.UserDirectory
	if cfg.ProfileServiceURL != "" {
		client, err := clientadapter.NewProfileClient(cfg.ProfileServiceURL,
			clientadapter.WithHTTPClient(httpClient),
			clientadapter.WithServiceToken(cfg.ServiceToken),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("init profile client: %w", err)
		}
		users = client
	} else {
		logger.Warn("PROFILE_SERVICE_URL not set; using an empty in-process profile directory")
		users = clientadapter.NewStaticUsers()
	}
	return contracts, users, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

// RunWorker drives the background loops: outbox relay, contract event
// consumption, auto-release sweeps and pending deposit reconciliation.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("outbox worker started")
		return ignoreCanceled(r.outbox.Run(gctx))
	})
	g.Go(func() error {
		r.logger.Info("event consumer started", "topics", r.cfg.KafkaInputTopics)
		return ignoreCanceled(r.consumer.Run(gctx))
	})
	g.Go(func() error {
		return r.runPeriodic(gctx, "auto_release_sweep", r.cfg.AutoReleaseSweepInterval, r.service.RunDueAutoReleases)
	})
	g.Go(func() error {
		return r.runPeriodic(gctx, "reconcile_pending_deposits", r.cfg.ReconcileInterval, r.service.ReconcilePendingDeposits)
	})

	err := g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return err
}

func (r *Runtime) runPeriodic(ctx context.Context, operation string, interval time.Duration, fn func(context.Context) (int, error)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	r.logger.Info("periodic job started", "operation", operation, "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := fn(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("periodic job failed", "operation", operation, "outcome", "failure", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("periodic job completed", "operation", operation, "outcome", "success", "processed", n)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
