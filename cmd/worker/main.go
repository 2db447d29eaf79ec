package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-marketplace-ledger/internal/config"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	kafkax "github.com/ariefcatur/go-marketplace-ledger/internal/kafka"
	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/logx"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"github.com/ariefcatur/go-marketplace-ledger/internal/postgres"
	"github.com/ariefcatur/go-marketplace-ledger/internal/redisx"
	"github.com/ariefcatur/go-marketplace-ledger/internal/worker"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepBatch = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	name := cfg.ServiceName + "-worker"
	logger, err := logx.New(cfg.Env, name)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	store := postgres.NewStore(pool, cfg.Policy.TxAttempts, logger)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for events raised by auto-release
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 256, logger)
	prodCtx, stopProd := context.WithCancel(context.Background())
	prod.Start(prodCtx)
	var pub events.Publisher = prod

	svc := &worker.Service{
		Dedup:  redisx.NewDedup(rdb, name),
		Cache:  redisx.NewStatementCache(rdb, cfg.Policy.StatementCacheTTL, logger),
		Escrow: kenz.NewService(store.Kenz(), cfg.Policy.EscrowFeeRate, pub, logger, name),
		Log:    logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, events.TopicLedger, cfg.WorkerCount, logger)
		logger.Info("ledger consumer started",
			zap.String("group", cfg.WorkerGroup),
			zap.String("topic", events.TopicLedger),
			zap.Int("workers", cfg.WorkerCount),
		)
		return cons.Start(gctx, svc.HandleLedgerPosted)
	})
	if cfg.Policy.AutoReleaseAfter > 0 {
		g.Go(func() error {
			logger.Info("escrow sweeper started",
				zap.Duration("interval", cfg.Policy.SweepInterval),
				zap.Duration("window", cfg.Policy.AutoReleaseAfter),
			)
			return svc.RunSweeper(gctx, cfg.Policy.SweepInterval, cfg.Policy.AutoReleaseAfter, sweepBatch)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker exit", zap.Error(err))
	}
	logger.Info("shutting down worker")
	prod.Close()
	stopProd()
	prod.WaitClosed()
}
