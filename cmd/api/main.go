package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
	"github.com/ariefcatur/go-marketplace-ledger/internal/config"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-ledger/internal/kafka"
	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/logx"
	"github.com/ariefcatur/go-marketplace-ledger/internal/memstore"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/postgres"
	"github.com/ariefcatur/go-marketplace-ledger/internal/redisx"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// repos is the set of repositories both store backends provide.
type repos struct {
	ledger     ledger.Repo
	catalog    catalog.Repo
	orders     orders.Repo
	kenz       kenz.Repo
	settlement settlement.Repo
	health     func(context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.Env, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var rs repos
	switch cfg.Store {
	case "memory":
		st := memstore.New()
		rs = repos{st.Ledger(), st.Catalog(), st.Orders(), st.Kenz(), st.Settlements(), nil}
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		st := postgres.NewStore(pool, cfg.Policy.TxAttempts, logger)
		rs = repos{st.Ledger(), st.Catalog(), st.Orders(), st.Kenz(), st.Settlements(), st.Ping}
	}

	// Redis: statement cache and checkout idempotency
	var (
		cache settlement.StatementCache = settlement.NopCache{}
		idem  httpx.Idempotency
	)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; cache and idempotency disabled", zap.Error(err))
		} else {
			cache = redisx.NewStatementCache(rdb, cfg.Policy.StatementCacheTTL, logger)
			idem = redisx.NewIdempotency(rdb)
		}
	}

	// Kafka producer
	var pub events.Publisher = events.Nop{}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		prod.Start(ctx)
		pub = prod
	}

	catSvc := catalog.NewService(rs.catalog, cfg.Policy.DefaultCommissionRate, logger)
	router := httpx.NewRouter(httpx.Deps{
		Log:        logger,
		Verifier:   auth.NewVerifier(cfg.JWTSecret),
		Catalog:    catSvc,
		Orders:     orders.NewService(rs.orders, catSvc, pub, logger, cfg.ServiceName),
		Kenz:       kenz.NewService(rs.kenz, cfg.Policy.EscrowFeeRate, pub, logger, cfg.ServiceName),
		Ledger:     ledger.NewService(rs.ledger, pub, logger, cfg.ServiceName),
		Settlement: settlement.NewService(rs.settlement, rs.ledger, pub, logger, cfg.ServiceName, settlement.Options{
			Minimum: cfg.Policy.SettlementMinimum,
			Cache:   cache,
		}),
		Idempotency: idem,
		Health:      rs.health,
		RateLimit:   cfg.RateLimitRPS,
		RateBurst:   cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()      // stop accepting, flush queued events
		cancel()          // stop producer loop
		prod.WaitClosed() // drain
	}
}
