package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Idempotency deduplicates checkout submissions. A nil Deps.Idempotency
// disables the Idempotency-Key header.
type Idempotency interface {
	Begin(ctx context.Context, buyerID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, buyerID, key, orderID string) error
	Abort(ctx context.Context, buyerID, key string) error
}

type Deps struct {
	Log         *zap.Logger
	Verifier    *auth.Verifier
	Orders      *orders.Service
	Catalog     *catalog.Service
	Kenz        *kenz.Service
	Settlement  *settlement.Service
	Ledger      *ledger.Service
	Idempotency Idempotency
	// Health reports storage reachability for /healthz.
	Health    func(ctx context.Context) error
	RateLimit float64
	RateBurst int
}

func NewRouter(d Deps) *chi.Mux {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(d.Log), middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{d: d}
	r.Group(func(r chi.Router) {
		r.Use(instrument, authenticate(d.Verifier))
		if d.RateLimit > 0 {
			r.Use(newRateLimiter(d.RateLimit, d.RateBurst).middleware)
		}
		h.registerOrders(r)
		h.registerCatalog(r)
		h.registerKenz(r)
		h.registerSettlement(r)
		h.registerWallet(r)
	})
	return r
}

type handlers struct {
	d Deps
}
