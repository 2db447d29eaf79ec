package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store implements every repository on one pool. Mutations run in explicit
// transactions with row locks (FOR UPDATE) on the entity and transaction-scoped
// advisory locks on actor balances, taken in that order.
type Store struct {
	pool      *pgxpool.Pool
	attempts  int
	baseDelay time.Duration
	log       *zap.Logger
}

func NewStore(pool *pgxpool.Pool, attempts int, log *zap.Logger) *Store {
	if attempts <= 0 {
		attempts = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, attempts: attempts, baseDelay: 20 * time.Millisecond, log: log}
}

func (s *Store) Ledger() *LedgerRepo          { return &LedgerRepo{s} }
func (s *Store) Catalog() *CatalogRepo        { return &CatalogRepo{s} }
func (s *Store) Orders() *OrdersRepo          { return &OrdersRepo{s} }
func (s *Store) Kenz() *KenzRepo              { return &KenzRepo{s} }
func (s *Store) Settlements() *SettlementRepo { return &SettlementRepo{s} }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// inTx runs fn in a transaction, retrying serialization failures, deadlocks
// and dropped connections with exponential backoff. fn may run more than once.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	delay := s.baseDelay
	for attempt := 0; attempt < s.attempts; attempt++ {
		err = s.once(ctx, fn)
		if err == nil || !transient(err) {
			return err
		}
		metrics.StorageRetries.Inc()
		s.log.Warn("retrying transaction", zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt < s.attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return apperr.ErrUnavailable.Wrap(err)
}

func (s *Store) once(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01" || strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.SafeToRetry(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockActor serializes on an actor's balance for the rest of tx.
func lockActor(ctx context.Context, tx pgx.Tx, actorID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "actor:"+actorID)
	return err
}

func balanceOf(ctx context.Context, q querier, actorID string) (int64, error) {
	var bal int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE actor_id=$1`, actorID).Scan(&bal)
	return bal, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// keyset decodes a cursor into query args; a nil time means first page.
func keyset(p pagination.Params) (*time.Time, string, error) {
	c, ok, err := pagination.Decode(p.Cursor)
	if err != nil || !ok {
		return nil, "", err
	}
	return &c.At, c.ID, nil
}
