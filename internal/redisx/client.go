package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Dedup remembers which events a consumer has already handled.
type Dedup struct {
	rdb     redis.Cmdable
	service string
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

// First records eventID and reports whether this is its first delivery.
func (d *Dedup) First(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), 1, TTLDedup).Result()
}

// Idempotency guards repeated checkout submissions carrying the same key.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency { return &Idempotency{rdb: rdb} }

// ErrInFlight means the first request with this key has not finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

// Begin claims key for buyerID. If the key already completed it returns the
// stored order id; if another request holds it, ErrInFlight.
func (i *Idempotency) Begin(ctx context.Context, buyerID, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemCheckout, buyerID, key)
	ok, err := i.rdb.SetNX(ctx, k, pendingMarker, TTLIdempotency).Result()
	if err != nil || ok {
		return "", ok, err
	}
	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, ErrInFlight
	}
	if err != nil {
		return "", false, err
	}
	if v == pendingMarker {
		return "", false, ErrInFlight
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, buyerID, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, buyerID, key), orderID, TTLIdempotency).Err()
}

// Abort releases a claimed key after a failed request.
func (i *Idempotency) Abort(ctx context.Context, buyerID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemCheckout, buyerID, key)).Err()
}

// StatementCache keeps statement pages per vendor in one hash so a single
// DEL drops every page.
type StatementCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *zap.Logger
}

func NewStatementCache(rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *StatementCache {
	if ttl <= 0 {
		ttl = TTLStatement
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StatementCache{rdb: rdb, ttl: ttl, log: log}
}

func (c *StatementCache) Get(ctx context.Context, vendorID, page string) (*settlement.Statement, bool) {
	b, err := c.rdb.HGet(ctx, fmt.Sprintf(KeyStatement, vendorID), page).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("statement cache read", zap.String("vendor", vendorID), zap.Error(err))
		}
		return nil, false
	}
	var st settlement.Statement
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, false
	}
	return &st, true
}

func (c *StatementCache) Put(ctx context.Context, vendorID, page string, st *settlement.Statement) {
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	key := fmt.Sprintf(KeyStatement, vendorID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, page, b)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("statement cache write", zap.String("vendor", vendorID), zap.Error(err))
	}
}

func (c *StatementCache) Invalidate(ctx context.Context, vendorID string) {
	if err := c.rdb.Del(ctx, fmt.Sprintf(KeyStatement, vendorID)).Err(); err != nil {
		c.log.Warn("statement cache invalidate", zap.String("vendor", vendorID), zap.Error(err))
	}
}
