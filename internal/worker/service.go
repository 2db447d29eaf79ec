// Package worker runs the background side of the marketplace: it follows the
// ledger topic to keep cached vendor statements fresh and periodically
// releases escrow deals nobody confirmed in time.
package worker

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	kafkax "github.com/ariefcatur/go-marketplace-ledger/internal/kafka"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Deduper interface {
	First(ctx context.Context, eventID string) (bool, error)
}

type Releaser interface {
	AutoRelease(ctx context.Context, window time.Duration, batch int) (int, error)
}

type Service struct {
	Dedup  Deduper
	Cache  settlement.StatementCache
	Escrow Releaser
	Log    *zap.Logger
}

// HandleLedgerPosted is installed as the ledger topic consumer handler.
func (s *Service) HandleLedgerPosted(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// poison message: commit and move on
		s.Log.Warn("skip undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		metrics.WorkerEvents.WithLabelValues("unknown", "malformed").Inc()
		return nil
	}
	if env.EventType != events.EventLedgerPosted {
		metrics.WorkerEvents.WithLabelValues(env.EventType, "ignored").Inc()
		return nil
	}

	first, err := s.Dedup.First(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		metrics.WorkerEvents.WithLabelValues(env.EventType, "duplicate").Inc()
		return nil
	}

	p, err := kafkax.UnwrapPayload[events.LedgerPostedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("skip bad payload", zap.String("event", env.EventID), zap.Error(err))
		metrics.WorkerEvents.WithLabelValues(env.EventType, "malformed").Inc()
		return nil
	}
	for _, actor := range p.Actors {
		if ledger.IsPlatform(actor) {
			continue
		}
		s.Cache.Invalidate(ctx, actor)
	}
	metrics.WorkerEvents.WithLabelValues(env.EventType, "ok").Inc()
	return nil
}

// RunSweeper releases held escrow deals older than window every interval
// until ctx ends.
func (s *Service) RunSweeper(ctx context.Context, interval, window time.Duration, batch int) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Sweep(ctx, window, batch)
		}
	}
}

func (s *Service) Sweep(ctx context.Context, window time.Duration, batch int) int {
	n, err := s.Escrow.AutoRelease(ctx, window, batch)
	if err != nil {
		s.Log.Warn("escrow sweep failed", zap.Error(err))
		metrics.WorkerEvents.WithLabelValues("escrow_sweep", "error").Inc()
		return 0
	}
	if n > 0 {
		s.Log.Info("escrow deals auto-released", zap.Int("count", n))
		metrics.WorkerEvents.WithLabelValues("escrow_sweep", "released").Add(float64(n))
	}
	return n
}
