package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/dealbridge/internal/clock"
	"github.com/smallbiznis/dealbridge/internal/config"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	"github.com/smallbiznis/dealbridge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ExpiryParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	DealRepo dealdomain.Repository
	DealSvc  dealdomain.Service
}

// deadlineSweep pairs a deadline column with the waiting state it expires.
type deadlineSweep struct {
	name   string
	status dealdomain.Status
	field  dealdomain.DeadlineField
}

var deadlineSweeps = []deadlineSweep{
	{name: "accept", status: dealdomain.StatusPending, field: dealdomain.DeadlineAccept},
	{name: "payment", status: dealdomain.StatusMatched, field: dealdomain.DeadlinePayment},
	{name: "payment", status: dealdomain.StatusAwaitingPayment, field: dealdomain.DeadlinePayment},
	{name: "address", status: dealdomain.StatusPaymentAuthorized, field: dealdomain.DeadlineAddress},
	{name: "order", status: dealdomain.StatusAddressShared, field: dealdomain.DeadlineOrder},
}

// ExpiryScheduler forces time-based transitions. Each tick it sweeps the
// four deadline columns; every expiry goes through the lifecycle's Expire,
// whose conditional update makes concurrent or repeated sweeps harmless.
type ExpiryScheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.Config
	dealRepo dealdomain.Repository
	dealSvc  dealdomain.Service
	metrics  *metrics.DealMetrics

	nextStale time.Time
}

func NewExpiryScheduler(p ExpiryParams) *ExpiryScheduler {
	return &ExpiryScheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler.expiry"),
		clock:    p.Clock,
		cfg:      p.Cfg,
		dealRepo: p.DealRepo,
		dealSvc:  p.DealSvc,
		metrics:  metrics.Deal(),
	}
}

func (s *ExpiryScheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Sweep.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("expiry sweep run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes all deadline sweeps, plus the stale-order sweep when its
// longer period has elapsed.
func (s *ExpiryScheduler) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, sweep := range deadlineSweeps {
		if err := s.sweepDeadline(ctx, sweep); err != nil {
			s.metrics.ObserveSweepError(sweep.name)
			s.log.Warn("deadline sweep failed",
				zap.String("sweep", sweep.name),
				zap.String("status", string(sweep.status)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	now := s.clock.Now()
	if now.After(s.nextStale) {
		s.nextStale = now.Add(s.cfg.Sweep.StaleInterval)
		if err := s.sweepStaleOrders(ctx); err != nil {
			s.metrics.ObserveSweepError("stale_order")
			s.log.Warn("stale order sweep failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// sweepDeadline expires every deal of the given status whose deadline has
// passed. One stuck deal never stops the rest of the batch; its error is
// logged and the next tick retries it.
func (s *ExpiryScheduler) sweepDeadline(ctx context.Context, sweep deadlineSweep) error {
	started := s.clock.Now()
	due, err := s.dealRepo.DueForDeadline(ctx, s.db, sweep.status, sweep.field, started, s.cfg.Sweep.BatchSize)
	if err != nil {
		return err
	}

	for _, deal := range due {
		expired, err := s.dealSvc.Expire(ctx, deal.ID, deal.Status)
		switch {
		case err != nil:
			s.metrics.ObserveSweepResult(sweep.name, "error")
			s.log.Warn("expire failed",
				zap.String("sweep", sweep.name),
				zap.String("deal_id", deal.ID.String()),
				zap.Error(err))
		case expired:
			s.metrics.ObserveSweepResult(sweep.name, "expired")
		default:
			s.metrics.ObserveSweepResult(sweep.name, "skipped")
		}
	}

	s.metrics.ObserveSweep(sweep.name, s.clock.Now().Sub(started))
	return nil
}

// sweepStaleOrders refunds deals whose placed order never shipped within the
// business cutoff. These deals are funded, so Expire lands them in refunded.
func (s *ExpiryScheduler) sweepStaleOrders(ctx context.Context) error {
	started := s.clock.Now()
	cutoff := started.Add(-s.cfg.Windows.StaleOrderAfter)
	due, err := s.dealRepo.StaleOrders(ctx, s.db, cutoff, s.cfg.Sweep.BatchSize)
	if err != nil {
		return err
	}

	for _, deal := range due {
		expired, err := s.dealSvc.Expire(ctx, deal.ID, dealdomain.StatusOrderPlaced)
		switch {
		case err != nil:
			s.metrics.ObserveSweepResult("stale_order", "error")
			s.log.Warn("stale order refund failed",
				zap.String("deal_id", deal.ID.String()),
				zap.Error(err))
		case expired:
			s.metrics.ObserveSweepResult("stale_order", "expired")
		default:
			s.metrics.ObserveSweepResult("stale_order", "skipped")
		}
	}

	s.metrics.ObserveSweep("stale_order", s.clock.Now().Sub(started))
	return nil
}
