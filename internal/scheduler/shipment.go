package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealbridge/internal/clock"
	"github.com/smallbiznis/dealbridge/internal/config"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	"github.com/smallbiznis/dealbridge/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ShipmentProbe reports whether a tracking reference shows the parcel as
// dispatched.
type ShipmentProbe interface {
	Shipped(ctx context.Context, trackingRef string) (bool, error)
}

var shippedPattern = regexp.MustCompile(`(?i)\b(shipped|dispatched|in transit|out for delivery|delivered)\b`)

// httpProbe scrapes a courier tracking page and looks for a dispatch
// marker. Same outbound discipline as the product fetcher: hard timeout,
// bounded body, failure means "not shipped yet".
type httpProbe struct {
	client      *http.Client
	trackingURL string
}

func NewHTTPProbe(cfg config.Config) ShipmentProbe {
	timeout := cfg.Shipment.ProbeTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &httpProbe{
		client:      tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		trackingURL: cfg.Shipment.TrackingURL,
	}
}

func (p *httpProbe) Shipped(ctx context.Context, trackingRef string) (bool, error) {
	if p.trackingURL == "" {
		return false, errors.New("tracking_url_not_configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(p.trackingURL, trackingRef), nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("tracking page returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return false, err
	}
	return shippedPattern.Match(body), nil
}

type DetectorParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	DealRepo dealdomain.Repository
	DealSvc  dealdomain.Service
	Probe    ShipmentProbe
}

// ShipmentDetector periodically probes placed orders that carry a tracking
// reference. A detected shipment drives MarkShipped and then the
// capture-and-payout step.
type ShipmentDetector struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.Config
	dealRepo dealdomain.Repository
	dealSvc  dealdomain.Service
	probe    ShipmentProbe
}

func NewShipmentDetector(p DetectorParams) *ShipmentDetector {
	return &ShipmentDetector{
		db:       p.DB,
		log:      p.Log.Named("scheduler.shipment"),
		clock:    p.Clock,
		cfg:      p.Cfg,
		dealRepo: p.DealRepo,
		dealSvc:  p.DealSvc,
		probe:    p.Probe,
	}
}

func (d *ShipmentDetector) RunForever(ctx context.Context) {
	if d.cfg.Shipment.TrackingURL == "" {
		d.log.Info("shipment detector disabled, no tracking url configured")
		return
	}

	ticker := time.NewTicker(d.cfg.Shipment.Interval)
	defer ticker.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil {
			d.log.Warn("shipment detection run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *ShipmentDetector) RunOnce(ctx context.Context) error {
	deals, err := d.dealRepo.PendingShipmentChecks(ctx, d.db, d.cfg.Shipment.BatchSize)
	if err != nil {
		return err
	}

	for _, deal := range deals {
		if deal.TrackingRef == nil {
			continue
		}
		shipped, err := d.probe.Shipped(ctx, *deal.TrackingRef)
		if err != nil {
			d.log.Debug("shipment probe failed",
				zap.String("deal_id", deal.ID.String()),
				zap.Error(err))
			continue
		}
		if !shipped {
			continue
		}
		d.settle(ctx, deal.ID)
	}
	return nil
}

// settle drives the two post-shipment transitions. Either call losing its
// conditional update just means another worker got there first.
func (d *ShipmentDetector) settle(ctx context.Context, dealID snowflake.ID) {
	deal, err := d.dealSvc.MarkShipped(ctx, dealID, "")
	if err != nil {
		if !errors.Is(err, dealdomain.ErrStateConflict) {
			d.log.Warn("mark shipped failed",
				zap.String("deal_id", dealID.String()),
				zap.Error(err))
		}
		return
	}
	if _, err := d.dealSvc.CaptureAndDisburse(ctx, deal.ID); err != nil {
		d.log.Warn("capture after shipment failed",
			zap.String("deal_id", deal.ID.String()),
			zap.Error(err))
	}
}
