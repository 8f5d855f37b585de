package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealbridge/internal/audit"
	auditdomain "github.com/smallbiznis/dealbridge/internal/audit/domain"
	"github.com/smallbiznis/dealbridge/internal/clock"
	"github.com/smallbiznis/dealbridge/internal/config"
	"github.com/smallbiznis/dealbridge/internal/deal"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	"github.com/smallbiznis/dealbridge/internal/escrow"
	"github.com/smallbiznis/dealbridge/internal/events"
	"github.com/smallbiznis/dealbridge/internal/notification"
	"github.com/smallbiznis/dealbridge/internal/observability/logger"
	"github.com/smallbiznis/dealbridge/internal/observability/tracing"
	"github.com/smallbiznis/dealbridge/internal/payment"
	paymentdomain "github.com/smallbiznis/dealbridge/internal/payment/domain"
	"github.com/smallbiznis/dealbridge/internal/payout"
	payoutdomain "github.com/smallbiznis/dealbridge/internal/payout/domain"
	"github.com/smallbiznis/dealbridge/internal/scheduler"
	"github.com/smallbiznis/dealbridge/internal/scrape"
	"github.com/smallbiznis/dealbridge/internal/seed"
	"github.com/smallbiznis/dealbridge/internal/server"
	"github.com/smallbiznis/dealbridge/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		tracing.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			if err := conn.AutoMigrate(
				&dealdomain.Deal{},
				&events.DealEvent{},
				&paymentdomain.EventRecord{},
				&auditdomain.AuditLog{},
				&payoutdomain.Profile{},
			); err != nil {
				return err
			}
			if !cfg.IsProduction() {
				return seed.EnsureDemoData(conn)
			}
			return nil
		}),

		events.Module,
		notification.Module,
		audit.Module,
		escrow.Module,
		payout.Module,
		scrape.Module,
		payment.Module,
		deal.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}
