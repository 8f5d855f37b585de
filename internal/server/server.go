package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/dealbridge/internal/audit/domain"
	"github.com/smallbiznis/dealbridge/internal/config"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	"github.com/smallbiznis/dealbridge/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/dealbridge/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/dealbridge/internal/payout/domain"
	"github.com/smallbiznis/dealbridge/internal/scrape"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	DealSvc    dealdomain.Service
	PaymentSvc paymentdomain.Service
	PayoutSvc  payoutdomain.Service
	AuditSvc   auditdomain.Service
	Queue      *scrape.AdmissionQueue
}

type Server struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	dealSvc    dealdomain.Service
	paymentSvc paymentdomain.Service
	payoutSvc  payoutdomain.Service
	auditSvc   auditdomain.Service
	queue      *scrape.AdmissionQueue

	createLimiter *rateLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		db:            p.DB,
		log:           p.Log.Named("server"),
		cfg:           p.Cfg,
		dealSvc:       p.DealSvc,
		paymentSvc:    p.PaymentSvc,
		payoutSvc:     p.PayoutSvc,
		auditSvc:      p.AuditSvc,
		queue:         p.Queue,
		createLimiter: newRateLimiter(p.Cfg.RateLimit.CreateDealLimit, p.Cfg.RateLimit.CreateDealWindow),
	}
}

func NewEngine(s *Server, log *zap.Logger) *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.POST("/webhooks/razorpay", s.ReceiveWebhook)

	authed := engine.Group("/", s.RequireAuth())

	deals := authed.Group("/deals")
	deals.POST("", s.RequireRole(RoleBuyer), s.rateLimitCreate(), s.CreateDeal)
	deals.GET("", s.ListDeals)
	deals.GET("/:id", s.GetDeal)
	deals.POST("/:id/accept", s.RequireRole(RoleCardholder), s.AcceptDeal)
	deals.POST("/:id/order", s.RequireRole(RoleBuyer), s.CreatePaymentOrder)
	deals.POST("/:id/verify-payment", s.RequireRole(RoleBuyer), s.VerifyPayment)
	deals.POST("/:id/address", s.RequireRole(RoleBuyer), s.ShareAddress)
	deals.POST("/:id/submit-order", s.RequireRole(RoleCardholder), s.SubmitOrder)
	deals.POST("/:id/received", s.RequireRole(RoleBuyer), s.MarkReceived)
	deals.POST("/:id/cancel", s.CancelDeal)
	deals.POST("/:id/shipped", s.RequireRole(RoleAdmin), s.MarkShipped)
	deals.POST("/:id/capture", s.RequireRole(RoleAdmin), s.CaptureDeal)
	deals.POST("/:id/payout", s.RequireRole(RoleAdmin), s.RetryPayout)

	me := authed.Group("/me")
	me.GET("/payout-method", s.RequireRole(RoleCardholder), s.GetPayoutMethod)
	me.PUT("/payout-method", s.RequireRole(RoleCardholder), s.SavePayoutMethod)

	internal := authed.Group("/internal", s.RequireRole(RoleAdmin))
	internal.GET("/scrape-queue", s.ScrapeQueueStatus)
	internal.DELETE("/scrape-queue", s.ClearScrapeQueue)
	internal.GET("/audit-logs", s.ListAuditLogs)

	return engine
}

func (s *Server) rateLimitCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			AbortWithError(c, unauthorizedError())
			return
		}
		if !s.createLimiter.Allow(actor.ID.String()) {
			AbortWithError(c, &apiError{
				Status:  http.StatusTooManyRequests,
				Code:    "rate_limited",
				Message: "too many deal creations, slow down",
			})
			return
		}
		c.Next()
	}
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Provide(NewEngine),
	fx.Invoke(RunHTTP),
)
