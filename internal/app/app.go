// Package app wires the booking services into an HTTP server and the
// settlement scheduler.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/audit"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/catalog"
	"github.com/ksred/booking-api/internal/config"
	"github.com/ksred/booking-api/internal/database"
	"github.com/ksred/booking-api/internal/events"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/payment"
	"github.com/ksred/booking-api/internal/payout"
	"github.com/ksred/booking-api/internal/refund"
	"github.com/ksred/booking-api/internal/settlement"
	"github.com/ksred/booking-api/internal/timeslot"
	"github.com/ksred/booking-api/pkg/middleware"
	"github.com/ksred/booking-api/pkg/mq"
)

// App owns every long-lived component of the server.
type App struct {
	cfg        *config.Config
	db         *gorm.DB
	dispatcher *events.Dispatcher
	publisher  *mq.Publisher
	limiter    *middleware.RateLimiter
	processor  *settlement.Processor

	Router      *gin.Engine
	Auth        *auth.Service
	Orders      *order.Service
	Payments    *payment.Service
	Settlements *settlement.Service
}

// New opens the database, seeds demo data when configured and builds the
// router.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewDatabase(cfg.Database, cfg.Debug)
	if err != nil {
		return nil, errors.Wrap(err, "initialize database")
	}
	return NewWithDB(ctx, cfg, db)
}

// NewWithDB builds the app on an already migrated database.
func NewWithDB(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	a := &App{
		cfg:        cfg,
		db:         db,
		dispatcher: events.NewDispatcher(cfg.Events.Workers, cfg.Events.QueueSize),
		limiter: middleware.NewRateLimiter(middleware.Limits{
			AuthPerMinute:   cfg.RateLimit.AuthPerMinute,
			OrdersPerMinute: cfg.RateLimit.OrdersPerMinute,
			ReadsPerMinute:  cfg.RateLimit.ReadsPerMinute,
		}),
	}

	var publisher audit.Publisher
	if cfg.Broker.URL != "" {
		p, err := mq.NewPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			// Audit rows are still persisted without the broker.
			log.Warn().Err(err).Msg("audit publishing disabled")
		} else {
			a.publisher = p
			publisher = p
		}
	}

	a.Auth = auth.NewService(db, cfg.JWT.Secret, cfg.JWT.TTL)
	if cfg.Seed {
		if err := database.Seed(ctx, db, a.Auth); err != nil {
			return nil, errors.Wrap(err, "seed demo data")
		}
	}

	auditService := audit.NewService(db, a.dispatcher, publisher)
	catalogService := catalog.NewService(db)
	allocator := timeslot.NewAllocator(db)

	gatewayOpts := []payout.Option{payout.WithFailureRate(cfg.Settlement.FailureRate)}
	if !cfg.IsProduction() {
		gatewayOpts = append(gatewayOpts, payout.WithLatency())
	}
	a.Settlements = settlement.NewService(db, payout.NewSimulatedGateway(gatewayOpts...), cfg.Location())
	a.Payments = payment.NewService(db, auditService)
	refunds := refund.NewService(db, a.Payments, a.dispatcher)

	a.Orders = order.NewService(db, order.Deps{
		Customers:   a.Auth,
		Catalog:     catalogService,
		Slots:       allocator,
		Settlements: a.Settlements,
		Payments:    a.Payments,
		Refunds:     refunds,
		Audit:       auditService,
	})

	if !cfg.Settlement.Disabled {
		a.processor = settlement.NewProcessor(a.Settlements, cfg.Settlement.Schedule, cfg.Location())
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), a.limiter.Middleware())

	setupRoutes(router, routeHandlers{
		validator:   a.Auth,
		auth:        auth.NewGinHandlers(a.Auth),
		catalog:     catalog.NewGinHandlers(catalogService),
		slots:       timeslot.NewGinHandlers(allocator),
		orders:      order.NewGinHandlers(a.Orders),
		payments:    payment.NewGinHandlers(a.Payments),
		refunds:     refund.NewGinHandlers(refunds),
		settlements: settlement.NewGinHandlers(a.Settlements),
		audit:       audit.NewGinHandlers(auditService),
		health:      a.healthHandler(),
	})
	a.Router = router

	return a, nil
}

func (a *App) healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Run serves HTTP and runs the settlement scheduler until ctx is cancelled,
// then shuts both down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", a.cfg.Addr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Graceful.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.limiter.Cleanup(gctx)
		return nil
	})

	if a.processor != nil {
		g.Go(func() error {
			return a.processor.Start(gctx)
		})
	}

	return g.Wait()
}

// Close drains after-commit work and releases connections. The first
// failure is returned; later ones are logged.
func (a *App) Close(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err == nil {
			return
		}
		if first == nil {
			first = err
			return
		}
		log.Error().Err(err).Msg("shutdown step failed")
	}

	keep(a.dispatcher.Close(ctx))
	if a.publisher != nil {
		keep(errors.Wrap(a.publisher.Close(), "close publisher"))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		keep(errors.Wrap(sqlDB.Close(), "close database"))
	}
	return first
}
