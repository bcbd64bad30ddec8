package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
	"github.com/xenking/kart-fulfillment/internal/events/kafka"
	"github.com/xenking/kart-fulfillment/internal/handler"
	"github.com/xenking/kart-fulfillment/internal/storage/rediscache"
	"github.com/xenking/kart-fulfillment/pkg/health"
	"github.com/xenking/kart-fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the tracker
// repair loop, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	s, err := newServer(ctx, lg, cfg, m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return err
	}
	defer s.close()

	// Background tracker repair for orders stored without one.
	repairDone := make(chan struct{})
	if s.repairer != nil {
		go func() {
			defer close(repairDone)
			if err := s.repairer.Run(zctx.Base(ctx, lg.Named("repair"))); err != nil {
				lg.Error("Tracker repair stopped", zap.Error(err))
			}
		}()
	} else {
		close(repairDone)
	}

	s.health.Start(ctx, 10*time.Second)
	s.health.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		s.health.Stop()
		<-repairDone
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// server is the wired application before it starts serving.
type server struct {
	http     *http.Server
	health   *health.Health
	orders   *order.Service
	repairer *order.Repairer // nil when repair is disabled
	closers  []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer opens storage and the optional Redis and Kafka backends, then
// builds the domain services and the HTTP server around them. On error every
// resource opened so far is released.
func newServer(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
) (_ *server, rerr error) {
	s := &server{health: health.New()}
	defer func() {
		if rerr != nil {
			s.close()
		}
	}()

	s.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	repos, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := repos.Close(); err != nil {
			lg.Warn("Storage close failed", zap.Error(err))
		}
	})
	s.health.AddReadinessCheck(cfg.Storage.Driver, 5*time.Second, repos.Check)

	// Redis: cart snapshots and a read-through tracker cache.
	trackers := repos.Trackers
	var carts order.CartStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		s.closers = append(s.closers, func() { _ = rdb.Close() })

		s.health.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb), health.Optional())
		trackers = rediscache.NewTrackerRepository(trackers, rdb, cfg.Redis.TrackerTTL)
		carts = rediscache.NewCartStore(rdb, cfg.Redis.CartTTL)
	}

	// Kafka: order events.
	var publisher order.Publisher = order.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create kafka publisher")
		}
		s.closers = append(s.closers, func() {
			if err := p.Close(); err != nil {
				lg.Warn("Kafka publisher close failed", zap.Error(err))
			}
		})
		publisher = p
	}

	// Domain services.
	shippingCfg, err := cfg.shipping()
	if err != nil {
		return nil, err
	}
	taxRate, err := cfg.taxRate()
	if err != nil {
		return nil, err
	}
	orderCfg := order.Config{
		Origin:           cfg.origin(),
		OriginAddress:    cfg.Warehouse.Address,
		TaxRate:          taxRate,
		TrackingAttempts: cfg.Checkout.TrackingAttempts,
	}

	calcOpts := []discount.Option{discount.WithBreaker(cfg.Discount.BreakerFailures)}
	if cfg.Discount.Native && discount.NativeAvailable() {
		calcOpts = append(calcOpts, discount.WithBackend(discount.Native()))
	}
	calc := discount.NewCalculator(calcOpts...)
	lg.Info("Discount calculator ready", zap.Bool("native", calc.UsesBackend()))

	orderOpts := []order.Option{
		order.WithPublisher(publisher),
		order.WithTrackingNumbers(order.NewTrackingNumbers(cfg.Checkout.ExpectedOrders)),
		order.WithTelemetry(mp, tp),
	}
	if carts != nil {
		orderOpts = append(orderOpts, order.WithCartStore(carts))
	}
	s.orders, err = order.NewService(order.Deps{
		Orders:    repos.Orders,
		Trackers:  trackers,
		Tracking:  tracking.NewService(trackers, tracking.WithStrictTransitions(cfg.Tracking.StrictTransitions)),
		Ledger:    coupon.NewLedger(repos.Coupons),
		Discounts: calc,
		Estimator: shipping.NewEstimator(shippingCfg),
	}, orderCfg, orderOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	if cfg.Repair.Enabled {
		s.repairer = order.NewRepairer(repos.Orders, trackers, orderCfg, order.RepairConfig{
			Interval: cfg.Repair.Interval,
			Grace:    cfg.Repair.Grace,
			Batch:    cfg.Repair.Batch,
		})
	}

	// Router: health endpoints + API routes on one server.
	router := handler.NewHandler(s.orders, carts).Routes()
	router.Get("/livez", s.health.LiveEndpoint)
	router.Get("/readyz", s.health.ReadyEndpoint)

	s.http = &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("kart-api", mp, tp),
			httpmiddleware.LogRequests(),
		),
	}
	return s, nil
}
