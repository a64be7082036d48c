package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/discount"
	"github.com/xenking/order-management/internal/domain/order"
	"github.com/xenking/order-management/internal/events/kafka"
	"github.com/xenking/order-management/internal/handler"
	"github.com/xenking/order-management/internal/storage/postgres"
	"github.com/xenking/order-management/internal/storage/rediscache"
	"github.com/xenking/order-management/pkg/health"
	"github.com/xenking/order-management/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	s, err := NewServer(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Serve(ctx)
}

// Server is the assembled API with the resources it owns.
type Server struct {
	cfg     *Config
	lg      *zap.Logger
	health  *health.Health
	handler http.Handler
	closers []func()
}

// NewServer connects to the backing stores, wires the domain services and
// builds the HTTP handler. It is the single wiring point for the
// application. Health checks run until ctx is done or Close is called.
func NewServer(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (_ *Server, rerr error) {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	s := &Server{cfg: cfg, lg: lg, health: health.New()}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	engine, err := NewEngine(cfg.Discount)
	if err != nil {
		return nil, err
	}
	lg.Info("Discount rules loaded",
		zap.Int("rules", len(engine.Rules())),
		zap.Stringer("stacking", engine.Stacking()),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	s.health.AddReadinessCheck("postgres", health.PingCheck(pool))
	s.health.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))
	s.health.AddLivenessCheck("gc", health.GCMaxPauseCheck(time.Second), health.WithTimeout(time.Second))

	customerRepo := postgres.NewCustomerRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	opts := []order.Option{order.WithTelemetry(tp, mp)}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = rdb.Close() })

		s.health.AddReadinessCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		opts = append(opts, order.WithAnalyticsCache(rediscache.NewAnalyticsCache(rdb, cfg.Redis.AnalyticsTTL)))
		lg.Info("Analytics cache enabled", zap.String("redis", cfg.Redis.Addr))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		s.closers = append(s.closers, func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		})
		opts = append(opts, order.WithPublisher(pub))
		lg.Info("Order events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	orderService := order.NewService(customerRepo, productRepo, orderRepo, engine, opts...)
	customerService := customer.NewService(customerRepo)
	h := handler.New(orderService, customerService, productRepo, engine)

	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests(), httpmiddleware.Labeler())
	r.Get("/livez", s.health.LiveEndpoint)
	r.Get("/readyz", s.health.ReadyEndpoint)
	r.Route("/api", h.Routes)

	s.handler = httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{"Location", "Retry-After", httpmiddleware.HeaderRequestID, "X-RateLimit-Remaining"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("orders-api", tp, mp),
	)

	s.health.Start(ctx, 10*time.Second)
	s.closers = append(s.closers, s.health.Stop)
	s.health.SetReady(true)

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases the server resources in reverse order of acquisition.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Serve listens on the configured address until ctx is done. On shutdown
// readiness is dropped before the listener closes, and in-flight requests
// get Graceful.ShutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context) error {
	cfg, lg := s.cfg, s.lg
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.handler,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// NewEngine builds the discount engine from the built-in rules plus the
// expression rules in cfg.RulesFile, if any.
func NewEngine(cfg DiscountConfig) (*discount.Engine, error) {
	stacking, err := discount.ParseStacking(cfg.Stacking)
	if err != nil {
		return nil, errors.Wrap(err, "discount stacking")
	}

	rules := discount.DefaultRules()
	if cfg.RulesFile != "" {
		extra, err := discount.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, errors.Wrapf(err, "load rules from %s", cfg.RulesFile)
		}
		rules = append(rules, extra...)
	}
	return discount.NewEngine(rules, discount.WithStacking(stacking)), nil
}
