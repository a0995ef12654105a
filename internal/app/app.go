package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/giftflare/orderflow/internal/courier"
	"github.com/giftflare/orderflow/internal/domain/order"
	"github.com/giftflare/orderflow/internal/handler"
	"github.com/giftflare/orderflow/internal/notify"
	"github.com/giftflare/orderflow/internal/provider"
	"github.com/giftflare/orderflow/internal/storage/postgres"
	"github.com/giftflare/orderflow/pkg/health"
	"github.com/giftflare/orderflow/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	profileRepo := postgres.NewProfileRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)

	// Notification channels: real HTTP providers when configured,
	// log-only stand-ins otherwise.
	emailSender, err := newSender("email", cfg.Providers.EmailBaseURL, cfg.Providers.SendTimeout, lg)
	if err != nil {
		return err
	}
	smsSender, err := newSender("sms", cfg.Providers.SMSBaseURL, cfg.Providers.SendTimeout, lg)
	if err != nil {
		return err
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Email:       emailSender,
		SMS:         smsSender,
		Profiles:    profileRepo,
		Queue:       outboxRepo,
		SendTimeout: cfg.Providers.SendTimeout,
		Logger:      lg.Named("notify"),
		Meter:       m.MeterProvider().Meter("orderflow"),
	})
	if err != nil {
		return errors.Wrap(err, "create dispatcher")
	}

	// Background retries of failed sends.
	retrier := notify.NewRetrier(outboxRepo, emailSender, smsSender, notify.RetrierConfig{
		Interval:    cfg.Notifications.RetryInterval,
		Backoff:     cfg.Notifications.RetryBackoff,
		MaxAttempts: cfg.Notifications.MaxAttempts,
		Batch:       cfg.Notifications.RetryBatch,
		SendTimeout: cfg.Providers.SendTimeout,
	}, lg.Named("retrier"))
	go retrier.Run(ctx)

	booker := &courier.Simulated{
		Prefix:  cfg.Courier.TrackingPrefix,
		Latency: cfg.Courier.Latency,
	}

	orderService := order.NewService(orderRepo, dispatcher, booker, order.ServiceConfig{
		InstantCities:  cfg.Delivery.InstantCities,
		BookingTimeout: cfg.Courier.BookingTimeout,
	}, lg.Named("orders"))

	// HTTP routes: health endpoints + order API on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(orderService).Register(mux)

	instrumented := otelhttp.NewHandler(mux, "orderflow",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func newSender(name, baseURL string, timeout time.Duration, lg *zap.Logger) (notify.Sender, error) {
	if baseURL == "" {
		return &provider.Simulated{Name: name, Log: lg.Named(name)}, nil
	}
	s, err := provider.NewHTTPSender(name, baseURL, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s sender", name)
	}
	return s, nil
}
