package app

import (
	"context"
	"fmt"
	"time"

	"storefront-fulfillment/internal/auth"
	"storefront-fulfillment/internal/brokers/rabbitmq"
	"storefront-fulfillment/internal/common/cache"
	commonhttp "storefront-fulfillment/internal/common/http"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/ratelimit"
	"storefront-fulfillment/internal/config"
	"storefront-fulfillment/internal/fulfillment"
	"storefront-fulfillment/internal/invoice"
	"storefront-fulfillment/internal/locks"
	"storefront-fulfillment/internal/notify"
	"storefront-fulfillment/internal/payment"
	"storefront-fulfillment/internal/redis"
	"storefront-fulfillment/internal/shipping"
	"storefront-fulfillment/internal/signature"
	"storefront-fulfillment/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config       *config.Config
	Store        *storage.SQLStore
	RedisClient  *redis.Client
	Locker       locks.Locker
	Cache        cache.Cache
	Auth         *auth.Auth
	Payments     *payment.Client
	Shipping     *shipping.Client
	Tracker      *shipping.Tracker
	Notifier     *notify.Dispatcher
	Pipeline     *fulfillment.Pipeline
	Dispatcher   fulfillment.Dispatcher
	Orchestrator *fulfillment.Orchestrator
	Sweeper      *fulfillment.Sweeper
	Limiter      *ratelimit.KeyedLimiter
	Logger       logging.Logger

	stopConsumer context.CancelFunc
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initializeStorage(ctx); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.Field{Key: "error", Value: err.Error()})
	}
	app.initializeCoordination()

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeFulfillment(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	limiter, err := ratelimit.NewKeyedLimiter(ratelimit.Config{
		Enabled:           cfg.RateLimitEnabled,
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	if err != nil {
		app.Cleanup()
		return nil, err
	}
	app.Limiter = limiter

	return app, nil
}

func (app *App) initializeStorage(ctx context.Context) error {
	store, err := storage.NewStore(ctx, app.Config, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Store = store
	app.Logger.Info("Storage: Ready", logging.Field{Key: "type", Value: app.Config.DatabaseType})
	return nil
}

// initializeCoordination picks Redis-backed locks and caches when Redis is up
func (app *App) initializeCoordination() {
	if app.RedisClient != nil {
		locker, err := locks.NewRedsyncLocker(app.RedisClient, app.Logger)
		if err == nil {
			app.Locker = locker
			app.Cache = cache.NewRedisCache(app.RedisClient, "storefront:")
			app.Logger.Info("Distributed Locks: Enabled")
			return
		}
		app.Logger.Warn("Distributed locks unavailable, using in-process locks", logging.Field{Key: "error", Value: err.Error()})
	}
	app.Locker = locks.NewLocalLocker()
	app.Cache = cache.NewLocalCache(app.Config.TrackingCacheTTL, 10*time.Minute)
}

func (app *App) initializeAuth() error {
	a, err := auth.New(app.Config.AdminJWTSecret, app.Cache, app.Logger)
	if err != nil {
		return err
	}
	app.Auth = a
	return nil
}

func (app *App) newMailer() (notify.Mailer, error) {
	if !app.Config.SMTPEnabled {
		app.Logger.Warn("SMTP disabled, mail will only be logged")
		return notify.NewLogMailer(app.Logger), nil
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     app.Config.SMTPHost,
		Port:     app.Config.SMTPPort,
		Username: app.Config.SMTPUsername,
		Password: app.Config.SMTPPassword,
		From:     app.Config.SMTPFrom,
		FromName: app.Config.SMTPFromName,
		UseSSL:   app.Config.SMTPUseSSL,
	}, app.Logger)
}

func (app *App) shippingRetry() *commonhttp.RetryConfig {
	if app.Config.ShippingRetryMaxAttempts <= 1 {
		return nil
	}
	retry := commonhttp.DefaultRetryConfig()
	retry.MaxAttempts = app.Config.ShippingRetryMaxAttempts
	retry.InitialDelay = app.Config.ShippingRetryInitialDelay
	return retry
}

// initializeFulfillment wires the provider clients, the pipeline and the
// dispatcher the orchestrator hands admitted orders to.
func (app *App) initializeFulfillment(ctx context.Context) error {
	cfg := app.Config

	app.Payments = payment.NewClient(payment.Config{
		BaseURL:   cfg.PaymentAPIURL,
		KeyID:     cfg.PaymentKeyID,
		KeySecret: cfg.PaymentKeySecret,
	}, app.Logger)

	app.Shipping = shipping.NewClient(shipping.ClientConfig{
		BaseURL:        cfg.ShippingAPIURL,
		Email:          cfg.ShippingEmail,
		Password:       cfg.ShippingPassword,
		PickupLocation: cfg.ShippingPickupLocation,
		TokenTTL:       cfg.ShippingTokenTTL,
		Retry:          app.shippingRetry(),
	}, app.Logger)
	app.Tracker = shipping.NewTracker(app.Shipping, app.Store, app.Cache, cfg.TrackingCacheTTL, app.Logger)

	mailer, err := app.newMailer()
	if err != nil {
		return err
	}
	app.Notifier = notify.NewDispatcher(mailer, app.Store, cfg.MailTimeout, app.Logger)

	var renderer invoice.Renderer
	if cfg.InvoiceServiceURL != "" {
		renderer = invoice.NewServiceRenderer(cfg.InvoiceServiceURL, cfg.DocumentTimeout, app.Logger)
	} else {
		app.Logger.Warn("INVOICE_SERVICE_URL not set, confirmations will carry an empty invoice")
	}

	app.Pipeline = fulfillment.NewPipeline(fulfillment.PipelineDeps{
		Store:       app.Store,
		Provisioner: shipping.NewProvisioner(app.Shipping, cfg.ShipmentTimeout, app.Logger),
		Documents:   invoice.NewGenerator(renderer, app.Shipping, cfg.DocumentTimeout, app.Logger),
		Notifier:    app.Notifier,
		Locker:      app.Locker,
	}, app.Logger)

	if err := app.initializeDispatcher(ctx); err != nil {
		return err
	}

	orchestrator, err := fulfillment.NewOrchestrator(fulfillment.Deps{
		Store:      app.Store,
		Verifier:   signature.NewVerifier(cfg.PaymentKeySecret, cfg.PaymentWebhookSecret, app.Logger),
		Payments:   app.Payments,
		Dispatcher: app.Dispatcher,
		Notifier:   app.Notifier,
	}, fulfillment.Options{PaymentFetchTimeout: cfg.PaymentFetchTimeout}, app.Logger)
	if err != nil {
		return err
	}
	app.Orchestrator = orchestrator

	sweeper, err := fulfillment.NewSweeper(app.Store, fulfillment.SweeperConfig{
		Schedule:   cfg.StaleSweepSchedule,
		StaleAfter: cfg.StaleAfter,
	}, app.Logger)
	if err != nil {
		return err
	}
	app.Sweeper = sweeper
	return nil
}

func (app *App) initializeDispatcher(ctx context.Context) error {
	if app.Config.FulfillmentDispatch != config.DispatchAMQP {
		app.Dispatcher = fulfillment.NewInProcessDispatcher(app.Pipeline, app.Logger)
		app.Logger.Info("Fulfillment: in-process dispatch")
		return nil
	}

	dispatcher, err := rabbitmq.NewDispatcher(&rabbitmq.Config{
		URL:   app.Config.RabbitMQURL,
		Queue: app.Config.FulfillmentQueue,
	}, app.Pipeline, app.Logger)
	if err != nil {
		return err
	}

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := dispatcher.Start(consumeCtx); err != nil {
		cancel()
		dispatcher.Close(ctx)
		return err
	}
	app.stopConsumer = cancel
	app.Dispatcher = dispatcher
	app.Logger.Info("Fulfillment: RabbitMQ dispatch", logging.Field{Key: "queue", Value: app.Config.FulfillmentQueue})
	return nil
}

// Shutdown drains background fulfillment work
func (app *App) Shutdown(ctx context.Context) error {
	if app.Sweeper != nil {
		app.Sweeper.Stop()
	}
	if app.stopConsumer != nil {
		app.stopConsumer()
	}
	if app.Dispatcher != nil {
		if err := app.Dispatcher.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Locker != nil {
		app.Locker.Close()
	}
	if app.Store != nil {
		app.Store.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
