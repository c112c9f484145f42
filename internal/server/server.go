package server

import (
	"log"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nusawave/prepaidnet/internal/config"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/handler"
	"github.com/nusawave/prepaidnet/internal/infrastructure/ipaymu"
	"github.com/nusawave/prepaidnet/internal/middleware"
	"github.com/nusawave/prepaidnet/internal/repository"
	"github.com/nusawave/prepaidnet/internal/service"
	"github.com/nusawave/prepaidnet/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	MongoDB     *mongo.Database
	RedisClient *redis.Client
}

// App bundles the configured Fiber application with the background
// scheduler so main can run both.
type App struct {
	Fiber     *fiber.App
	Scheduler *service.LifecycleScheduler
}

// NewApp wires repositories, services and handlers into a runnable app
func NewApp(deps AppDependencies) *App {
	// Repositories
	customerRepo := repository.NewMongoCustomerRepository(deps.MongoDB)
	pkgRepo := repository.NewMongoPackageRepository(deps.MongoDB)
	subRepo := repository.NewMongoSubscriptionRepository(deps.MongoDB)
	paymentRepo := repository.NewMongoPaymentRepository(deps.MongoDB)
	usageRepo := repository.NewMongoUsageRepository(deps.MongoDB)
	accountingRepo := repository.NewMongoAccountingRepository(deps.MongoDB)
	cacheRepo := repository.NewRedisCacheRepository(deps.RedisClient)

	// AAA store and adapter
	aaaStore := service.NewAaaStore(deps.Config.Radius)
	aaa := service.NewAaaAdapter(aaaStore, subRepo)

	// Side-effect wiring
	notifier := service.NewLogNotifier()
	dispatcher := service.NewEventDispatcher(notifier, aaa)

	// Core services
	subService := service.NewSubscriptionService(subRepo, customerRepo, pkgRepo, usageRepo, accountingRepo, aaa, dispatcher)
	provider := service.NewPaymentProvider(deps.Config.IPaymu)
	paymentService := service.NewPaymentService(paymentRepo, customerRepo, pkgRepo, subService, provider, dispatcher)
	usageService := service.NewUsageService(accountingRepo, usageRepo, customerRepo, subRepo, pkgRepo, subService, cacheRepo, deps.Config.Usage)

	locker := redsync.New(goredis.NewPool(deps.RedisClient))
	scheduler := service.NewLifecycleScheduler(subRepo, pkgRepo, accountingRepo, subService, paymentService, notifier, cacheRepo, locker, deps.Config.Scheduler)

	// Handlers
	customerHandler := handler.NewCustomerHandler(customerRepo, dispatcher)
	packageHandler := handler.NewPackageHandler(pkgRepo, aaa)
	subscriptionHandler := handler.NewSubscriptionHandler(subService, usageService, subRepo)
	paymentHandler := handler.NewPaymentHandler(paymentService, paymentRepo)
	webhookHandler := handler.NewWebhookHandler(paymentService, deps.Config.IPaymu.APIKey)
	accountingHandler := handler.NewAccountingHandler(usageService, deps.Config.Server.NasSecret)
	schedulerHandler := handler.NewSchedulerHandler(scheduler)

	app := fiber.New(fiber.Config{
		AppName:      "PrepaidNet Subscription API",
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(telemetry.FiberMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID, X-NAS-Secret",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(middleware.IdempotencyMiddleware(deps.RedisClient, 10*time.Minute))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "prepaidnet",
		})
	})

	api := app.Group("/api")

	// Public callbacks: gateway webhook and NAS accounting. The webhook is
	// HMAC-verified, accounting carries the shared NAS secret. The webhook
	// mounts on the same constant the provider registers as the notify URL.
	app.Post(ipaymu.WebhookPath, webhookHandler.IPAYMUWebhook)
	api.Post("/accounting", accountingHandler.Ingest)

	// Operator API
	ops := api.Group("")
	ops.Use(middleware.VerifyOperatorToken(deps.Config.JWT.Secret))
	ops.Use(middleware.AuthorizeRole(domain.RoleOperator, domain.RoleAdmin))

	customers := ops.Group("/customers")
	customers.Post("/", customerHandler.Create)
	customers.Get("/:id", customerHandler.Get)
	customers.Put("/:id", customerHandler.Update)
	customers.Get("/:id/subscriptions", subscriptionHandler.ListByCustomer)
	customers.Get("/:id/payments", paymentHandler.ListCustomerPayments)

	packages := ops.Group("/packages")
	packages.Get("/", packageHandler.List)
	packages.Get("/:id", packageHandler.Get)

	subscriptions := ops.Group("/subscriptions")
	subscriptions.Post("/trial", subscriptionHandler.AssignTrial)
	subscriptions.Get("/:id", subscriptionHandler.Get)
	subscriptions.Post("/:id/activate", subscriptionHandler.Activate)
	subscriptions.Post("/:id/suspend", subscriptionHandler.Suspend)
	subscriptions.Post("/:id/resume", subscriptionHandler.Resume)
	subscriptions.Post("/:id/cancel", subscriptionHandler.Cancel)
	subscriptions.Post("/:id/renew", subscriptionHandler.Renew)
	subscriptions.Post("/:id/resync", subscriptionHandler.Resync)
	subscriptions.Get("/:id/usage", subscriptionHandler.Usage)
	subscriptions.Get("/:id/usage/daily", subscriptionHandler.DailyUsage)

	payments := ops.Group("/payments")
	payments.Post("/checkout", paymentHandler.Checkout)
	payments.Get("/:id", paymentHandler.GetPayment)

	// Admin-only: destructive and money-moving operations
	admin := api.Group("")
	admin.Use(middleware.VerifyOperatorToken(deps.Config.JWT.Secret))
	admin.Use(middleware.AuthorizeRole(domain.RoleAdmin))

	admin.Delete("/customers/:id", customerHandler.Delete)
	admin.Post("/packages", packageHandler.Create)
	admin.Put("/packages/:id", packageHandler.Update)
	admin.Delete("/packages/:id", packageHandler.Delete)
	admin.Post("/subscriptions/:id/block", subscriptionHandler.Block)
	admin.Post("/payments/:id/refund", paymentHandler.RefundFull)
	admin.Post("/payments/:id/refund/partial", paymentHandler.RefundPartial)

	adminScheduler := admin.Group("/scheduler")
	adminScheduler.Get("/runs/last", schedulerHandler.LastRun)
	adminScheduler.Get("/sweeps/:name", schedulerHandler.SweepSummary)
	adminScheduler.Post("/runs", schedulerHandler.TriggerRun)

	return &App{Fiber: app, Scheduler: scheduler}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("Error: %v", err)
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
