package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nestgold/nestgold/app/controllers"
	"github.com/nestgold/nestgold/app/repository"
	"github.com/nestgold/nestgold/internal/pkg/billing"
	"github.com/nestgold/nestgold/internal/pkg/cache"
	"github.com/nestgold/nestgold/internal/pkg/database"
	"github.com/nestgold/nestgold/internal/pkg/env"
	"github.com/nestgold/nestgold/internal/pkg/jobqueue"
	"github.com/nestgold/nestgold/internal/pkg/notify"
	"github.com/nestgold/nestgold/internal/pkg/receipt"
	"github.com/nestgold/nestgold/internal/pkg/router"
	"github.com/nestgold/nestgold/internal/pkg/s3archive"
	"github.com/nestgold/nestgold/internal/pkg/session"
)

func main() {
	app, shutdown := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[HTTP] server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("[HTTP] shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[HTTP] shutdown: %v", err)
	}
	shutdown()
}

// NewApplication wires storage, background workers and routes. The returned
// func stops the workers.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()

	memory := database.Driver() == database.DriverMemory
	if !memory {
		cache.SetupCache()
	}

	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalFactory().GetRepositories()

	var billingRepo billing.Repository
	if db == nil {
		log.Warn("[Database] DB_DRIVER=memory: data is kept in process memory and lost on restart")
		billingRepo = billing.NewMemoryRepository()
	} else {
		billingRepo = billing.NewRepository(db)
	}
	seedAdminFromEnv(repos.User)

	// Background jobs need Redis; without it notifications are sent inline.
	var manager *jobqueue.Manager
	var notifyOpts []notify.Option
	if !memory {
		manager = jobqueue.GetManager()
		notifyOpts = append(notifyOpts, notify.WithQueue(manager.GetQueue()))
	}

	archiveCfg, err := s3archive.LoadConfig()
	if err != nil {
		log.Fatalf("[S3Archive] %v", err)
	}
	archiveEnabled := archiveCfg.IsEnabled() && manager != nil
	notifyOpts = append(notifyOpts, notify.WithReceiptArchive(archiveEnabled))
	notifier := notify.NewNotifierFromEnv(notifyOpts...)

	billingCfg := billing.ConfigFromEnv()
	opts := []billing.Option{billing.WithNotifier(notifier)}
	if daraja := billing.NewDarajaClientFromEnv(); daraja.Configured() {
		opts = append(opts, billing.WithInitiator(daraja))
	} else if billingCfg.Mode == billing.PaymentModeSTK {
		log.Warn("[Billing] PAYMENT_MODE=stk but M-Pesa credentials are missing; signups will fail until configured")
	}
	svc := billing.NewService(billingRepo, billingCfg, opts...)
	log.Infof("[Billing] payment mode: %s", svc.Mode())

	var queueStats controllers.QueueStats
	if manager != nil {
		processors := jobqueue.Processors{SMS: notifier}
		if archiveEnabled {
			s3Client, err := s3archive.NewClient(context.Background(), archiveCfg)
			if err != nil {
				log.Errorf("[S3Archive] receipt archive disabled: %v", err)
			} else {
				processors.Receipts = receipt.NewArchiver(svc, s3Client)
			}
		}
		queue := manager.GetQueue()
		queue.Configure(processors)
		queueStats = queue
		manager.SetStatusSyncer(svc)
		manager.Start()
		// catch up on periods that lapsed while the service was down
		go manager.RunStatusSweepOnce()
	}

	session.NewSessionStore()

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "NestGold",
		BodyLimit: 1 << 20,
	})

	// recovery, request ids and logging
	app.Use(recover.New(), requestid.New(), logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     env.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),
		AllowCredentials: true,
	}))

	// fiber and prometheus metrics
	if !mountMetrics(app, env.GetEnv("METRICS_USER", "admin"), env.GetEnv("METRICS_PASSWORD", "")) {
		log.Warn("[HTTP] METRICS_PASSWORD not set, /metrics is disabled")
	}

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: findFile("public/docs/v1/openapi.yml"),
		Path:     "v1",
		Title:    "NestGold API",
	}))

	// ROUTER
	deps := router.Dependencies{
		Billing:        svc,
		Users:          repos.User,
		QueueStats:     queueStats,
		CallbackToken:  env.GetEnv("MPESA_CALLBACK_TOKEN", ""),
		CallbackSecret: env.GetEnv("MPESA_CALLBACK_SECRET", ""),
	}
	if !memory {
		deps.Queue = repos.Queue
		deps.LoginLimiter = controllers.NewCacheLoginLimiter(
			env.GetEnvInt("LOGIN_MAX_ATTEMPTS", 5),
			env.GetEnvDuration("LOGIN_LOCKOUT", 15*time.Minute),
		)
	}
	router.InstallRouter(app, deps)

	shutdown := func() {
		if manager != nil {
			manager.Stop()
		}
	}
	return app, shutdown
}

// seedAdminFromEnv keeps the ADMIN_USERNAME account in sync at boot, which
// is the only way to get an admin with the memory driver.
func seedAdminFromEnv(users repository.UserRepository) {
	username := env.GetEnv("ADMIN_USERNAME", "")
	password := env.GetEnv("ADMIN_PASSWORD", "")
	if username == "" || password == "" {
		return
	}
	created, err := repository.EnsureAdmin(users, username, password)
	if err != nil {
		log.Errorf("[Database] failed to seed admin %q: %v", username, err)
		return
	}
	if created {
		log.Infof("[Database] admin %q created", username)
	}
}

// findFile resolves a repo-relative path from the working directory or from
// cmd/nestgold.
func findFile(rel string) string {
	for _, base := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(base + rel); err == nil {
			return base + rel
		}
	}
	return rel
}

// mountMetrics serves the fiber monitor and the prometheus registry behind
// basic auth. Without a password nothing is mounted.
func mountMetrics(app *fiber.App, user, password string) bool {
	if password == "" {
		return false
	}
	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{user: password},
	})
	app.Get("/metrics", auth, monitor.New(monitor.Config{Title: "NestGold Metrics"}))
	app.Get("/metrics/prometheus", auth, adaptor.HTTPHandler(promhttp.Handler()))
	return true
}
