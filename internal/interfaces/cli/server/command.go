// Package server boots the control plane: database, caches, background
// jobs, and the HTTP API.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/application/links"
	"github.com/moguard-inc/moguard/internal/application/reached"
	"github.com/moguard-inc/moguard/internal/application/reseller"
	"github.com/moguard-inc/moguard/internal/application/system"
	"github.com/moguard-inc/moguard/internal/application/tracker"
	"github.com/moguard-inc/moguard/internal/application/usage"
	"github.com/moguard-inc/moguard/internal/infrastructure/auth"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/infrastructure/config"
	"github.com/moguard-inc/moguard/internal/infrastructure/database"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/infrastructure/repository"
	"github.com/moguard-inc/moguard/internal/infrastructure/scheduler"
	"github.com/moguard-inc/moguard/internal/interfaces/http/handlers"
	"github.com/moguard-inc/moguard/internal/interfaces/http/middleware"
	"github.com/moguard-inc/moguard/internal/interfaces/http/routes"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// startupConfigAttempts is how many times the boot sequence retries the
// initial config fetch before the scheduler takes over.
const startupConfigAttempts = 5

var env string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the control plane",
		Long:  `Start the HTTP API and the node reconciliation loops.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.NewLogger()

	log.Infow("starting", "environment", env)

	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {}

	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	defer database.Close()

	db := database.Get()
	adminRepo := repository.NewAdminRepository(db, log)
	nodeRepo := repository.NewNodeRepository(db, log)
	serviceRepo := repository.NewServiceRepository(db, log)
	subRepo := repository.NewSubscriptionRepository(db, log)

	adminCache := cache.NewAdminCache()
	configCache := cache.NewConfigCache()
	linksCache := cache.NewLinksCache()

	notifier := notification.NewService(cfg.Notification, log)
	guardManager := guard.NewManager(nodeRepo, configCache, linksCache, log)
	generator := links.NewGenerator(linksCache, log)

	configsJob := guard.NewConfigsJob(guardManager, log)
	linksJob := guard.NewLinksJob(guardManager, log)
	accessJob := guard.NewAccessJob(guardManager, log)
	reconciler := tracker.NewReconciler(subRepo, adminRepo, nodeRepo, guardManager, notifier, log)
	usageJob := usage.NewJob(subRepo, adminRepo, cfg.Reporting, log)
	reachedJob := reached.NewJob(subRepo, nodeRepo, guardManager, notifier, log)
	resellerJob := reseller.NewJob(adminRepo, subRepo, adminCache, notifier, log)
	ramJob := system.NewRAMCheckJob(notifier, log)

	// Warm the config cache before the first reconcile tick; nodes with
	// no cached configs are treated as unavailable.
	warmConfigs(configsJob, log)

	sched, err := scheduler.NewSchedulerManager(log)
	if err != nil {
		log.Fatalw("failed to create scheduler", "error", err)
	}
	for name, register := range map[string]func() error{
		"guard":      func() error { return sched.RegisterGuardJobs(configsJob, linksJob, accessJob) },
		"reconciler": func() error { return sched.RegisterReconcilerJob(reconciler) },
		"accounting": func() error { return sched.RegisterAccountingJobs(usageJob, reachedJob, resellerJob) },
		"system":     func() error { return sched.RegisterSystemJobs(ramJob) },
	} {
		if err := register(); err != nil {
			log.Fatalw("failed to register jobs", "group", name, "error", err)
		}
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Errorw("failed to stop scheduler", "error", err)
		}
	}()

	jwtService := auth.NewJWTService(cfg.Auth.JWT.Secret, cfg.Auth.JWT.AccessExpHours)
	hasher := auth.NewBcryptPasswordHasher(cfg.Auth.Password.BcryptCost)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, adminRepo, adminCache, log)

	engine := routes.Setup(&cfg.Server, authMiddleware, &routes.Handlers{
		Auth:          handlers.NewAuthHandler(adminRepo, adminCache, jwtService, hasher, notifier, log),
		Admins:        handlers.NewAdminHandler(adminRepo, adminCache, hasher, log),
		Nodes:         handlers.NewNodeHandler(nodeRepo, guardManager, log),
		Services:      handlers.NewServiceHandler(serviceRepo, log),
		Subscriptions: handlers.NewSubscriptionHandler(subRepo, guardManager, notifier, log),
		Client:        handlers.NewClientHandler(subRepo, generator, guardManager, notifier, log),
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "address", cfg.Server.GetAddr(), "mode", cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("failed to start server", "error", err)
		}
	}()

	notifier.Startup()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
		return err
	}

	log.Infow("server exited gracefully")
	return nil
}

func warmConfigs(job *guard.ConfigsJob, log logger.Interface) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for attempt := 1; attempt <= startupConfigAttempts; attempt++ {
		n, err := job.Execute(ctx)
		if err == nil {
			log.Infow("config cache warmed", "nodes", n)
			return
		}
		log.Warnw("startup config fetch failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}
