package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"bothost/app/handler"
	"bothost/app/router"
	"bothost/internal/service"
	"bothost/internal/service/deployment"
	"bothost/pkg/backup"
	"bothost/pkg/config"
	"bothost/pkg/logger"
	"bothost/pkg/notification"
	"bothost/pkg/store/sqlstore"
	redisstore "bothost/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

const (
	eventQueueSize       = 4096
	notifyTimeout        = 10 * time.Second
	closeTimeout         = 10 * time.Second
	httpReadHeaderTimeout = 10 * time.Second
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initDirectories creates the working directories
func (app *Application) initDirectories() error {
	p := app.config.Paths
	for _, dir := range []string{p.Projects, p.Logs, p.Backups, p.Exports, p.ScriptBackups, p.Scratch} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// initStore opens the store and seeds the node registry
func (app *Application) initStore() error {
	st, err := sqlstore.New(app.ctx, app.config.Store)
	if err != nil {
		return err
	}
	app.store = st
	app.registerCleanup(func() {
		_ = st.Close()
		logger.InfoCtx(app.ctx, "Store connection has been closed")
	})

	created, err := st.Node.EnsureSeeded(app.ctx, app.config.Nodes)
	if err != nil {
		return err
	}
	if created > 0 {
		logger.InfoCtx(app.ctx, "Seeded %d nodes", created)
	}
	return nil
}

// initRedis connects the optional lock backend
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		logger.InfoCtx(app.ctx, "Redis not configured, background jobs run in single-instance mode")
		return nil
	}

	app.redisClient = client
	app.registerCleanup(func() {
		_ = client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.eventService = service.NewEventService(app.store.Event, eventQueueSize)
	app.eventService.Start()

	notifiers := notification.Multi{notification.NewStoreNotifier(app.store.Notification)}
	if app.config.Notification.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(app.config.Notification.WebhookURL))
	}
	app.dispatcher = notification.NewDispatcher(notifiers, notifyTimeout)

	app.analyticsService = service.NewAnalyticsService(app.store)

	app.deploymentService = deployment.NewService(
		app.store,
		app.eventService,
		app.dispatcher,
		app.analyticsService,
		deployment.OptionsFromConfig(app.config),
	)

	app.maintenanceService = service.NewMaintenanceService(
		app.store,
		app.deploymentService,
		app.eventService,
		app.dispatcher,
		service.RetentionRules(app.config.Paths, app.config.Maintenance),
	)

	if app.config.Backup.Enabled {
		var mirror backup.Mirror
		if m := backup.NewS3Mirror(app.config.Backup.S3); m != nil {
			mirror = m
			logger.InfoCtx(app.ctx, "Snapshots are mirrored to s3://%s", app.config.Backup.S3.Bucket)
		}
		app.snapshotter = backup.NewSnapshotter(app.store.Exporter, app.config.Paths.Backups, app.config.Backup.Keep, mirror)
	}

	// Cleanups run in reverse: monitors stop first, then notifications drain, then events flush
	app.registerCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := app.eventService.Close(ctx); err != nil {
			logger.WarnCtx(app.ctx, "Event service close: %v", err)
		}
	})
	app.registerCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := app.dispatcher.Wait(ctx); err != nil {
			logger.WarnCtx(app.ctx, "Pending notifications dropped: %v", err)
		}
	})
	app.registerCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := app.deploymentService.Close(ctx); err != nil {
			logger.WarnCtx(app.ctx, "Deployment service close: %v", err)
		}
		logger.InfoCtx(app.ctx, "Deployment monitors stopped, bot processes left running")
	})
	return nil
}

// initRecovery reconciles the store with the processes that survived
func (app *Application) initRecovery() error {
	report, err := app.deploymentService.Recover(app.ctx)
	if err != nil {
		return err
	}
	logger.InfoCtx(app.ctx, "Recovery: attempted=%d recovered=%d adopted=%d failed=%d loads_corrected=%d",
		report.Attempted, report.Recovered, report.Adopted, report.Failed, report.LoadsCorrected)
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.deploymentHandler = handler.NewDeploymentHandler(app.deploymentService, app.store)
	app.nodeHandler = handler.NewNodeHandler(app.store)
	app.logHandler = handler.NewLogHandler(app.deploymentService)
	app.systemHandler = handler.NewSystemHandler(app.store, app.snapshotter, app.maintenanceService, app.eventService)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()

	r := router.NewRouter(
		app.config.Server.APIKey,
		app.deploymentHandler,
		app.nodeHandler,
		app.logHandler,
		app.systemHandler,
	)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}
	return nil
}
