package main

import (
	"context"
	"time"

	"bothost/internal/jobs"
	"bothost/internal/service"
	"bothost/pkg/backup"
	"bothost/pkg/constants"
	"bothost/pkg/lock"
	"bothost/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const jobLockTTL = 2 * time.Minute

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)

	// If Redis is unavailable, locks downgrade to single-instance mode
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}
	newLock := func(name string) lock.DistributedLock {
		return lock.NewRedisDistributedLock(redisClient, "bothost:job:"+name, jobLockTTL)
	}

	m := app.config.Maintenance
	manager.Register(newSelfHealJob(seconds(m.SelfHealInterval), app.maintenanceService, newLock("self-heal")))
	manager.Register(newCleanupJob(seconds(m.CleanupInterval), app.maintenanceService, newLock("cleanup")))
	manager.Register(newNodeReconcileJob(seconds(m.NodeReconcileInterval), app.maintenanceService, newLock("node-reconcile")))

	if app.snapshotter != nil {
		manager.Register(newBackupJob(seconds(app.config.Backup.Interval), app.snapshotter, app.eventService, newLock("backup")))
	} else {
		logger.InfoCtx(app.ctx, "Store snapshots disabled, backup job not registered")
	}

	app.jobsManager = manager
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// selfHealJob redeploys rows that should be running but have no process.
// Its first run waits one interval so it never races the startup recovery.
type selfHealJob struct {
	interval        time.Duration
	maintenance     *service.MaintenanceService
	distributedLock lock.DistributedLock
}

func newSelfHealJob(interval time.Duration, svc *service.MaintenanceService, l lock.DistributedLock) jobs.Job {
	return &selfHealJob{interval: interval, maintenance: svc, distributedLock: l}
}

func (j *selfHealJob) Name() string { return "self-heal" }

func (j *selfHealJob) Interval() time.Duration { return j.interval }

func (j *selfHealJob) SkipFirstRun() bool { return true }

func (j *selfHealJob) Run(ctx context.Context) error {
	ran, err := lock.WithLock(ctx, j.distributedLock, func(ctx context.Context) error {
		_, err := j.maintenance.SelfHeal(ctx)
		return err
	})
	if !ran && err == nil {
		logger.DebugCtx(ctx, "another instance is running self-heal, skipping this cycle")
	}
	return err
}

// cleanupJob prunes old files and expires overdue trials
type cleanupJob struct {
	interval        time.Duration
	maintenance     *service.MaintenanceService
	distributedLock lock.DistributedLock
}

func newCleanupJob(interval time.Duration, svc *service.MaintenanceService, l lock.DistributedLock) jobs.Job {
	return &cleanupJob{interval: interval, maintenance: svc, distributedLock: l}
}

func (j *cleanupJob) Name() string { return "cleanup" }

func (j *cleanupJob) Interval() time.Duration { return j.interval }

func (j *cleanupJob) Run(ctx context.Context) error {
	_, err := lock.WithLock(ctx, j.distributedLock, func(ctx context.Context) error {
		report, err := j.maintenance.Cleanup(ctx)
		if report != nil && (report.FilesRemoved > 0 || report.TrialsExpired > 0) {
			logger.InfoCtx(ctx, "cleanup: files_removed=%d trials_expired=%d", report.FilesRemoved, report.TrialsExpired)
		}
		return err
	})
	return err
}

// nodeReconcileJob rebuilds node loads from the Running rows
type nodeReconcileJob struct {
	interval        time.Duration
	maintenance     *service.MaintenanceService
	distributedLock lock.DistributedLock
}

func newNodeReconcileJob(interval time.Duration, svc *service.MaintenanceService, l lock.DistributedLock) jobs.Job {
	return &nodeReconcileJob{interval: interval, maintenance: svc, distributedLock: l}
}

func (j *nodeReconcileJob) Name() string { return "node-reconcile" }

func (j *nodeReconcileJob) Interval() time.Duration { return j.interval }

func (j *nodeReconcileJob) SkipFirstRun() bool { return true }

func (j *nodeReconcileJob) Run(ctx context.Context) error {
	_, err := lock.WithLock(ctx, j.distributedLock, func(ctx context.Context) error {
		corrected, err := j.maintenance.NodeReconcile(ctx)
		if corrected > 0 {
			logger.WarnCtx(ctx, "node-reconcile corrected %d node loads", corrected)
		}
		return err
	})
	return err
}

// backupJob writes a store snapshot
type backupJob struct {
	interval        time.Duration
	snapshotter     *backup.Snapshotter
	events          eventEmitter
	distributedLock lock.DistributedLock
}

type eventEmitter interface {
	Emit(kind, details string, userID *int64)
}

func newBackupJob(interval time.Duration, s *backup.Snapshotter, events eventEmitter, l lock.DistributedLock) jobs.Job {
	return &backupJob{interval: interval, snapshotter: s, events: events, distributedLock: l}
}

func (j *backupJob) Name() string { return "backup" }

func (j *backupJob) Interval() time.Duration { return j.interval }

func (j *backupJob) SkipFirstRun() bool { return true }

func (j *backupJob) Run(ctx context.Context) error {
	_, err := lock.WithLock(ctx, j.distributedLock, func(ctx context.Context) error {
		path, err := j.snapshotter.Snapshot(ctx)
		if err != nil {
			return err
		}
		j.events.Emit(constants.EventStoreSnapshot, path, nil)
		logger.InfoCtx(ctx, "store snapshot written to %s", path)
		return nil
	})
	return err
}
