package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bothost/internal/service/deployment"
	"bothost/pkg/config"
	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/retention"
	"bothost/pkg/store/sqlstore"
	"bothost/pkg/store/sqlstore/model"
)

// Supervisor is the part of the deployment service the maintenance loops drive
type Supervisor interface {
	Deploy(ctx context.Context, id int64) (*deployment.DeployResult, error)
	RepairOrphans(ctx context.Context) (*deployment.RepairReport, error)
	ArtifactPath(d *model.Deployment) string
	ActiveLogPaths() map[string]bool
}

// SelfHealReport summarizes one self-heal pass
type SelfHealReport struct {
	Repaired   int `json:"repaired"`
	Candidates int `json:"candidates"`
	Healed     int `json:"healed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// CleanupReport summarizes one cleanup pass
type CleanupReport struct {
	FilesRemoved  int   `json:"files_removed"`
	TrialsExpired int64 `json:"trials_expired"`
}

// MaintenanceService implements the periodic self-heal, cleanup and node
// reconcile passes
type MaintenanceService struct {
	store      *sqlstore.Store
	supervisor Supervisor
	events     deployment.EventSink
	notifier   deployment.UserNotifier
	rules      []retention.Rule
	now        func() time.Time
}

// NewMaintenanceService creates the maintenance service
func NewMaintenanceService(store *sqlstore.Store, supervisor Supervisor, events deployment.EventSink, notifier deployment.UserNotifier, rules []retention.Rule) *MaintenanceService {
	return &MaintenanceService{
		store:      store,
		supervisor: supervisor,
		events:     events,
		notifier:   notifier,
		rules:      rules,
		now:        time.Now,
	}
}

// RetentionRules builds the cleanup rules from the configured paths and windows
func RetentionRules(paths config.PathsConfig, m config.MaintenanceConfig) []retention.Rule {
	day := 24 * time.Hour
	return []retention.Rule{
		{Name: "logs", Dir: paths.Logs, Pattern: "*.log", MaxAge: time.Duration(m.LogRetentionDays) * day},
		{Name: "exports", Dir: paths.Exports, Pattern: "*.zip", MaxAge: time.Duration(m.ExportRetentionDays) * day},
		{Name: "script_backups", Dir: paths.ScriptBackups, Pattern: "bot_*", MaxAge: time.Duration(m.ScriptBackupDays) * day},
	}
}

// SelfHeal first hands unsupervised Running and Restarting deployments back
// to the supervisor, then redeploys auto-restart deployments that are down
// outside of a pending crash restart. Candidates whose artifact is gone are
// skipped.
func (s *MaintenanceService) SelfHeal(ctx context.Context) (*SelfHealReport, error) {
	report := &SelfHealReport{}
	repaired, err := s.supervisor.RepairOrphans(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "self-heal: repair sweep failed: %v", err)
	} else {
		report.Repaired = repaired.Total()
	}

	candidates, err := s.store.Deployment.ListSelfHealCandidates(ctx)
	if err != nil {
		return nil, err
	}
	report.Candidates = len(candidates)

	for i := range candidates {
		d := &candidates[i]
		dctx := logger.WithDeployment(ctx, d.ID)

		if info, err := os.Stat(s.supervisor.ArtifactPath(d)); err != nil || info.IsDir() {
			report.Skipped++
			continue
		}

		res, err := s.supervisor.Deploy(dctx, d.ID)
		switch {
		case err == nil:
			report.Healed++
			logger.InfoCtx(dctx, "self-heal: redeployed pid=%d node=%s", res.PID, res.NodeName)
			s.events.EmitDeployment(d.ID, constants.DeploymentLogSelfHealed, fmt.Sprintf("redeployed on %s with pid %d", res.NodeName, res.PID))
			s.notifier.Notify(d.UserID, fmt.Sprintf("Your bot %s was auto-recovered.", d.BotName))
		case errors.Is(err, deployment.ErrAlreadyRunning):
			report.Skipped++
		default:
			report.Failed++
			logger.WarnCtx(dctx, "self-heal: redeploy failed: %v", err)
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	if report.Candidates > 0 || report.Repaired > 0 {
		logger.InfoCtx(ctx, "self-heal: repaired=%d candidates=%d healed=%d skipped=%d failed=%d",
			report.Repaired, report.Candidates, report.Healed, report.Skipped, report.Failed)
	}
	return report, nil
}

// Cleanup removes aged logs, exports and script backups, then expires
// overdue trial grants. Logs of live processes are never removed.
func (s *MaintenanceService) Cleanup(ctx context.Context) (*CleanupReport, error) {
	now := s.now()
	report := &CleanupReport{}

	skip := s.supervisor.ActiveLogPaths()
	results, sweepErr := retention.Sweep(s.rules, now, skip)
	for _, r := range results {
		report.FilesRemoved += r.Removed
		if r.Removed > 0 {
			logger.InfoCtx(ctx, "cleanup: removed %d file(s) from %s", r.Removed, r.Rule)
		}
	}
	if sweepErr != nil {
		logger.WarnCtx(ctx, "cleanup: %v", sweepErr)
	}

	expired, err := s.store.Trial.ExpireOverdue(ctx, now)
	if err != nil {
		return report, errors.Join(sweepErr, err)
	}
	report.TrialsExpired = expired
	if expired > 0 {
		s.events.Emit(constants.EventTrialExpired, fmt.Sprintf("%d trial grant(s) expired", expired), nil)
	}
	return report, sweepErr
}

// NodeReconcile rebuilds node loads from the Running rows
func (s *MaintenanceService) NodeReconcile(ctx context.Context) (int64, error) {
	corrected, err := s.store.Node.RecomputeLoads(ctx)
	if err != nil {
		return 0, err
	}
	if corrected > 0 {
		logger.WarnCtx(ctx, "node reconcile: corrected load on %d node(s)", corrected)
	}
	return corrected, nil
}

