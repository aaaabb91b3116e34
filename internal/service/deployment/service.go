package deployment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/metrics"
	"bothost/pkg/placement"
	"bothost/pkg/process"
	"bothost/pkg/store/sqlstore"
	"bothost/pkg/store/sqlstore/model"
)

// EventSink receives fire-and-forget audit events
type EventSink interface {
	Emit(kind, details string, userID *int64)
	EmitDeployment(deploymentID int64, logType, message string)
}

// UserNotifier delivers best-effort user notifications
type UserNotifier interface {
	Notify(userID int64, message string)
}

// AnalyticsRoller folds usage into the daily aggregate
type AnalyticsRoller interface {
	RollUp(ctx context.Context, deploymentID int64) error
}

// DeployResult describes a successful placement
type DeployResult struct {
	DeploymentID int64  `json:"deployment_id"`
	PID          int    `json:"pid"`
	NodeID       int64  `json:"node_id"`
	NodeName     string `json:"node_name"`
}

// Service supervises deployment processes
type Service struct {
	store     *sqlstore.Store
	registry  *placement.Registry
	events    EventSink
	notifier  UserNotifier
	analytics AnalyticsRoller
	opts      Options

	locks    *keyedMutex
	monitors *monitorRegistry
	backoff  *backoffTracker
	// ids with crash handling or a restart in flight
	pending  *idSet
	// ids signalled by Stop whose Stopped state is not recorded yet
	stopping *idSet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the supervisor. analytics may be nil.
func NewService(store *sqlstore.Store, events EventSink, notifier UserNotifier, analytics AnalyticsRoller, opts Options) *Service {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     store,
		registry:  placement.NewRegistry(store.Node, placement.Options{EnforceCapacity: opts.EnforceCapacity}),
		events:    events,
		notifier:  notifier,
		analytics: analytics,
		opts:      opts,
		locks:     newKeyedMutex(),
		monitors:  newMonitorRegistry(),
		backoff:   newBackoffTracker(opts.Backoff, opts.BackoffMax, opts.HealthyAfter),
		pending:   newIDSet(),
		stopping:  newIDSet(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close stops every monitor and pending restart. Bot processes keep running
// and are adopted by the next recovery sweep.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitors still running: %w", ctx.Err())
	}
}

// Deploy starts the deployment's process and places it on a node
func (s *Service) Deploy(ctx context.Context, id int64) (*DeployResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.deployLocked(ctx, id)
}

// deployLocked must run under the id's lock
func (s *Service) deployLocked(ctx context.Context, id int64) (*DeployResult, error) {
	ctx = logger.WithDeployment(ctx, id)

	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil {
		metrics.DeployTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}

	if d.IsRunning() && process.Alive(d.PID) {
		if s.monitors.get(id) == nil {
			s.adopt(ctx, d)
		}
		metrics.DeployTotal.WithLabelValues("already_running").Inc()
		return nil, ErrAlreadyRunning
	}

	// a previous process died before its monitor noticed
	if stale := s.monitors.take(id); stale != nil {
		stale.cancel()
	}
	if d.IsRunning() {
		// release the dead placement first so no later failure leaves it Running
		if err := s.markStopped(context.WithoutCancel(ctx), d); err != nil {
			metrics.DeployTotal.WithLabelValues("store_error").Inc()
			return nil, fmt.Errorf("failed to release dead process: %w", err)
		}
		s.stopping.remove(id)
		logger.InfoCtx(ctx, "released dead pid=%d", d.PID)
		d.Status = constants.DeploymentStatusStopped.String()
		d.PID = 0
		d.NodeID = nil
	}

	node, err := s.registry.Select(ctx)
	if err != nil {
		metrics.DeployTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}
	if node == nil {
		s.deployFailed(ctx, d, ErrNoAvailableNode)
		return nil, ErrNoAvailableNode
	}

	artifact := s.ArtifactPath(d)
	if info, err := os.Stat(artifact); err != nil || info.IsDir() {
		s.deployFailed(ctx, d, ErrArtifactMissing)
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, d.Filename)
	}

	now := time.Now()
	h, err := process.Spawn(process.Spec{
		Artifact:     artifact,
		LogPath:      s.LogPath(id),
		Interpreters: s.opts.Interpreters,
		Marker:       process.StartMarker(now),
	})
	if err != nil {
		s.deployFailed(ctx, d, err)
		return nil, fmt.Errorf("failed to spawn: %w", err)
	}

	stabilize := time.NewTimer(s.opts.Stabilize)
	defer stabilize.Stop()
	select {
	case <-h.Exited():
		err := fmt.Errorf("%w: %v", ErrImmediateExit, h.ExitErr())
		s.deployFailed(ctx, d, err)
		return nil, err
	case <-ctx.Done():
		_ = process.Terminate(context.Background(), h.Pid, s.opts.StopGrace)
		return nil, ctx.Err()
	case <-stabilize.C:
	}

	// the process is out; record it even if the caller gave up
	err = s.store.ExecTx(context.WithoutCancel(ctx), func(ctx context.Context) error {
		started := time.Now()
		if err := s.store.Deployment.UpdateFields(ctx, id, map[string]interface{}{
			"status":      constants.DeploymentStatusRunning.String(),
			"pid":         h.Pid,
			"node_id":     node.ID,
			"start_time":  started,
			"last_active": started,
		}); err != nil {
			return err
		}
		return s.store.Node.IncrementLoad(ctx, node.ID)
	})
	if err != nil {
		_ = process.Terminate(context.Background(), h.Pid, s.opts.StopGrace)
		s.deployFailed(ctx, d, err)
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}

	m := newMonitor(id, h.Pid, h.Exited(), h.StartedAt)
	s.startMonitor(m)

	metrics.DeployTotal.WithLabelValues("success").Inc()
	logger.InfoCtx(ctx, "deployed pid=%d node=%s", h.Pid, node.Name)
	s.events.Emit(constants.EventDeploy, fmt.Sprintf("deployment %d (%s) started on %s pid=%d", id, d.BotName, node.Name, h.Pid), &d.UserID)
	s.events.EmitDeployment(id, constants.DeploymentLogDeploySuccess, fmt.Sprintf("started on %s with pid %d", node.Name, h.Pid))

	return &DeployResult{DeploymentID: id, PID: h.Pid, NodeID: node.ID, NodeName: node.Name}, nil
}

func (s *Service) deployFailed(ctx context.Context, d *model.Deployment, cause error) {
	result := "spawn_failed"
	switch {
	case errors.Is(cause, ErrNoAvailableNode):
		result = "no_node"
	case errors.Is(cause, ErrArtifactMissing):
		result = "missing_artifact"
	case errors.Is(cause, ErrImmediateExit):
		result = "immediate_exit"
	}
	metrics.DeployTotal.WithLabelValues(result).Inc()
	logger.WarnCtx(ctx, "deploy failed: %v", cause)
	s.events.EmitDeployment(d.ID, constants.DeploymentLogDeployFailed, cause.Error())
}

// adopt watches a live process that has no monitor, e.g. one that outlived
// a supervisor restart. Only polling can detect its exit.
func (s *Service) adopt(ctx context.Context, d *model.Deployment) {
	started := time.Now()
	if d.StartTime != nil {
		started = *d.StartTime
	}
	m := newMonitor(d.ID, d.PID, nil, started)
	if !s.startMonitor(m) {
		return
	}
	logger.InfoCtx(ctx, "adopted running pid=%d", d.PID)
	s.events.EmitDeployment(d.ID, constants.DeploymentLogAdopted, fmt.Sprintf("adopted running pid %d", d.PID))
}

// Stop terminates the deployment's process. Stopping a deployment that is
// not running succeeds without doing anything.
func (s *Service) Stop(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	ctx = logger.WithDeployment(ctx, id)

	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}

	switch d.Status {
	case constants.DeploymentStatusRunning.String():
	case constants.DeploymentStatusRestarting.String():
		// a crash restart is pending; marking it stopped abandons it
		if err := s.markStopped(context.WithoutCancel(ctx), d); err != nil {
			return fmt.Errorf("failed to record stop: %w", err)
		}
		s.stopped(ctx, d, "stopped pending restart")
		return nil
	default:
		return nil
	}

	if m := s.monitors.take(id); m != nil {
		m.cancel()
	}
	s.stopping.add(id)
	if err := process.Terminate(ctx, d.PID, s.opts.StopGrace); err != nil {
		logger.WarnCtx(ctx, "terminate pid=%d: %v", d.PID, err)
	}

	// the signal is out; record the stop even if the caller gave up
	if err := s.markStopped(context.WithoutCancel(ctx), d); err != nil {
		return fmt.Errorf("failed to record stop: %w", err)
	}
	s.stopping.remove(id)
	s.stopped(ctx, d, fmt.Sprintf("stopped pid %d", d.PID))
	return nil
}

// markStopped records d as Stopped and releases the node a Running d held
func (s *Service) markStopped(ctx context.Context, d *model.Deployment) error {
	return s.store.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.store.Deployment.UpdateFields(ctx, d.ID, map[string]interface{}{
			"status":  constants.DeploymentStatusStopped.String(),
			"pid":     0,
			"node_id": nil,
		}); err != nil {
			return err
		}
		if d.IsRunning() && d.NodeID != nil {
			return s.store.Node.DecrementLoad(ctx, *d.NodeID)
		}
		return nil
	})
}

func (s *Service) stopped(ctx context.Context, d *model.Deployment, detail string) {
	s.backoff.reset(d.ID)
	metrics.StopTotal.Inc()
	logger.InfoCtx(ctx, "%s", detail)
	s.events.Emit(constants.EventStop, fmt.Sprintf("deployment %d (%s) stopped", d.ID, d.BotName), &d.UserID)
	s.events.EmitDeployment(d.ID, constants.DeploymentLogStopped, detail)
}

// DeployMessage adapts Deploy for the outer layers
func (s *Service) DeployMessage(ctx context.Context, id int64) (bool, string) {
	res, err := s.Deploy(ctx, id)
	if err != nil {
		return false, ErrorMessage(err)
	}
	return true, fmt.Sprintf("Deployed on %s (pid %d)", res.NodeName, res.PID)
}

// StopMessage adapts Stop for the outer layers
func (s *Service) StopMessage(ctx context.Context, id int64) (bool, string) {
	if err := s.Stop(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, "Deployment not found"
		}
		return false, fmt.Sprintf("Stop failed: %v", err)
	}
	return true, "Deployment stopped"
}

// ErrorMessage renders a supervisor error as a user-facing message
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Deployment not found"
	case errors.Is(err, ErrAlreadyRunning):
		return "Deployment is already running"
	case errors.Is(err, ErrNoAvailableNode):
		return "No available nodes"
	case errors.Is(err, ErrArtifactMissing):
		return "Bot file not found"
	case errors.Is(err, ErrImmediateExit):
		return "Bot crashed immediately after start, check its log"
	default:
		return fmt.Sprintf("Deployment failed: %v", err)
	}
}

// SetAutoRestart changes the crash policy of a deployment
func (s *Service) SetAutoRestart(ctx context.Context, id int64, enabled bool) error {
	found, err := s.store.Deployment.SetAutoRestart(ctx, id, enabled)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// ArtifactPath resolves the deployment's script on disk
func (s *Service) ArtifactPath(d *model.Deployment) string {
	if filepath.IsAbs(d.Filename) {
		return d.Filename
	}
	return filepath.Join(s.opts.ProjectsDir, d.Filename)
}

// LogPath is the append-only stdout/stderr log of a deployment
func (s *Service) LogPath(id int64) string {
	return filepath.Join(s.opts.LogsDir, fmt.Sprintf("bot_%d.log", id))
}

// ActiveLogPaths lists logs currently written by monitored processes
func (s *Service) ActiveLogPaths() map[string]bool {
	paths := make(map[string]bool)
	for _, id := range s.monitors.ids() {
		if abs, err := filepath.Abs(s.LogPath(id)); err == nil {
			paths[abs] = true
		}
	}
	return paths
}

// MonitoredIDs returns the deployments with an active monitor
func (s *Service) MonitoredIDs() []int64 {
	return s.monitors.ids()
}
