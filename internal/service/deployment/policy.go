package deployment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/metrics"
)

// handleCrash applies the crash policy after pid died. A row that is no
// longer Running with that pid means the death was already handled. A
// failed write leaves the row for RepairOrphans.
func (s *Service) handleCrash(ctx context.Context, id int64, pid int, startedAt time.Time) {
	unlock := s.locks.Lock(id)
	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil {
		unlock()
		logger.ErrorCtx(ctx, "crash handling: failed to read deployment: %v", err)
		return
	}
	if d == nil || !d.IsRunning() || d.PID != pid {
		unlock()
		return
	}
	s.pending.add(id)
	defer s.pending.remove(id)

	metrics.CrashTotal.Inc()
	s.events.Emit(constants.EventCrash, fmt.Sprintf("deployment %d (%s) pid=%d died", id, d.BotName, pid), &d.UserID)

	if !d.AutoRestart {
		err := s.markStopped(ctx, d)
		unlock()
		if err != nil {
			logger.ErrorCtx(ctx, "crash handling: failed to mark stopped: %v", err)
			return
		}
		s.events.EmitDeployment(id, constants.DeploymentLogCrashNoRestart, "process died, auto-restart disabled")
		s.notifier.Notify(d.UserID, fmt.Sprintf("Your bot %s has stopped.", d.BotName))
		return
	}

	err = s.store.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.store.Deployment.UpdateFields(ctx, id, map[string]interface{}{
			"status":  constants.DeploymentStatusRestarting.String(),
			"pid":     0,
			"node_id": nil,
		}); err != nil {
			return err
		}
		if err := s.store.Deployment.IncrementRestartCount(ctx, id); err != nil {
			return err
		}
		if d.NodeID != nil {
			return s.store.Node.DecrementLoad(ctx, *d.NodeID)
		}
		return nil
	})
	if err != nil {
		unlock()
		logger.ErrorCtx(ctx, "crash handling: failed to mark restarting: %v", err)
		return
	}
	delay := s.backoff.next(id, time.Since(startedAt))
	unlock()

	s.events.EmitDeployment(id, constants.DeploymentLogAutoRestart, fmt.Sprintf("restarting in %s (attempt %d)", delay, d.RestartCount+1))
	logger.InfoCtx(ctx, "auto-restart in %s", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
		// left Restarting; the next recovery sweep redeploys it
		return
	}

	s.restart(ctx, id, d.UserID, d.BotName)
}

func (s *Service) restart(ctx context.Context, id, userID int64, botName string) {
	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil {
		logger.ErrorCtx(ctx, "auto-restart: failed to read deployment: %v", err)
		return
	}
	// stopped or redeployed while waiting
	if d == nil || d.Status != constants.DeploymentStatusRestarting.String() {
		return
	}

	res, err := s.deployLocked(ctx, id)
	if err != nil {
		metrics.AutoRestartTotal.WithLabelValues("failed").Inc()
		if uerr := s.markStopped(ctx, d); uerr != nil {
			logger.ErrorCtx(ctx, "auto-restart: failed to mark stopped: %v", uerr)
		}
		s.events.EmitDeployment(id, constants.DeploymentLogAutoRestartFailed, err.Error())
		s.notifier.Notify(userID, fmt.Sprintf("Your bot %s crashed and failed to restart: %s", botName, ErrorMessage(err)))
		return
	}

	metrics.AutoRestartTotal.WithLabelValues("success").Inc()
	s.events.EmitDeployment(id, constants.DeploymentLogAutoRestartSuccess, fmt.Sprintf("restarted with pid %d on %s", res.PID, res.NodeName))
	s.notifier.Notify(userID, fmt.Sprintf("Your bot %s crashed and was auto-restarted.", botName))
}

// backoffTracker computes the delay before an auto-restart. With max equal
// to base the delay is fixed. Otherwise it doubles per consecutive crash up
// to max; a run that lasted healthyAfter resets the streak.
type backoffTracker struct {
	base, max, healthyAfter time.Duration

	mu      sync.Mutex
	streaks map[int64]int
}

func newBackoffTracker(base, max, healthyAfter time.Duration) *backoffTracker {
	if max < base {
		max = base
	}
	return &backoffTracker{base: base, max: max, healthyAfter: healthyAfter, streaks: make(map[int64]int)}
}

func (b *backoffTracker) next(id int64, uptime time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if uptime >= b.healthyAfter {
		b.streaks[id] = 0
	}
	n := b.streaks[id]
	b.streaks[id] = n + 1

	delay := b.base
	for i := 0; i < n && delay < b.max; i++ {
		delay *= 2
	}
	if delay > b.max {
		delay = b.max
	}
	return delay
}

func (b *backoffTracker) reset(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streaks, id)
}
