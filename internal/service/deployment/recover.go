package deployment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/process"

	"golang.org/x/sync/errgroup"
)

// RecoveryReport summarizes a cold-start sweep
type RecoveryReport struct {
	Attempted      int   `json:"attempted"`
	Recovered      int   `json:"recovered"`
	Adopted        int   `json:"adopted"`
	Failed         int   `json:"failed"`
	LoadsCorrected int64 `json:"loads_corrected"`
}

// Recover reconciles persisted state with the process table. It must run
// before new deploy requests are accepted. Every Running or Restarting
// deployment gets one deploy attempt; failures end Stopped.
func (s *Service) Recover(ctx context.Context) (*RecoveryReport, error) {
	report := &RecoveryReport{}

	corrected, err := s.store.Node.RecomputeLoads(ctx)
	if err != nil {
		return nil, err
	}
	report.LoadsCorrected = corrected
	if corrected > 0 {
		logger.WarnCtx(ctx, "recovery: corrected load on %d node(s)", corrected)
	}

	rows, err := s.store.Deployment.ListByStatus(ctx,
		constants.DeploymentStatusRunning,
		constants.DeploymentStatusRestarting,
	)
	if err != nil {
		return nil, err
	}
	report.Attempted = len(rows)

	var recovered, adopted, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for _, row := range rows {
		id := row.ID
		g.Go(func() error {
			dctx := logger.WithDeployment(gctx, id)
			_, err := s.Deploy(dctx, id)
			switch {
			case err == nil:
				recovered.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				adopted.Add(1)
			default:
				failed.Add(1)
				logger.WarnCtx(dctx, "recovery: redeploy failed: %v", err)
				s.resolveFailed(dctx, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Recovered = int(recovered.Load())
	report.Adopted = int(adopted.Load())
	report.Failed = int(failed.Load())

	logger.InfoCtx(ctx, "recovery: attempted=%d recovered=%d adopted=%d failed=%d",
		report.Attempted, report.Recovered, report.Adopted, report.Failed)
	s.events.Emit(constants.EventRecovery, fmt.Sprintf("attempted=%d recovered=%d adopted=%d failed=%d",
		report.Attempted, report.Recovered, report.Adopted, report.Failed), nil)
	return report, nil
}

// resolveFailed leaves a deployment that could not be recovered Stopped,
// releasing its stale placement
func (s *Service) resolveFailed(ctx context.Context, id int64) {
	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil || d == nil {
		return
	}
	running := d.IsRunning()
	if !running && d.Status != constants.DeploymentStatusRestarting.String() {
		return
	}
	if running && process.Alive(d.PID) {
		return
	}

	err = s.store.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.store.Deployment.UpdateFields(ctx, id, map[string]interface{}{
			"status":  constants.DeploymentStatusStopped.String(),
			"pid":     0,
			"node_id": nil,
		}); err != nil {
			return err
		}
		if running && d.NodeID != nil {
			return s.store.Node.DecrementLoad(ctx, *d.NodeID)
		}
		return nil
	})
	if err != nil {
		logger.ErrorCtx(ctx, "recovery: failed to mark stopped: %v", err)
	}
}
