package deployment

import (
	"context"
	"time"

	"bothost/pkg/constants"
	"bothost/pkg/logger"
	"bothost/pkg/process"
)

// RepairReport counts what one repair sweep did
type RepairReport struct {
	Adopted int `json:"adopted"`
	Crashed int `json:"crashed"`
	Resumed int `json:"resumed"`
	Stopped int `json:"stopped"`
}

// Total is the number of deployments the sweep acted on
func (r *RepairReport) Total() int {
	return r.Adopted + r.Crashed + r.Resumed + r.Stopped
}

// RepairOrphans hands every Running or Restarting deployment that has no
// monitor and no crash handling in flight back to the supervisor. Such rows
// are left behind when a crash, restart or stop could not be recorded.
// A live process is adopted, a dead one goes through the crash policy, an
// interrupted stop is finished and a Restarting row gets its restart.
func (s *Service) RepairOrphans(ctx context.Context) (*RepairReport, error) {
	rows, err := s.store.Deployment.ListByStatus(ctx,
		constants.DeploymentStatusRunning,
		constants.DeploymentStatusRestarting,
	)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{}
	for _, row := range rows {
		if s.ctx.Err() != nil || ctx.Err() != nil {
			break
		}
		s.repair(logger.WithDeployment(ctx, row.ID), row.ID, report)
	}

	if report.Total() > 0 {
		logger.WarnCtx(ctx, "repair: adopted=%d crashed=%d resumed=%d stopped=%d",
			report.Adopted, report.Crashed, report.Resumed, report.Stopped)
	}
	return report, nil
}

func (s *Service) repair(ctx context.Context, id int64, report *RepairReport) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if s.monitors.get(id) != nil || s.pending.has(id) {
		return
	}
	d, err := s.store.Deployment.Get(ctx, id)
	if err != nil {
		logger.WarnCtx(ctx, "repair: failed to read deployment: %v", err)
		return
	}
	if d == nil {
		return
	}

	switch {
	case d.IsRunning() && process.Alive(d.PID):
		s.adopt(ctx, d)
		report.Adopted++

	case d.IsRunning() && s.stopping.has(id):
		if err := s.markStopped(ctx, d); err != nil {
			logger.WarnCtx(ctx, "repair: failed to record stop: %v", err)
			return
		}
		s.stopping.remove(id)
		s.stopped(ctx, d, "finished interrupted stop")
		report.Stopped++

	case d.IsRunning():
		started := time.Now()
		if d.StartTime != nil {
			started = *d.StartTime
		}
		pid := d.PID
		report.Crashed++
		s.background(id, func(ctx context.Context) {
			s.handleCrash(ctx, id, pid, started)
		})

	case d.Status == constants.DeploymentStatusRestarting.String() && !d.AutoRestart:
		if err := s.markStopped(ctx, d); err != nil {
			logger.WarnCtx(ctx, "repair: failed to abandon restart: %v", err)
			return
		}
		report.Stopped++

	case d.Status == constants.DeploymentStatusRestarting.String():
		userID, botName := d.UserID, d.BotName
		report.Resumed++
		s.background(id, func(ctx context.Context) {
			s.restart(ctx, id, userID, botName)
		})
	}
}

// background runs fn outside the id's lock as the id's pending crash work.
// Must be called under the id's lock.
func (s *Service) background(id int64, fn func(ctx context.Context)) {
	s.pending.add(id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.pending.remove(id)
		fn(logger.WithDeployment(s.ctx, id))
	}()
}
