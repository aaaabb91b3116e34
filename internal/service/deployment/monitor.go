package deployment

import (
	"context"
	"time"

	"bothost/pkg/logger"
	"bothost/pkg/process"
)

// monitor watches one deployment process. exited is nil for adopted
// processes, which are detected by polling only.
type monitor struct {
	id        int64
	pid       int
	exited    <-chan struct{}
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newMonitor(id int64, pid int, exited <-chan struct{}, startedAt time.Time) *monitor {
	return &monitor{id: id, pid: pid, exited: exited, startedAt: startedAt}
}

// startMonitor registers m and runs it; false if a monitor already exists
func (s *Service) startMonitor(m *monitor) bool {
	m.ctx, m.cancel = context.WithCancel(s.ctx)
	if !s.monitors.register(m) {
		m.cancel()
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(m)
	}()
	return true
}

func (s *Service) watch(m *monitor) {
	ctx := logger.WithDeployment(m.ctx, m.id)
	defer m.cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "monitor panic: %v", r)
			s.monitors.remove(m)
		}
	}()

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	sample := time.NewTicker(s.opts.SampleInterval)
	defer sample.Stop()
	rollUp := time.NewTicker(s.opts.RollUpInterval)
	defer rollUp.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.exited:
			s.onDeath(ctx, m)
			return
		case <-poll.C:
			if !process.Alive(m.pid) {
				s.onDeath(ctx, m)
				return
			}
		case <-sample.C:
			s.sampleUsage(ctx, m)
		case <-rollUp.C:
			if s.analytics == nil {
				continue
			}
			if err := s.analytics.RollUp(ctx, m.id); err != nil {
				logger.WarnCtx(ctx, "analytics roll-up failed: %v", err)
			}
		}
	}
}

func (s *Service) onDeath(ctx context.Context, m *monitor) {
	// Stop already took this monitor; the death is expected
	if !s.monitors.remove(m) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	logger.WarnCtx(ctx, "process pid=%d is no longer alive", m.pid)
	s.handleCrash(ctx, m.id, m.pid, m.startedAt)
}

func (s *Service) sampleUsage(ctx context.Context, m *monitor) {
	usage, err := process.Sample(ctx, m.pid)
	if err != nil {
		logger.DebugCtx(ctx, "usage sample failed: %v", err)
		return
	}
	if err := s.store.Deployment.UpdateUsage(ctx, m.id, usage.CPUPercent, usage.RAMPercent, time.Now()); err != nil {
		logger.WarnCtx(ctx, "failed to store usage sample: %v", err)
	}
}
