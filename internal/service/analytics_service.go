package service

import (
	"context"
	"sync"
	"time"

	"bothost/pkg/store/sqlstore"
	"bothost/pkg/store/sqlstore/model"
)

type rollUpMark struct {
	at       time.Time
	restarts int
}

// AnalyticsService folds a deployment's live usage into its daily aggregate
type AnalyticsService struct {
	store *sqlstore.Store
	now   func() time.Time

	mu    sync.Mutex
	marks map[int64]rollUpMark
}

// NewAnalyticsService creates the analytics roller
func NewAnalyticsService(store *sqlstore.Store) *AnalyticsService {
	return &AnalyticsService{
		store: store,
		now:   time.Now,
		marks: make(map[int64]rollUpMark),
	}
}

// RollUp adds the uptime since the previous roll-up, the restarts since then
// and the current CPU/RAM sample to today's row. Deployments that are gone
// or not running are skipped.
func (s *AnalyticsService) RollUp(ctx context.Context, deploymentID int64) error {
	d, err := s.store.Deployment.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		s.forget(deploymentID)
		return nil
	}
	if !d.IsRunning() {
		return nil
	}

	now := s.now()
	mark := s.advance(d, now)

	// uptime is credited to the day being closed out, from its midnight at most
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	from := mark.at
	if from.Before(midnight) {
		from = midnight
	}
	// time spent down between a crash and the restart is not uptime
	if d.StartTime != nil && d.StartTime.After(from) {
		from = *d.StartTime
	}
	var uptime int64
	if now.After(from) {
		uptime = int64(now.Sub(from) / time.Second)
	}
	restarts := d.RestartCount - mark.restarts
	if restarts < 0 {
		restarts = 0
	}

	_, err = s.store.Analytics.RollUp(ctx, sqlstore.RollUpInput{
		DeploymentID: deploymentID,
		Date:         now.Format("2006-01-02"),
		UptimeDelta:  uptime,
		Restarts:     restarts,
		CPU:          d.CPUUsage,
		RAM:          d.RAMUsage,
	})
	return err
}

// advance returns the previous mark and records now. The first roll-up of a
// deployment starts from its process start time.
func (s *AnalyticsService) advance(d *model.Deployment, now time.Time) rollUpMark {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.marks[d.ID]
	if !ok {
		prev = rollUpMark{at: now, restarts: d.RestartCount}
		if d.StartTime != nil {
			prev.at = *d.StartTime
		}
	}
	s.marks[d.ID] = rollUpMark{at: now, restarts: d.RestartCount}
	return prev
}

func (s *AnalyticsService) forget(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, id)
}
