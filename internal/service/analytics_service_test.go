package service

import (
	"context"
	"testing"
	"time"

	"bothost/pkg/constants"
	"bothost/pkg/store/sqlstore/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsService_RollUp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
	started := day.Add(9 * time.Hour)
	d := &model.Deployment{UserID: 1, BotName: "stats", Filename: "stats.sh"}
	require.NoError(t, st.Deployment.Create(ctx, d))
	require.NoError(t, st.Deployment.UpdateFields(ctx, d.ID, map[string]interface{}{
		"status":     constants.DeploymentStatusRunning.String(),
		"pid":        4242,
		"start_time": started,
	}))
	require.NoError(t, st.Deployment.UpdateUsage(ctx, d.ID, 10, 20, started))

	svc := NewAnalyticsService(st)
	clock := started.Add(time.Hour)
	svc.now = func() time.Time { return clock }

	require.NoError(t, svc.RollUp(ctx, d.ID))

	// one crash and restart, then another sample
	require.NoError(t, st.Deployment.IncrementRestartCount(ctx, d.ID))
	require.NoError(t, st.Deployment.UpdateUsage(ctx, d.ID, 30, 40, clock))
	clock = clock.Add(30 * time.Minute)
	require.NoError(t, svc.RollUp(ctx, d.ID))

	row, err := st.Analytics.Get(ctx, d.ID, "2026-03-10")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(90*60), row.UptimeSeconds)
	assert.Equal(t, 1, row.Restarts)
	assert.InDelta(t, 20.0, row.CPUAvg, 1e-9)
	assert.InDelta(t, 30.0, row.RAMAvg, 1e-9)
	assert.Equal(t, 2, row.Samples)
}

func TestAnalyticsService_MidnightSplit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 10, 23, 0, 0, 0, time.Local)
	d := &model.Deployment{UserID: 1, BotName: "night", Filename: "night.sh"}
	require.NoError(t, st.Deployment.Create(ctx, d))
	require.NoError(t, st.Deployment.UpdateFields(ctx, d.ID, map[string]interface{}{
		"status":     constants.DeploymentStatusRunning.String(),
		"start_time": started,
	}))

	svc := NewAnalyticsService(st)
	svc.now = func() time.Time { return started.Add(2 * time.Hour) }
	require.NoError(t, svc.RollUp(ctx, d.ID))

	row, err := st.Analytics.Get(ctx, d.ID, "2026-03-11")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(3600), row.UptimeSeconds, "only the part after midnight counts for the new day")
}

func TestAnalyticsService_SkipsNotRunning(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	d := &model.Deployment{UserID: 1, BotName: "idle", Filename: "idle.sh"}
	require.NoError(t, st.Deployment.Create(ctx, d))

	svc := NewAnalyticsService(st)
	require.NoError(t, svc.RollUp(ctx, d.ID))
	require.NoError(t, svc.RollUp(ctx, 999))

	rows, err := st.Analytics.ListByDeployment(ctx, d.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
