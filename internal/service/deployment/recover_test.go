package deployment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bothost/pkg/constants"
	"bothost/pkg/process"
	"bothost/pkg/store/sqlstore/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) force(d *model.Deployment, status constants.DeploymentStatus, pid int, nodeID *int64) {
	h.t.Helper()
	require.NoError(h.t, h.store.Deployment.UpdateFields(context.Background(), d.ID, map[string]interface{}{
		"status":  status.String(),
		"pid":     pid,
		"node_id": nodeID,
	}))
}

func (h *harness) bumpLoad(nodeID int64, n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(h.t, h.store.Node.IncrementLoad(context.Background(), nodeID))
	}
}

func TestRecover_ColdStart(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	n1, n2 := h.nodes[0].ID, h.nodes[1].ID

	stale := h.deployment("stale", h.script("stale.sh", longRunning), true)
	h.force(stale, constants.DeploymentStatusRunning, deadPID(t), &n1)

	missing := h.deployment("missing", "gone.sh", true)
	h.force(missing, constants.DeploymentStatusRunning, deadPID(t), &n2)

	pending := h.deployment("pending", h.script("pending.sh", longRunning), true)
	h.force(pending, constants.DeploymentStatusRestarting, 0, nil)

	idle := h.deployment("idle", h.script("idle.sh", longRunning), false)
	h.force(idle, constants.DeploymentStatusStopped, 0, nil)

	// drifted counters
	h.bumpLoad(n1, 5)

	report, err := h.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, &RecoveryReport{
		Attempted:      3,
		Recovered:      2,
		Adopted:        0,
		Failed:         1,
		LoadsCorrected: 2,
	}, report)

	assert.True(t, h.get(stale.ID).IsRunning())
	assert.True(t, process.Alive(h.get(stale.ID).PID))
	assert.True(t, h.get(pending.ID).IsRunning())

	got := h.get(missing.ID)
	assert.Equal(t, constants.DeploymentStatusStopped.String(), got.Status)
	assert.Zero(t, got.PID)
	assert.Nil(t, got.NodeID)

	assert.Equal(t, constants.DeploymentStatusStopped.String(), h.get(idle.ID).Status)

	assert.Equal(t, 2, h.totalLoad())
	h.assertLoadsMatchRunning()
	assert.ElementsMatch(t, []int64{stale.ID, pending.ID}, h.svc.MonitoredIDs())
	assert.Contains(t, h.events.serverKinds(), constants.EventRecovery)
}

func TestRecover_NothingToDo(t *testing.T) {
	h := newHarness(t, nil, nil)

	report, err := h.svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RecoveryReport{}, report)
}

func TestRecover_AdoptsSurvivingProcess(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	n1 := h.nodes[0].ID

	d := h.deployment("survivor", h.script("survivor.sh", longRunning), false)
	survivor, err := process.Spawn(process.Spec{
		Artifact:     filepath.Join(h.svc.opts.ProjectsDir, "survivor.sh"),
		LogPath:      h.svc.LogPath(d.ID),
		Interpreters: h.svc.opts.Interpreters,
	})
	require.NoError(t, err)
	h.force(d, constants.DeploymentStatusRunning, survivor.Pid, &n1)
	h.bumpLoad(n1, 1)

	report, err := h.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Adopted)
	assert.Zero(t, report.Recovered)
	assert.Zero(t, report.LoadsCorrected)

	got := h.get(d.ID)
	assert.Equal(t, survivor.Pid, got.PID, "no duplicate process is spawned")
	assert.Equal(t, 1, h.totalLoad())

	killGroup(survivor.Pid)
	require.Eventually(t, func() bool {
		return h.get(d.ID).Status == constants.DeploymentStatusStopped.String()
	}, 3*time.Second, 20*time.Millisecond)
	assert.Zero(t, h.totalLoad())
}

func TestRecover_NoNodesLeavesEverythingStopped(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	for _, n := range h.nodes {
		_, err := h.store.Node.SetStatus(ctx, n.ID, constants.NodeStatusInactive)
		require.NoError(t, err)
	}

	n1 := h.nodes[0].ID
	a := h.deployment("a", h.script("a.sh", longRunning), true)
	h.force(a, constants.DeploymentStatusRunning, deadPID(t), &n1)
	b := h.deployment("b", h.script("b.sh", longRunning), true)
	h.force(b, constants.DeploymentStatusRestarting, 0, nil)
	h.bumpLoad(n1, 1)

	report, err := h.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)

	for _, id := range []int64{a.ID, b.ID} {
		assert.Equal(t, constants.DeploymentStatusStopped.String(), h.get(id).Status)
	}
	assert.Zero(t, h.totalLoad())
}
