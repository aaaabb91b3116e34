package deployment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bothost/pkg/config"
	"bothost/pkg/constants"
	"bothost/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploy_Success(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.deployment("echo", h.script("echo.sh", "echo started\n"+longRunning), true)

	res, err := h.svc.Deploy(context.Background(), d.ID)
	require.NoError(t, err)

	got := h.get(d.ID)
	assert.Equal(t, constants.DeploymentStatusRunning.String(), got.Status)
	assert.Equal(t, res.PID, got.PID)
	require.NotNil(t, got.NodeID)
	assert.Equal(t, res.NodeID, *got.NodeID)
	assert.NotNil(t, got.StartTime)
	assert.True(t, process.Alive(got.PID))

	n := h.node(res.NodeID)
	assert.Equal(t, 1, n.CurrentLoad)
	assert.Equal(t, int64(1), n.TotalDeployed)
	assert.Equal(t, []int64{d.ID}, h.svc.MonitoredIDs())
	assert.Contains(t, h.events.deploymentLogs(d.ID), constants.DeploymentLogDeploySuccess)

	data, err := os.ReadFile(h.svc.LogPath(d.ID))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Deployment started at")
	assert.Contains(t, string(data), "started")
}

func TestDeploy_ConcurrentCallsKeepOneMonitor(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.deployment("dup", h.script("dup.sh", longRunning), true)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Deploy(context.Background(), d.ID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, h.svc.monitors.len())
	assert.Equal(t, 1, h.totalLoad())
	h.assertLoadsMatchRunning()

	_, err := h.svc.Deploy(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, h.totalLoad())
}

func TestDeploy_FailuresLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []config.NodeConfig
		body    string
		missing bool
		wantErr error
	}{
		{
			name:    "missing artifact",
			missing: true,
			wantErr: ErrArtifactMissing,
		},
		{
			name:    "no active node",
			nodes:   []config.NodeConfig{{Name: "off", Status: "inactive", Capacity: 10}},
			body:    longRunning,
			wantErr: ErrNoAvailableNode,
		},
		{
			name:    "immediate exit",
			body:    "echo boom >&2\nexit 3\n",
			wantErr: ErrImmediateExit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.nodes, nil)
			filename := "bot.sh"
			if !tt.missing {
				h.script(filename, tt.body)
			}
			d := h.deployment("bot", filename, true)

			_, err := h.svc.Deploy(context.Background(), d.ID)
			assert.ErrorIs(t, err, tt.wantErr)

			got := h.get(d.ID)
			assert.Equal(t, constants.DeploymentStatusUploaded.String(), got.Status)
			assert.Zero(t, got.PID)
			assert.Nil(t, got.NodeID)
			assert.Zero(t, h.totalLoad())
			assert.Zero(t, h.svc.monitors.len())
			assert.Contains(t, h.events.deploymentLogs(d.ID), constants.DeploymentLogDeployFailed)
		})
	}
}

func TestDeploy_CallerGivesUpReleasesDeadPlacement(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.Stabilize = time.Second
	})
	n1 := h.nodes[0].ID
	d := h.deployment("ghost", h.script("ghost.sh", longRunning), true)
	h.force(d, constants.DeploymentStatusRunning, deadPID(t), &n1)
	h.bumpLoad(n1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := h.svc.Deploy(ctx, d.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := h.get(d.ID)
	assert.Equal(t, constants.DeploymentStatusStopped.String(), got.Status)
	assert.Zero(t, got.PID)
	assert.Nil(t, got.NodeID)
	assert.Zero(t, h.totalLoad())
	assert.Zero(t, h.svc.monitors.len())
}

func TestDeploy_FailureAfterDeadProcessLeavesStopped(t *testing.T) {
	h := newHarness(t, nil, nil)
	n1 := h.nodes[0].ID
	d := h.deployment("orphan", "gone.sh", true)
	h.force(d, constants.DeploymentStatusRunning, deadPID(t), &n1)
	h.bumpLoad(n1, 1)

	_, err := h.svc.Deploy(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrArtifactMissing)

	got := h.get(d.ID)
	assert.Equal(t, constants.DeploymentStatusStopped.String(), got.Status)
	assert.Zero(t, got.PID)
	assert.Zero(t, h.totalLoad())
	h.assertLoadsMatchRunning()
}

func TestDeploy_NotFound(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.svc.Deploy(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeploy_SoftCapacityStillPlaces(t *testing.T) {
	h := newHarness(t, []config.NodeConfig{
		{Name: "a", Status: "active", Capacity: 1},
		{Name: "b", Status: "active", Capacity: 1},
	}, nil)
	ctx := context.Background()
	for _, n := range h.nodes {
		require.NoError(t, h.store.Node.IncrementLoad(ctx, n.ID))
	}

	d := h.deployment("extra", h.script("extra.sh", longRunning), false)
	res, err := h.svc.Deploy(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, h.nodes[0].ID, res.NodeID, "tie goes to the first node")
	assert.Equal(t, 2, h.node(res.NodeID).CurrentLoad)
}

func TestDeploy_EnforcedCapacityRejects(t *testing.T) {
	h := newHarness(t, []config.NodeConfig{{Name: "a", Status: "active", Capacity: 1}}, func(o *Options) {
		o.EnforceCapacity = true
	})
	ctx := context.Background()

	first := h.deployment("first", h.script("first.sh", longRunning), false)
	_, err := h.svc.Deploy(ctx, first.ID)
	require.NoError(t, err)

	second := h.deployment("second", h.script("second.sh", longRunning), false)
	_, err = h.svc.Deploy(ctx, second.ID)
	assert.ErrorIs(t, err, ErrNoAvailableNode)
	assert.Equal(t, 1, h.totalLoad())
}

func TestStop(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	d := h.deployment("stopme", h.script("stopme.sh", longRunning), true)

	res, err := h.svc.Deploy(ctx, d.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.Stop(ctx, d.ID))

	got := h.get(d.ID)
	assert.Equal(t, constants.DeploymentStatusStopped.String(), got.Status)
	assert.Zero(t, got.PID)
	assert.Nil(t, got.NodeID)
	assert.Zero(t, h.node(res.NodeID).CurrentLoad)
	assert.Zero(t, h.svc.monitors.len())
	assert.Eventually(t, func() bool { return !process.Alive(res.PID) }, 3*time.Second, 20*time.Millisecond)

	// stopping again is a no-op
	require.NoError(t, h.svc.Stop(ctx, d.ID))
	assert.Zero(t, h.totalLoad())

	// no crash handling follows an intentional stop
	time.Sleep(300 * time.Millisecond)
	got = h.get(d.ID)
	assert.Equal(t, constants.DeploymentStatusStopped.String(), got.Status)
	assert.Zero(t, got.RestartCount)
	assert.Empty(t, h.notifier.messages(d.UserID))
}

func TestStop_NotRunningIsNoop(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.deployment("idle", "idle.sh", true)

	require.NoError(t, h.svc.Stop(context.Background(), d.ID))
	assert.Equal(t, constants.DeploymentStatusUploaded.String(), h.get(d.ID).Status)

	assert.ErrorIs(t, h.svc.Stop(context.Background(), 999), ErrNotFound)
}

func TestStop_AbandonsPendingRestart(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.Backoff = 500 * time.Millisecond
	})
	ctx := context.Background()
	d := h.deployment("flappy", h.script("flappy.sh", longRunning), true)

	res, err := h.svc.Deploy(ctx, d.ID)
	require.NoError(t, err)
	killGroup(res.PID)

	require.Eventually(t, func() bool {
		return h.get(d.ID).Status == constants.DeploymentStatusRestarting.String()
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.svc.Stop(ctx, d.ID))
	assert.Contains(t, h.events.serverKinds(), constants.EventStop)
	assert.Contains(t, h.events.deploymentLogs(d.ID), constants.DeploymentLogStopped)
	assert.Equal(t, 500*time.Millisecond, h.svc.backoff.next(d.ID, 0), "the crash streak is reset")
	time.Sleep(800 * time.Millisecond)

	got := h.get(d.ID)
	assert.Equal(t, constants.DeploymentStatusStopped.String(), got.Status)
	assert.Zero(t, got.PID)
	assert.Equal(t, 1, got.RestartCount)
	assert.Zero(t, h.totalLoad())
	assert.Zero(t, h.svc.monitors.len())
}

func TestStop_CallerGivesUpDuringGrace(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.StopGrace = 2 * time.Second
	})
	d := h.deployment("stubborn", h.script("stubborn.sh", "trap 'sleep 1; exit 0' TERM\nwhile true; do sleep 0.1; done\n"), true)

	res, err := h.svc.Deploy(context.Background(), d.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, h.svc.Stop(ctx, d.ID))

	got := h.get(d.ID)
	assert.Equal(t, constants.DeploymentStatusStopped.String(), got.Status)
	assert.Zero(t, got.PID)
	assert.Nil(t, got.NodeID)
	assert.Zero(t, h.totalLoad())
	assert.Zero(t, h.svc.monitors.len())
	assert.False(t, h.svc.stopping.has(d.ID))
	assert.Contains(t, h.events.serverKinds(), constants.EventStop)
	assert.Eventually(t, func() bool { return !process.Alive(res.PID) }, 3*time.Second, 20*time.Millisecond)
}

func TestMessages(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	d := h.deployment("msg", h.script("msg.sh", longRunning), false)

	ok, msg := h.svc.DeployMessage(ctx, d.ID)
	assert.True(t, ok)
	assert.Contains(t, msg, "Deployed on")

	ok, msg = h.svc.DeployMessage(ctx, d.ID)
	assert.False(t, ok)
	assert.Equal(t, "Deployment is already running", msg)

	ok, msg = h.svc.StopMessage(ctx, d.ID)
	assert.True(t, ok)
	assert.Equal(t, "Deployment stopped", msg)

	ok, msg = h.svc.DeployMessage(ctx, 12345)
	assert.False(t, ok)
	assert.Equal(t, "Deployment not found", msg)
}

func TestSetAutoRestart(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.deployment("flag", "flag.sh", true)

	require.NoError(t, h.svc.SetAutoRestart(context.Background(), d.ID, false))
	assert.False(t, h.get(d.ID).AutoRestart)
	assert.ErrorIs(t, h.svc.SetAutoRestart(context.Background(), 999, true), ErrNotFound)
}

func TestActiveLogPaths(t *testing.T) {
	h := newHarness(t, nil, nil)
	d := h.deployment("log", h.script("log.sh", longRunning), false)
	_, err := h.svc.Deploy(context.Background(), d.ID)
	require.NoError(t, err)

	abs, err := filepath.Abs(h.svc.LogPath(d.ID))
	require.NoError(t, err)
	assert.True(t, h.svc.ActiveLogPaths()[abs])
}

func TestArtifactPath(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Equal(t, "/abs/bot.py", h.svc.ArtifactPath(newDeploymentRow("/abs/bot.py")))
	assert.Equal(t, filepath.Join(h.svc.opts.ProjectsDir, "bot.py"), h.svc.ArtifactPath(newDeploymentRow("bot.py")))
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock(1)
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock(2)
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different ids must not block each other")
	}

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock(1)
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("same id must serialize")
	case <-time.After(100 * time.Millisecond):
	}
	unlockA()
	<-acquired

	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBackoffTracker(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		uptimes []time.Duration
		want    []time.Duration
	}{
		{
			name:    "fixed by default",
			base:    5 * time.Second,
			max:     5 * time.Second,
			uptimes: []time.Duration{0, 0, 0},
			want:    []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:    "exponential with cap",
			base:    time.Second,
			max:     5 * time.Second,
			uptimes: []time.Duration{0, 0, 0, 0, 0},
			want:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:    "healthy run resets the streak",
			base:    time.Second,
			max:     time.Minute,
			uptimes: []time.Duration{0, 0, 2 * time.Minute, 0},
			want:    []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackoffTracker(tt.base, tt.max, time.Minute)
			for i, up := range tt.uptimes {
				assert.Equal(t, tt.want[i], b.next(7, up), "attempt %d", i)
			}
			b.reset(7)
			assert.Equal(t, tt.base, b.next(7, 0))
		})
	}
}

func TestDeployErrorMessage(t *testing.T) {
	assert.Equal(t, "No available nodes", ErrorMessage(ErrNoAvailableNode))
	assert.Equal(t, "Bot file not found", ErrorMessage(errors.Join(ErrArtifactMissing)))
	assert.True(t, strings.HasPrefix(ErrorMessage(errors.New("x")), "Deployment failed"))
}
