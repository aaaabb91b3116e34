package deployment

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bothost/pkg/config"
	"bothost/pkg/process"
	"bothost/pkg/store/sqlstore"
	"bothost/pkg/store/sqlstore/model"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recordingEvents struct {
	mu         sync.Mutex
	server     []string
	deployment map[int64][]string
}

func (r *recordingEvents) Emit(kind, details string, userID *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.server = append(r.server, kind)
}

func (r *recordingEvents) EmitDeployment(id int64, logType, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deployment == nil {
		r.deployment = map[int64][]string{}
	}
	r.deployment[id] = append(r.deployment[id], logType)
}

func (r *recordingEvents) deploymentLogs(id int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deployment[id]...)
}

func (r *recordingEvents) serverKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.server...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func (r *recordingNotifier) Notify(userID int64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = map[int64][]string{}
	}
	r.msgs[userID] = append(r.msgs[userID], message)
}

func (r *recordingNotifier) messages(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs[userID]...)
}

type harness struct {
	t        *testing.T
	svc      *Service
	store    *sqlstore.Store
	events   *recordingEvents
	notifier *recordingNotifier
	dir      string
	nodes    []model.Node
}

func fastOptions(dir string) Options {
	return Options{
		ProjectsDir:      filepath.Join(dir, "projects"),
		LogsDir:          filepath.Join(dir, "logs"),
		ScriptBackupsDir: filepath.Join(dir, "script_backups"),
		ScratchDir:       filepath.Join(dir, "scratch"),
		Interpreters:     process.Interpreters{".sh": "sh"},
		Stabilize:        150 * time.Millisecond,
		PollInterval:     50 * time.Millisecond,
		SampleInterval:   time.Hour,
		RollUpInterval:   time.Hour,
		StopGrace:        time.Second,
		Backoff:          100 * time.Millisecond,
		HealthyAfter:     time.Minute,
		Parallelism:      4,
		TestRunTimeout:   5 * time.Second,
		TestRunMaxOutput: 2000,
	}
}

func newHarness(t *testing.T, nodes []config.NodeConfig, tweak func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	st, err := sqlstore.New(ctx, config.StoreConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "bothost.db")},
	})
	require.NoError(t, err)

	if nodes == nil {
		nodes = []config.NodeConfig{
			{Name: "Node-1", Region: "Asia", Status: "active", Capacity: 300},
			{Name: "Node-2", Region: "Europe", Status: "active", Capacity: 300},
		}
	}
	_, err = st.Node.EnsureSeeded(ctx, nodes)
	require.NoError(t, err)
	seeded, err := st.Node.List(ctx)
	require.NoError(t, err)

	opts := fastOptions(dir)
	if tweak != nil {
		tweak(&opts)
	}
	require.NoError(t, os.MkdirAll(opts.ProjectsDir, 0755))

	h := &harness{
		t:        t,
		store:    st,
		events:   &recordingEvents{},
		notifier: &recordingNotifier{},
		dir:      dir,
		nodes:    seeded,
	}
	h.svc = NewService(st, h.events, h.notifier, nil, opts)

	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Close(closeCtx)
		rows, _ := st.Deployment.List(context.Background())
		for _, r := range rows {
			if r.PID > 0 {
				_ = unix.Kill(-r.PID, unix.SIGKILL)
			}
		}
		_ = st.Close()
	})
	return h
}

// script writes an artifact under the projects dir and returns its filename
func (h *harness) script(name, body string) string {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.svc.opts.ProjectsDir, name), []byte(body), 0644))
	return name
}

func (h *harness) deployment(name, filename string, autoRestart bool) *model.Deployment {
	h.t.Helper()
	d := &model.Deployment{UserID: 100, BotName: name, Filename: filename, AutoRestart: autoRestart}
	require.NoError(h.t, h.store.Deployment.Create(context.Background(), d))
	return d
}

func (h *harness) get(id int64) *model.Deployment {
	h.t.Helper()
	d, err := h.store.Deployment.Get(context.Background(), id)
	require.NoError(h.t, err)
	require.NotNil(h.t, d)
	return d
}

func (h *harness) node(id int64) *model.Node {
	h.t.Helper()
	n, err := h.store.Node.Get(context.Background(), id)
	require.NoError(h.t, err)
	require.NotNil(h.t, n)
	return n
}

func (h *harness) totalLoad() int {
	h.t.Helper()
	nodes, err := h.store.Node.List(context.Background())
	require.NoError(h.t, err)
	total := 0
	for _, n := range nodes {
		total += n.CurrentLoad
	}
	return total
}

// assertLoadsMatchRunning checks every node's load against the Running rows placed on it
func (h *harness) assertLoadsMatchRunning() {
	h.t.Helper()
	ctx := context.Background()
	nodes, err := h.store.Node.List(ctx)
	require.NoError(h.t, err)
	for _, n := range nodes {
		count, err := h.store.Deployment.CountRunningOnNode(ctx, n.ID)
		require.NoError(h.t, err)
		require.Equal(h.t, int(count), n.CurrentLoad, "node %s", n.Name)
	}
}

func killGroup(pid int) {
	_ = unix.Kill(-pid, unix.SIGKILL)
}

// deadPID returns the pid of a process that has already been reaped
func deadPID(t *testing.T) int {
	t.Helper()
	h, err := process.Spawn(process.Spec{
		Artifact:     "/bin/true",
		LogPath:      filepath.Join(t.TempDir(), "dead.log"),
		Interpreters: process.Interpreters{},
	})
	require.NoError(t, err)
	<-h.Exited()
	return h.Pid
}

const longRunning = "exec sleep 30\n"

func newDeploymentRow(filename string) *model.Deployment {
	return &model.Deployment{Filename: filename}
}
