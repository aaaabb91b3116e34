package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"bothost/pkg/config"
	"bothost/pkg/store/sqlstore"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlstore.New(context.Background(), config.StoreConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "bothost.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type sinkEvent struct {
	deploymentID int64
	kind         string
	message      string
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) Emit(kind, details string, userID *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{kind: kind, message: details})
}

func (r *recordingSink) EmitDeployment(id int64, logType, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{deploymentID: id, kind: logType, message: message})
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Notify(userID int64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, message)
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}
