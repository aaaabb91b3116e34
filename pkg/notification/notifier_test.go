package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, userID int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
	return r.err
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type memInbox struct {
	rows map[int64][]string
}

func (m *memInbox) Insert(ctx context.Context, userID int64, message string) error {
	if m.rows == nil {
		m.rows = map[int64][]string{}
	}
	m.rows[userID] = append(m.rows[userID], message)
	return nil
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("down")}

	err := Multi{ok, nil, failing}.Notify(context.Background(), 1, "hi")
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, []string{"hi"}, ok.messages())
	assert.Equal(t, []string{"hi"}, failing.messages())
}

func TestStoreNotifier(t *testing.T) {
	inbox := &memInbox{}
	require.NoError(t, NewStoreNotifier(inbox).Notify(context.Background(), 9, "stopped"))
	assert.Equal(t, []string{"stopped"}, inbox.rows[9])
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL).Notify(context.Background(), 4, "auto-restarted"))
	assert.Equal(t, int64(4), got.UserID)
	assert.Equal(t, "auto-restarted", got.Message)
	assert.Equal(t, "text", got.MsgType)
	assert.Contains(t, got.Content.Text, "auto-restarted")
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Notify(context.Background(), 1, "x")
	assert.ErrorContains(t, err, "502")
}

func TestWebhookNotifier_DisabledWithoutURL(t *testing.T) {
	assert.NoError(t, NewWebhookNotifier("").Notify(context.Background(), 1, "x"))
}

type blockingNotifier struct{}

func (blockingNotifier) Notify(ctx context.Context, userID int64, message string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcher_NeverBlocksCaller(t *testing.T) {
	d := NewDispatcher(blockingNotifier{}, 100*time.Millisecond)

	start := time.Now()
	d.Notify(1, "x")
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, d.Wait(ctx), "delivery is bounded by the dispatcher timeout")
}

func TestDispatcher_Delivers(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, time.Second)
	d.Notify(1, "a")
	d.Notify(1, "b")
	require.NoError(t, d.Wait(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b"}, rec.messages())

	var nilDispatcher *Dispatcher
	nilDispatcher.Notify(1, "ignored")
}
