package reconcile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/rustplus"
	"github.com/lydonator/rust-plus-web-sub002/internal/session"
)

// mockStore is a mock implementation of ServerLister.
type mockStore struct {
	mu              sync.Mutex
	ListServersFunc func(ctx context.Context) ([]model.ServerRecord, error)
}

func (m *mockStore) ListServers(ctx context.Context) ([]model.ServerRecord, error) {
	m.mu.Lock()
	fn := m.ListServersFunc
	m.mu.Unlock()
	return fn(ctx)
}

func (m *mockStore) set(records ...model.ServerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListServersFunc = func(context.Context) ([]model.ServerRecord, error) {
		return records, nil
	}
}

// fakeSessions records registry calls without dialing anything.
type fakeSessions struct {
	mu       sync.Mutex
	statuses map[string]session.Status
	ensured  []string
	removed  []string
	gate     chan struct{}
}

func newFakeSessions(statuses ...session.Status) *fakeSessions {
	f := &fakeSessions{statuses: make(map[string]session.Status)}
	for _, st := range statuses {
		f.statuses[st.Key] = st
	}
	return f
}

func (f *fakeSessions) Ensure(ctx context.Context, rec model.ServerRecord) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, rec.ID)
	f.statuses[rec.ID] = session.Status{Key: rec.ID, State: session.Connected}
	return nil
}

func (f *fakeSessions) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	delete(f.statuses, key)
	return nil
}

func (f *fakeSessions) Snapshot() []session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Status, 0, len(f.statuses))
	for _, st := range f.statuses {
		out = append(out, st)
	}
	return out
}

func (f *fakeSessions) calls() (ensured, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ensured = append([]string(nil), f.ensured...)
	removed = append([]string(nil), f.removed...)
	sort.Strings(ensured)
	sort.Strings(removed)
	return ensured, removed
}

func record(id string) model.ServerRecord {
	return model.ServerRecord{ID: id, UserID: "user-1", Host: "10.0.0.1", Port: 28015, PlayerID: 100, PlayerToken: 1}
}

func TestRunOnce_EnsuresMissingAndRemovesUndesired(t *testing.T) {
	store := &mockStore{}
	store.set(record("a"), record("b"))
	sessions := newFakeSessions(
		session.Status{Key: "b", State: session.Connected},
		session.Status{Key: "c", State: session.Connected},
	)

	res, err := NewLoop(store, sessions, time.Minute, 4).RunOnce(context.Background())
	require.NoError(t, err)

	ensured, removed := sessions.calls()
	assert.Equal(t, []string{"a"}, ensured, "live sessions are left alone")
	assert.Equal(t, []string{"c"}, removed)
	assert.Equal(t, Result{Desired: 2, Ensured: 1, Removed: 1}, res)
}

func TestRunOnce_RetriesDisconnectedAndFailed(t *testing.T) {
	store := &mockStore{}
	store.set(record("a"), record("b"), record("c"))
	sessions := newFakeSessions(
		session.Status{Key: "a", State: session.Failed},
		session.Status{Key: "b", State: session.Disconnected},
		session.Status{Key: "c", State: session.Connecting},
	)

	_, err := NewLoop(store, sessions, time.Minute, 4).RunOnce(context.Background())
	require.NoError(t, err)

	ensured, removed := sessions.calls()
	assert.Equal(t, []string{"a", "b"}, ensured)
	assert.Empty(t, removed)
}

func TestRunOnce_StoreErrorLeavesSessionsUntouched(t *testing.T) {
	store := &mockStore{ListServersFunc: func(context.Context) ([]model.ServerRecord, error) {
		return nil, errors.New("connection refused")
	}}
	sessions := newFakeSessions(session.Status{Key: "a", State: session.Connected})

	_, err := NewLoop(store, sessions, time.Minute, 4).RunOnce(context.Background())

	var rerr *ReconciliationError
	require.ErrorAs(t, err, &rerr)
	ensured, removed := sessions.calls()
	assert.Empty(t, ensured)
	assert.Empty(t, removed)
	assert.Len(t, sessions.Snapshot(), 1)
}

func TestRunOnce_SkipsWhilePassRunning(t *testing.T) {
	store := &mockStore{}
	store.set(record("a"))
	sessions := newFakeSessions()
	sessions.gate = make(chan struct{})
	loop := NewLoop(store, sessions, time.Minute, 1)

	done := make(chan error, 1)
	go func() {
		_, err := loop.RunOnce(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return loop.running.Load() }, time.Second, time.Millisecond)

	_, err := loop.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrPassRunning)

	close(sessions.gate)
	require.NoError(t, <-done)
	ensured, _ := sessions.calls()
	assert.Equal(t, []string{"a"}, ensured, "the skipped tick must not queue a second pass")
}

func TestRun_ConvergesAndStopsOnCancel(t *testing.T) {
	store := &mockStore{}
	store.set(record("a"), record("b"))

	dial := func(ctx context.Context, rec model.ServerRecord) (session.Transport, error) {
		return newIdleTransport(), nil
	}
	registry := session.NewRegistry(dial, nil, nil, session.Options{})
	defer registry.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		NewLoop(store, registry, 10*time.Millisecond, 2).Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return liveKeys(registry) == "a,b" }, time.Second, 5*time.Millisecond)

	store.set(record("b"))
	require.Eventually(t, func() bool { return liveKeys(registry) == "b" }, time.Second, 5*time.Millisecond)

	// A removed record is not recreated by later passes.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "b", liveKeys(registry))

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func liveKeys(r *session.Registry) string {
	var keys []string
	for _, st := range r.Snapshot() {
		if st.State.Live() {
			keys = append(keys, st.Key)
		}
	}
	return strings.Join(keys, ",")
}

// idleTransport stays connected until closed and serves empty metadata.
type idleTransport struct {
	done chan struct{}
	once sync.Once
}

func newIdleTransport() *idleTransport { return &idleTransport{done: make(chan struct{})} }

func (t *idleTransport) GetInfo(context.Context) (*rustplus.AppInfo, error) {
	return &rustplus.AppInfo{}, nil
}
func (t *idleTransport) Done() <-chan struct{} { return t.done }
func (t *idleTransport) Err() error            { return nil }
func (t *idleTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
