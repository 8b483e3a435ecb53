package session

import (
	"context"
	"errors"
	"sync"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/rustplus"
)

type fakeTransport struct {
	rec     model.ServerRecord
	info    *rustplus.AppInfo
	infoErr error
	gate    chan struct{}

	mu        sync.Mutex
	infoCalls int
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(rec model.ServerRecord) *fakeTransport {
	return &fakeTransport{
		rec:  rec,
		info: &rustplus.AppInfo{Name: "Rustafied", Map: "Procedural Map", MapSize: 4000},
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) GetInfo(ctx context.Context) (*rustplus.AppInfo, error) {
	f.mu.Lock()
	f.infoCalls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTransport) Close() error {
	f.fail(nil)
	return nil
}

// fail simulates the transport stopping with err.
func (f *fakeTransport) fail(err error) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *fakeTransport) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) InfoCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls
}

type fakeDialer struct {
	mu         sync.Mutex
	dials      []model.ServerRecord
	transports []*fakeTransport
	failures   map[string]int // remaining failures by server id
	block      map[string]chan struct{}
	prepare    func(*fakeTransport)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{failures: make(map[string]int), block: make(map[string]chan struct{})}
}

func (d *fakeDialer) Dial(ctx context.Context, rec model.ServerRecord) (Transport, error) {
	d.mu.Lock()
	d.dials = append(d.dials, rec)
	gate := d.block[rec.ID]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures[rec.ID] > 0 {
		d.failures[rec.ID]--
		return nil, &rustplus.TransportError{Op: "connect", Address: rec.Address(), Err: errors.New("connection refused")}
	}
	t := newFakeTransport(rec)
	if d.prepare != nil {
		d.prepare(t)
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) Dials() []model.ServerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.ServerRecord(nil), d.dials...)
}

func (d *fakeDialer) Last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type memorySink struct {
	mu    sync.Mutex
	infos map[string]model.ServerInfo
}

func newMemorySink() *memorySink {
	return &memorySink{infos: make(map[string]model.ServerInfo)}
}

func (m *memorySink) SaveServerInfo(_ context.Context, info model.ServerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[info.ServerID] = info
	return nil
}

func (m *memorySink) DeleteServerInfo(_ context.Context, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.infos, serverID)
	return nil
}

func (m *memorySink) Get(serverID string) (model.ServerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.infos[serverID]
	return info, ok
}

type transition struct {
	key      string
	from, to State
}

type recorder struct {
	mu  sync.Mutex
	got []transition
}

func (r *recorder) record(key string, from, to State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, transition{key, from, to})
}

func (r *recorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.got...)
}

func testRecord(id string, token int32) model.ServerRecord {
	return model.ServerRecord{ID: id, UserID: "user-1", Host: "1.2.3.4", Port: 28015, PlayerID: 100, PlayerToken: token}
}
