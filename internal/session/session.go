package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/rustplus"
)

// ErrSessionClosed is returned when connecting a session that was torn down.
var ErrSessionClosed = errors.New("session: closed")

// Transport is the live connection a session owns.
type Transport interface {
	GetInfo(ctx context.Context) (*rustplus.AppInfo, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// DialFunc opens a transport to the server described by rec.
type DialFunc func(ctx context.Context, rec model.ServerRecord) (Transport, error)

// InfoSink receives the metadata projection of connected servers.
type InfoSink interface {
	SaveServerInfo(ctx context.Context, info model.ServerInfo) error
	DeleteServerInfo(ctx context.Context, serverID string) error
}

// TransitionFunc observes state changes. It is called with the session lock
// held and must not call back into the session.
type TransitionFunc func(key string, from, to State, err error)

// Options tunes connection behaviour.
type Options struct {
	MaxConnectFailures int
	ConnectTimeout     time.Duration
	RequestTimeout     time.Duration
}

// RustplusDialer dials real companion servers.
func RustplusDialer(opts rustplus.Options) DialFunc {
	return func(ctx context.Context, rec model.ServerRecord) (Transport, error) {
		conn, err := rustplus.Dial(ctx, rec.Address(), uint64(rec.PlayerID), rec.PlayerToken, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// RemoteSession owns one transport to one remote server.
//
// Disconnected -> Connecting -> Connected -> Disconnected (transport closed
// or undecodable frame). A failed connect returns to Disconnected, or to
// Failed after MaxConnectFailures consecutive failures. There is no retry
// timer: the next Connect call is the retry.
type RemoteSession struct {
	key      string
	dial     DialFunc
	sink     InfoSink
	onChange TransitionFunc
	opts     Options

	mu        sync.Mutex
	record    model.ServerRecord
	state     State
	failures  int
	lastErr   error
	transport Transport
	cancel    context.CancelFunc
	closed    bool

	wg sync.WaitGroup
}

func newRemoteSession(rec model.ServerRecord, dial DialFunc, sink InfoSink, onChange TransitionFunc, opts Options) *RemoteSession {
	if opts.MaxConnectFailures <= 0 {
		opts.MaxConnectFailures = 3
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &RemoteSession{
		key:      rec.ID,
		record:   rec,
		dial:     dial,
		sink:     sink,
		onChange: onChange,
		opts:     opts,
		state:    Disconnected,
	}
}

// setStateLocked must be called with s.mu held.
func (s *RemoteSession) setStateLocked(to State, err error) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if s.onChange != nil {
		s.onChange(s.key, from, to, err)
	}
}

// State returns the current state.
func (s *RemoteSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session.
func (s *RemoteSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Key:      s.key,
		Address:  s.record.Address(),
		State:    s.state,
		Failures: s.failures,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// SetRecord stores the desired record. New credentials are used by the next
// connect; a live transport keeps the ones it was opened with.
func (s *RemoteSession) SetRecord(rec model.ServerRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.record.Credentials() != rec.Credentials() || s.record.Address() != rec.Address()
	s.record = rec
	return changed
}

// Connect dials the server unless the session is already live.
func (s *RemoteSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state.Live() {
		s.mu.Unlock()
		return nil
	}
	rec := s.record
	s.setStateLocked(Connecting, nil)
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	t, err := s.dial(dialCtx, rec)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		if t != nil {
			t.Close()
		}
		return ErrSessionClosed
	}

	if err != nil {
		s.failures++
		s.lastErr = err
		next := Disconnected
		if s.failures >= s.opts.MaxConnectFailures {
			next = Failed
		}
		log.Warn().Str("server", s.key).Str("address", rec.Address()).Int("failures", s.failures).
			Err(err).Msg("connect failed")
		s.setStateLocked(next, err)
		return err
	}

	s.failures = 0
	s.lastErr = nil
	s.transport = t
	connCtx, connCancel := context.WithCancel(context.Background())
	s.cancel = connCancel
	s.setStateLocked(Connected, nil)
	log.Info().Str("server", s.key).Str("address", rec.Address()).Msg("session connected")

	s.wg.Add(2)
	go s.watch(connCtx, t)
	go s.fetchMetadata(connCtx, t)
	return nil
}

// watch downgrades the session when its transport stops.
func (s *RemoteSession) watch(ctx context.Context, t Transport) {
	defer s.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-t.Done():
	}

	err := t.Err()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.transport != t {
		return
	}
	s.transport = nil
	s.cancel()
	s.lastErr = err
	if rustplus.IsDecode(err) {
		log.Warn().Str("server", s.key).Err(err).Msg("undecodable frame from server, downgrading session")
	} else {
		log.Info().Str("server", s.key).Err(err).Msg("session transport closed")
	}
	s.setStateLocked(Disconnected, err)
}

// fetchMetadata issues the single info request for this connection and
// writes the projection. Results for a torn-down session are discarded.
func (s *RemoteSession) fetchMetadata(ctx context.Context, t Transport) {
	defer s.wg.Done()

	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	info, err := t.GetInfo(reqCtx)
	if err != nil {
		log.Warn().Str("server", s.key).Err(err).Msg("metadata fetch failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.transport != t {
		log.Debug().Str("server", s.key).Msg("discarding metadata for torn down connection")
		return
	}
	if s.sink == nil {
		return
	}
	projection := model.ServerInfo{
		ServerID:      s.key,
		Name:          info.Name,
		HeaderImage:   info.HeaderImage,
		URL:           info.URL,
		Map:           info.Map,
		MapSize:       info.MapSize,
		WipeTime:      info.WipeTime,
		Players:       info.Players,
		MaxPlayers:    info.MaxPlayers,
		QueuedPlayers: info.QueuedPlayers,
		Seed:          info.Seed,
		Salt:          info.Salt,
		FetchedAt:     time.Now().UTC(),
	}
	if err := s.sink.SaveServerInfo(ctx, projection); err != nil {
		log.Warn().Str("server", s.key).Err(err).Msg("failed to save server info")
	}
}

// Close tears the session down and waits for its goroutines. After Close
// returns the session writes nothing further.
func (s *RemoteSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	t := s.transport
	s.transport = nil
	s.setStateLocked(Disconnected, nil)
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	s.wg.Wait()
}
