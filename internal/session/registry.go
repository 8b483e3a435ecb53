package session

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lydonator/rust-plus-web-sub002/internal/events"
	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/observability"
)

// entry serializes operations on one key.
type entry struct {
	mu      sync.Mutex
	session *RemoteSession
	removed bool
}

// Registry is the only owner of RemoteSessions. Operations on one key are
// totally ordered; different keys proceed concurrently.
type Registry struct {
	dial DialFunc
	sink InfoSink
	bus  *events.Bus
	opts Options

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(dial DialFunc, sink InfoSink, bus *events.Bus, opts Options) *Registry {
	return &Registry{
		dial:    dial,
		sink:    sink,
		bus:     bus,
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

func (r *Registry) onTransition(key string, from, to State, err error) {
	observability.RecordSessionTransition(to.String())
	if r.bus != nil {
		r.bus.PublishSessionState(key, from.String(), to.String(), err)
	}
}

// Ensure makes sure a session exists for rec and is live. A present, live
// session is left alone; a Disconnected or Failed one is reconnected with
// the newest credentials.
func (r *Registry) Ensure(ctx context.Context, rec model.ServerRecord) error {
	r.mu.Lock()
	e, ok := r.entries[rec.ID]
	if !ok {
		e = &entry{session: newRemoteSession(rec, r.dial, r.sink, r.onTransition, r.opts)}
		r.entries[rec.ID] = e
		observability.SetSessionsRegistered(len(r.entries))
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}
	if e.session.SetRecord(rec) && e.session.State().Live() {
		log.Info().Str("server", rec.ID).Msg("credentials changed; live session keeps current credentials until reconnect")
	}
	return e.session.Connect(ctx)
}

// Remove disconnects and forgets the session for key, then deletes its
// metadata projection. Unknown keys are a no-op.
func (r *Registry) Remove(ctx context.Context, key string) error {
	return r.remove(ctx, key, true)
}

func (r *Registry) remove(ctx context.Context, key string, dropProjection bool) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}
	e.removed = true
	e.session.Close()

	r.mu.Lock()
	if r.entries[key] == e {
		delete(r.entries, key)
	}
	observability.SetSessionsRegistered(len(r.entries))
	r.mu.Unlock()

	log.Info().Str("server", key).Msg("session removed")
	if dropProjection && r.sink != nil {
		return r.sink.DeleteServerInfo(ctx, key)
	}
	return nil
}

// Snapshot returns the status of every registered session, sorted by key.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	sessions := make([]*RemoteSession, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.session)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Get returns the status for key.
func (r *Registry) Get(key string) (Status, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return e.session.Status(), true
}

// Close disconnects every session. Projections are kept; they are rewritten
// on the next connect.
func (r *Registry) Close(ctx context.Context) {
	for _, st := range r.Snapshot() {
		if err := r.remove(ctx, st.Key, false); err != nil {
			log.Warn().Str("server", st.Key).Err(err).Msg("failed to remove session on shutdown")
		}
	}
}
