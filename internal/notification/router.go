package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lydonator/rust-plus-web-sub002/internal/events"
	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/observability"
	"github.com/lydonator/rust-plus-web-sub002/internal/push"
	"github.com/lydonator/rust-plus-web-sub002/internal/store"
)

// RouterStore is the persistence the router writes to.
type RouterStore interface {
	UserByPlayerID(ctx context.Context, playerID int64) (*model.User, error)
	UpsertServerByAddress(ctx context.Context, rec model.ServerRecord) (*model.ServerRecord, error)
	InsertNotification(ctx context.Context, n model.Notification) error
}

// Dispatcher fans a notification out to the user's browsers.
type Dispatcher interface {
	Dispatch(job Job)
}

// Router turns push deliveries into store mutations. Submit never blocks:
// deliveries go through a bounded queue and, when it is full, the oldest
// queued delivery is dropped.
type Router struct {
	store   RouterStore
	bus     *events.Bus
	fanout  Dispatcher
	workers int

	mu     sync.Mutex
	queue  chan push.Delivery
	closed bool
	wg     sync.WaitGroup
}

// NewRouter creates a router. bus and fanout may be nil.
func NewRouter(store RouterStore, bus *events.Bus, fanout Dispatcher, queueSize, workers int) *Router {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Router{
		store:   store,
		bus:     bus,
		fanout:  fanout,
		workers: workers,
		queue:   make(chan push.Delivery, queueSize),
	}
}

// Start launches the dispatch workers.
func (r *Router) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for d := range r.queue {
				r.Handle(ctx, d)
			}
		}()
	}
}

// Submit enqueues d without blocking.
func (r *Router) Submit(d push.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.queue <- d:
			return
		default:
		}
		select {
		case old := <-r.queue:
			observability.RecordRouterDrop()
			log.Warn().Str("delivery_id", old.ID).Msg("router queue full; dropped oldest delivery")
		default:
		}
	}
}

// Close stops accepting deliveries and waits for queued ones to be handled.
func (r *Router) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Handle processes one delivery synchronously.
func (r *Router) Handle(ctx context.Context, d push.Delivery) {
	ev, err := Classify(d)
	if err != nil {
		var mpe *MalformedPayloadError
		kind := KindGeneric
		if errors.As(err, &mpe) {
			kind = mpe.Kind
		}
		observability.RecordNotification(string(kind), "malformed")
		log.Warn().Str("delivery_id", d.ID).Err(err).Msg("dropping malformed delivery")
		return
	}
	kind := string(ev.Kind())

	user, err := r.store.UserByPlayerID(ctx, ev.PlayerID)
	if errors.Is(err, store.ErrNotFound) {
		observability.RecordNotification(kind, "unknown_user")
		log.Warn().Str("delivery_id", d.ID).Int64("player_id", ev.PlayerID).Msg("no user for player id; dropping delivery")
		return
	}
	if err != nil {
		observability.RecordNotification(kind, "store_error")
		log.Error().Str("delivery_id", d.ID).Err(err).Msg("failed to resolve user")
		return
	}

	if ev.Pairing != nil {
		err = r.pair(ctx, user, ev)
	} else {
		err = r.notify(ctx, user, ev)
	}
	if err != nil {
		observability.RecordNotification(kind, "store_error")
		log.Error().Str("delivery_id", d.ID).Str("user", user.ID).Err(err).Msg("failed to apply delivery")
		return
	}
	observability.RecordNotification(kind, "ok")
}

func (r *Router) pair(ctx context.Context, user *model.User, ev Event) error {
	p := ev.Pairing
	rec, err := r.store.UpsertServerByAddress(ctx, model.ServerRecord{
		UserID:      user.ID,
		Host:        p.Host,
		Port:        p.Port,
		PlayerID:    p.PlayerID,
		PlayerToken: p.PlayerToken,
		Name:        p.Name,
	})
	if err != nil {
		return err
	}
	log.Info().Str("user", user.ID).Str("server", rec.ID).Str("address", rec.Address()).Msg("server paired")
	return nil
}

func (r *Router) notify(ctx context.Context, user *model.User, ev Event) error {
	g := ev.Generic
	n := model.Notification{
		UserID:     user.ID,
		Title:      g.Title,
		Body:       g.Body,
		Raw:        g.Raw,
		DeliveryID: ev.DeliveryID,
		ReceivedAt: time.Now().UTC(),
	}
	if err := r.store.InsertNotification(ctx, n); err != nil {
		return err
	}

	if r.bus != nil {
		r.bus.PublishNotification(events.NotificationReceived{
			UserID:     user.ID,
			Title:      g.Title,
			Body:       g.Body,
			DeliveryID: ev.DeliveryID,
		})
	}
	if r.fanout != nil {
		payload, err := json.Marshal(map[string]string{"title": g.Title, "body": g.Body})
		if err == nil {
			r.fanout.Dispatch(Job{UserID: user.ID, Payload: payload})
		}
	}
	return nil
}
