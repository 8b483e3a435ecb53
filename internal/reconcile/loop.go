package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/observability"
	"github.com/lydonator/rust-plus-web-sub002/internal/session"
)

// ServerLister reads the desired set.
type ServerLister interface {
	ListServers(ctx context.Context) ([]model.ServerRecord, error)
}

// Sessions is the part of the session registry the loop drives.
type Sessions interface {
	Ensure(ctx context.Context, rec model.ServerRecord) error
	Remove(ctx context.Context, key string) error
	Snapshot() []session.Status
}

// Result summarises one pass.
type Result struct {
	Desired  int
	Ensured  int
	Removed  int
	Failures int
}

// Loop converges the session registry onto the stored server records.
type Loop struct {
	store          ServerLister
	sessions       Sessions
	interval       time.Duration
	maxConcurrency int

	running atomic.Bool
	passes  sync.WaitGroup
}

// NewLoop creates a loop that runs a pass every interval with at most
// maxConcurrency key operations in flight.
func NewLoop(store ServerLister, sessions Sessions, interval time.Duration, maxConcurrency int) *Loop {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Loop{
		store:          store,
		sessions:       sessions,
		interval:       interval,
		maxConcurrency: maxConcurrency,
	}
}

// Run executes a pass immediately and then on every tick until ctx is done.
// A tick that fires while a pass is still running is skipped. Run returns
// once the in-flight pass, if any, has finished.
func (l *Loop) Run(ctx context.Context) {
	log.Info().Dur("interval", l.interval).Msg("starting reconciliation loop")
	defer l.passes.Wait()

	l.tick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciliation loop shutting down")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick starts a pass in the background; RunOnce rejects overlapping passes.
func (l *Loop) tick(ctx context.Context) {
	l.passes.Add(1)
	go func() {
		defer l.passes.Done()
		l.runLogged(ctx)
	}()
}

func (l *Loop) runLogged(ctx context.Context) {
	if _, err := l.RunOnce(ctx); err != nil && !errors.Is(err, ErrPassRunning) {
		log.Error().Err(err).Msg("reconciliation pass aborted; sessions left untouched")
	}
}

// RunOnce performs a single pass. It returns ErrPassRunning without doing
// anything when another pass is in progress.
func (l *Loop) RunOnce(ctx context.Context) (Result, error) {
	if !l.running.CompareAndSwap(false, true) {
		observability.RecordReconcileSkipped()
		log.Warn().Msg("previous reconciliation pass still running; skipping tick")
		return Result{}, ErrPassRunning
	}
	defer l.running.Store(false)

	res, err := l.pass(ctx)
	if err != nil {
		observability.RecordReconcilePass("store_error")
		return res, err
	}
	observability.RecordReconcilePass("ok")
	log.Debug().
		Int("desired", res.Desired).
		Int("ensured", res.Ensured).
		Int("removed", res.Removed).
		Int("failures", res.Failures).
		Msg("reconciliation pass finished")
	return res, nil
}

func (l *Loop) pass(ctx context.Context) (Result, error) {
	desired, err := l.store.ListServers(ctx)
	if err != nil {
		// Abort before touching the registry so a store outage never
		// disconnects live sessions.
		return Result{}, &ReconciliationError{Err: err}
	}

	current := make(map[string]session.Status)
	for _, st := range l.sessions.Snapshot() {
		current[st.Key] = st
	}

	wanted := make(map[string]struct{}, len(desired))
	var toEnsure []model.ServerRecord
	for _, rec := range desired {
		wanted[rec.ID] = struct{}{}
		if st, ok := current[rec.ID]; ok && st.State.Live() {
			continue
		}
		toEnsure = append(toEnsure, rec)
	}
	var toRemove []string
	for key := range current {
		if _, ok := wanted[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}

	res := Result{Desired: len(desired), Ensured: len(toEnsure), Removed: len(toRemove)}
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.maxConcurrency)
	for _, key := range toRemove {
		g.Go(func() error {
			if err := l.sessions.Remove(gctx, key); err != nil {
				log.Warn().Str("server", key).Err(err).Msg("failed to remove session")
			}
			return nil
		})
	}
	for _, rec := range toEnsure {
		g.Go(func() error {
			if err := l.sessions.Ensure(gctx, rec); err != nil {
				failures.Add(1)
				log.Warn().Str("server", rec.ID).Str("address", rec.Address()).Err(err).Msg("session connect failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Failures = int(failures.Load())
	return res, nil
}
