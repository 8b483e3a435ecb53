package push

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
)

var (
	errStreamEnded     = errors.New("push: listen stream ended")
	errIdentityChanged = errors.New("push: device identity changed")
)

// Listener keeps the backbone listen stream open and hands every delivery
// to handle. handle must not block.
type Listener struct {
	backbone Backbone
	identity func() (model.DeviceIdentity, bool, <-chan struct{})
	handle   func(Delivery)

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewListener creates a listener for the identity owned by m.
func NewListener(backbone Backbone, m *Manager, handle func(Delivery), initialBackoff, maxBackoff time.Duration) *Listener {
	return &Listener{
		backbone:       backbone,
		identity:       m.watchIdentity,
		handle:         handle,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

func (l *Listener) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if l.initialBackoff > 0 {
		b.InitialInterval = l.initialBackoff
	}
	if l.maxBackoff > 0 {
		b.MaxInterval = l.maxBackoff
	}
	b.MaxElapsedTime = 0
	return b
}

// Run listens until ctx is done, reconnecting with exponential backoff.
// The backoff resets once a connection has delivered a message. When the
// device identity changes the open stream is closed and redialled under
// the new identity.
func (l *Listener) Run(ctx context.Context) {
	log.Info().Msg("starting push listener")
	b := l.newBackOff()

	op := func() error {
		identity, ok, changed := l.identity()
		if !ok {
			select {
			case <-changed:
				b.Reset()
				return errIdentityChanged
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-changed:
				cancel()
			case <-streamCtx.Done():
			}
		}()

		var delivered atomic.Bool
		err := l.backbone.Listen(streamCtx, identity, func(d Delivery) {
			if delivered.CompareAndSwap(false, true) {
				b.Reset()
			}
			l.handle(d)
		})
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		select {
		case <-changed:
			b.Reset()
			log.Info().Str("previous_fingerprint", Fingerprint(identity)[:12]).Msg("device identity changed; redialling listen stream")
			return errIdentityChanged
		default:
		}
		if err == nil {
			err = errStreamEnded
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("push listen stream dropped")
	}

	_ = backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	log.Info().Msg("push listener stopped")
}
