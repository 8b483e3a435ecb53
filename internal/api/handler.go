package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/lydonator/rust-plus-web-sub002/internal/events"
	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/session"
	"github.com/lydonator/rust-plus-web-sub002/internal/store"
)

// SessionSource exposes the live session registry.
type SessionSource interface {
	Snapshot() []session.Status
	Get(key string) (session.Status, bool)
}

// PushCredentials manages the device identity and per-user forwarding tokens.
type PushCredentials interface {
	EnsureForwardingToken(ctx context.Context, userID string) (string, error)
	RotateDeviceIdentity(ctx context.Context) (model.DeviceIdentity, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	sessions SessionSource
	push     PushCredentials
	bus      *events.Bus
	webpush  *webpush.Options
}

// NewHandler creates a new API handler. Any dependency may be nil; the
// routes that need it answer 503.
func NewHandler(s store.Store, sessions SessionSource, credentials PushCredentials, bus *events.Bus, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		sessions: sessions,
		push:     credentials,
		bus:      bus,
		webpush:  webpushOptions,
	}
}
