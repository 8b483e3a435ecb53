package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/observability"
	"github.com/lydonator/rust-plus-web-sub002/internal/store"
)

// Store is the persistence the Manager needs.
type Store interface {
	LoadDeviceIdentity(ctx context.Context) (*model.DeviceIdentity, error)
	SaveDeviceIdentity(ctx context.Context, identity model.DeviceIdentity) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetForwardingRegistration(ctx context.Context, userID string) (*model.ForwardingRegistration, error)
	SaveForwardingRegistration(ctx context.Context, reg model.ForwardingRegistration) error
}

// deviceFlight is the single-flight key for lazy device registration. User
// ids are uuids and never collide with it.
const deviceFlight = "device-identity"

// Manager owns the device identity and every user's forwarding token.
// Calls for one user are single-flighted; different users run in parallel.
type Manager struct {
	store    Store
	backbone Backbone

	mu          sync.RWMutex
	identity    *model.DeviceIdentity
	fingerprint string
	changed     chan struct{}

	group  singleflight.Group
	tokens *cache.Cache
}

// NewManager creates a Manager. Call EnsureDeviceIdentity before use.
func NewManager(store Store, backbone Backbone) *Manager {
	return &Manager{
		store:    store,
		backbone: backbone,
		changed:  make(chan struct{}),
		tokens:   cache.New(time.Hour, 10*time.Minute),
	}
}

// Fingerprint hashes the registration half of a device identity. Tokens
// minted from an identity are routable only while it stays the same.
func Fingerprint(identity model.DeviceIdentity) string {
	sum := sha256.Sum256([]byte(identity.RegistrationID + ":" + identity.SecurityToken))
	return hex.EncodeToString(sum[:])
}

// DeviceIdentity returns the current identity, if one was ensured.
func (m *Manager) DeviceIdentity() (model.DeviceIdentity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return model.DeviceIdentity{}, false
	}
	return *m.identity, true
}

// watchIdentity returns the current identity together with a channel that
// is closed the next time the identity changes.
func (m *Manager) watchIdentity() (model.DeviceIdentity, bool, <-chan struct{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return model.DeviceIdentity{}, false, m.changed
	}
	return *m.identity, true, m.changed
}

func (m *Manager) current() (model.DeviceIdentity, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return model.DeviceIdentity{}, "", ErrNoDeviceIdentity
	}
	return *m.identity, m.fingerprint, nil
}

func (m *Manager) setIdentity(identity model.DeviceIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fingerprint := Fingerprint(identity)
	if m.identity != nil && m.fingerprint == fingerprint {
		return
	}
	m.identity = &identity
	m.fingerprint = fingerprint
	close(m.changed)
	m.changed = make(chan struct{})
}

// EnsureDeviceIdentity loads the stored identity or registers a new one.
func (m *Manager) EnsureDeviceIdentity(ctx context.Context) (model.DeviceIdentity, error) {
	identity, err := m.store.LoadDeviceIdentity(ctx)
	switch {
	case err == nil:
		m.setIdentity(*identity)
		log.Info().Str("fingerprint", Fingerprint(*identity)[:12]).Msg("loaded device identity")
		return *identity, nil
	case errors.Is(err, store.ErrNotFound):
		return m.register(ctx)
	default:
		return model.DeviceIdentity{}, fmt.Errorf("load device identity: %w", err)
	}
}

// RotateDeviceIdentity registers a fresh identity. Every stored forwarding
// token becomes stale and is re-minted on the user's next ensure call; a
// running Listener redials under the new identity.
func (m *Manager) RotateDeviceIdentity(ctx context.Context) (model.DeviceIdentity, error) {
	identity, err := m.register(ctx)
	if err != nil {
		return model.DeviceIdentity{}, err
	}
	m.tokens.Flush()
	return identity, nil
}

func (m *Manager) register(ctx context.Context) (model.DeviceIdentity, error) {
	keys, err := generateDeviceKeys()
	if err != nil {
		return model.DeviceIdentity{}, &RegistrationError{Op: "register", Err: err}
	}
	reg, err := m.backbone.Register(ctx, keys)
	if err != nil {
		log.Error().Err(err).Msg("device registration rejected")
		return model.DeviceIdentity{}, &RegistrationError{Op: "register", Err: err}
	}

	identity := model.DeviceIdentity{
		ID:             model.DeviceIdentityID,
		RegistrationID: reg.RegistrationID,
		SecurityToken:  reg.SecurityToken,
		PushToken:      reg.PushToken,
		PublicKey:      keys.PublicKey,
		PrivateKey:     keys.PrivateKey,
		AuthSecret:     keys.AuthSecret,
	}
	if err := m.store.SaveDeviceIdentity(ctx, identity); err != nil {
		return model.DeviceIdentity{}, fmt.Errorf("save device identity: %w", err)
	}
	m.setIdentity(identity)
	log.Info().Str("fingerprint", Fingerprint(identity)[:12]).Msg("registered device identity")
	return identity, nil
}

// EnsureForwardingToken returns a forwarding token for userID that is
// routable to the current device identity, minting and registering a new
// one when the stored token is missing or stale.
func (m *Manager) EnsureForwardingToken(ctx context.Context, userID string) (string, error) {
	v, err, _ := m.group.Do(userID, func() (any, error) {
		return m.ensureForwardingToken(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) ensureForwardingToken(ctx context.Context, userID string) (string, error) {
	identity, fingerprint, err := m.current()
	if errors.Is(err, ErrNoDeviceIdentity) {
		// Startup registration failed; this call is the retry.
		if _, err, _ := m.group.Do(deviceFlight, func() (any, error) {
			return m.EnsureDeviceIdentity(ctx)
		}); err != nil {
			return "", err
		}
		identity, fingerprint, err = m.current()
	}
	if err != nil {
		return "", err
	}

	token, err := m.storedToken(ctx, userID, fingerprint)
	switch {
	case err == nil:
		observability.RecordPushRegistration("cached")
		return token, nil
	case errors.Is(err, ErrCredentialStale):
		log.Info().Str("user", userID).Msg("forwarding token missing or stale; minting")
	default:
		return "", err
	}

	token, err = m.mint(ctx, identity, fingerprint, userID)
	if err != nil {
		observability.RecordPushRegistration("failed")
		log.Error().Str("user", userID).Err(err).Msg("forwarding registration failed")
		return "", err
	}
	observability.RecordPushRegistration("minted")
	return token, nil
}

// storedToken returns the user's token if it was minted under fingerprint,
// ErrCredentialStale if it is missing or was minted under another identity.
func (m *Manager) storedToken(ctx context.Context, userID, fingerprint string) (string, error) {
	if v, ok := m.tokens.Get(userID); ok {
		if reg := v.(model.ForwardingRegistration); reg.Fingerprint == fingerprint {
			return reg.ForwardingToken, nil
		}
	}

	reg, err := m.store.GetForwardingRegistration(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrCredentialStale
	}
	if err != nil {
		return "", fmt.Errorf("load forwarding registration: %w", err)
	}
	if reg.Fingerprint != fingerprint {
		return "", ErrCredentialStale
	}
	m.tokens.SetDefault(userID, *reg)
	return reg.ForwardingToken, nil
}

func (m *Manager) mint(ctx context.Context, identity model.DeviceIdentity, fingerprint, userID string) (string, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}

	token, err := m.backbone.Mint(ctx, identity, user.VendorAuthToken)
	if err != nil {
		return "", &RegistrationError{Op: "mint", UserID: userID, Err: err}
	}
	if err := m.backbone.RegisterForwarding(ctx, user.VendorAuthToken, token); err != nil {
		return "", &RegistrationError{Op: "forward", UserID: userID, Err: err}
	}

	reg := model.ForwardingRegistration{
		UserID:          userID,
		ForwardingToken: token,
		Fingerprint:     fingerprint,
	}
	if err := m.store.SaveForwardingRegistration(ctx, reg); err != nil {
		return "", fmt.Errorf("save forwarding registration: %w", err)
	}
	m.tokens.SetDefault(userID, reg)
	return token, nil
}
