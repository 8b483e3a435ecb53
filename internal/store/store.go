package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the interface for all database operations.
type Store interface {
	ListServers(ctx context.Context) ([]model.ServerRecord, error)
	GetServer(ctx context.Context, id string) (*model.ServerRecord, error)
	UpsertServerByAddress(ctx context.Context, rec model.ServerRecord) (*model.ServerRecord, error)

	SaveServerInfo(ctx context.Context, info model.ServerInfo) error
	GetServerInfo(ctx context.Context, serverID string) (*model.ServerInfo, error)
	DeleteServerInfo(ctx context.Context, serverID string) error

	GetUser(ctx context.Context, id string) (*model.User, error)
	UserByPlayerID(ctx context.Context, playerID int64) (*model.User, error)

	LoadDeviceIdentity(ctx context.Context) (*model.DeviceIdentity, error)
	SaveDeviceIdentity(ctx context.Context, identity model.DeviceIdentity) error
	GetForwardingRegistration(ctx context.Context, userID string) (*model.ForwardingRegistration, error)
	SaveForwardingRegistration(ctx context.Context, reg model.ForwardingRegistration) error

	InsertNotification(ctx context.Context, n model.Notification) error

	ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	SavePushSubscription(ctx context.Context, sub model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ListServers returns the full desired server set.
func (s *gormStore) ListServers(ctx context.Context) ([]model.ServerRecord, error) {
	var servers []model.ServerRecord
	if err := s.db.WithContext(ctx).Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

func (s *gormStore) GetServer(ctx context.Context, id string) (*model.ServerRecord, error) {
	var rec model.ServerRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// UpsertServerByAddress inserts rec or, when the owner already has a server
// at the same address, overwrites its credentials and name in place. The
// stored row is returned; its ID is stable across updates.
func (s *gormStore) UpsertServerByAddress(ctx context.Context, rec model.ServerRecord) (*model.ServerRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	updates := []string{"player_id", "player_token", "updated_at"}
	if rec.Name != "" {
		updates = append(updates, "name")
	}

	var stored model.ServerRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "host"}, {Name: "port"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&rec).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND host = ? AND port = ?", rec.UserID, rec.Host, rec.Port).
			First(&stored).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert server %s for user %s: %w", rec.Address(), rec.UserID, err)
	}
	return &stored, nil
}

func (s *gormStore) SaveServerInfo(ctx context.Context, info model.ServerInfo) error {
	if err := s.db.WithContext(ctx).Save(&info).Error; err != nil {
		return fmt.Errorf("failed to save server info %s: %w", info.ServerID, err)
	}
	return nil
}

func (s *gormStore) GetServerInfo(ctx context.Context, serverID string) (*model.ServerInfo, error) {
	var info model.ServerInfo
	if err := s.db.WithContext(ctx).First(&info, "server_id = ?", serverID).Error; err != nil {
		return nil, notFound(err)
	}
	return &info, nil
}

func (s *gormStore) DeleteServerInfo(ctx context.Context, serverID string) error {
	if err := s.db.WithContext(ctx).Delete(&model.ServerInfo{}, "server_id = ?", serverID).Error; err != nil {
		return fmt.Errorf("failed to delete server info %s: %w", serverID, err)
	}
	return nil
}

func (s *gormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *gormStore) UserByPlayerID(ctx context.Context, playerID int64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "player_id = ?", playerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *gormStore) LoadDeviceIdentity(ctx context.Context) (*model.DeviceIdentity, error) {
	var identity model.DeviceIdentity
	if err := s.db.WithContext(ctx).First(&identity, model.DeviceIdentityID).Error; err != nil {
		return nil, notFound(err)
	}
	return &identity, nil
}

func (s *gormStore) SaveDeviceIdentity(ctx context.Context, identity model.DeviceIdentity) error {
	identity.ID = model.DeviceIdentityID
	if err := s.db.WithContext(ctx).Save(&identity).Error; err != nil {
		return fmt.Errorf("failed to save device identity: %w", err)
	}
	return nil
}

func (s *gormStore) GetForwardingRegistration(ctx context.Context, userID string) (*model.ForwardingRegistration, error) {
	var reg model.ForwardingRegistration
	if err := s.db.WithContext(ctx).First(&reg, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &reg, nil
}

func (s *gormStore) SaveForwardingRegistration(ctx context.Context, reg model.ForwardingRegistration) error {
	now := time.Now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"forwarding_token", "fingerprint", "updated_at"}),
	}).Create(&reg).Error; err != nil {
		return fmt.Errorf("failed to save forwarding registration for user %s: %w", reg.UserID, err)
	}
	return nil
}

func (s *gormStore) InsertNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("failed to insert notification for user %s: %w", n.UserID, err)
	}
	return nil
}

func (s *gormStore) ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

func (s *gormStore) SavePushSubscription(ctx context.Context, sub model.PushSubscription) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(&sub).Error; err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete push subscription %s: %w", endpoint, err)
	}
	return nil
}
