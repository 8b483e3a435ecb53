package notification

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"github.com/lydonator/rust-plus-web-sub002/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends through webpush-go.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore lists and prunes browser subscriptions.
type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// Job is one payload to deliver to every browser of a user.
type Job struct {
	UserID  string
	Payload []byte
}

// WorkerPool delivers generic notifications to browser subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, store SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*16),
		store:   store,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("fan-out worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForUser(ctx, job)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("fan-out worker shutting down")
			return
		}
	}
}

// Dispatch queues a job. A full queue drops the job; browser delivery is
// best effort.
func (wp *WorkerPool) Dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		log.Warn().Str("user", job.UserID).Msg("fan-out queue full; dropping browser notification")
	}
}

func (wp *WorkerPool) sendNotificationsForUser(ctx context.Context, job Job) {
	subscriptions, err := wp.store.ListPushSubscriptions(ctx, job.UserID)
	if err != nil {
		log.Error().Str("user", job.UserID).Err(err).Msg("failed to load push subscriptions")
		return
	}
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, job.Payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Warn().Str("endpoint", sub.Endpoint).Err(err).Msg("failed to send browser notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired; deleting")
		if err := wp.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			log.Error().Str("endpoint", sub.Endpoint).Err(err).Msg("failed to delete expired subscription")
		}
	}
}
