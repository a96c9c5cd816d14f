package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"labreserve-backend/internal/engine"
	"labreserve-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers relaying engine events to push
// subscribers. It implements engine.Sink: Emit never blocks, and a
// dropped or failed delivery never affects the committed transaction
// that produced the event.
type WorkerPool struct {
	size    int
	jobs    chan engine.Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan engine.Event, size*4),
		db:      db,
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

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.process(ctx, ev)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Emit queues an event for delivery, dropping it if the queue is full.
func (wp *WorkerPool) Emit(ev engine.Event) {
	select {
	case wp.jobs <- ev:
	default:
		log.Printf("Notification queue full, dropping %s event for computer %d", ev.Type, ev.ComputerID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan engine.Event {
	return wp.jobs
}

// process turns an event into push messages for the computer's
// subscribers. Events that carry no subscriber-facing message are
// dropped silently.
func (wp *WorkerPool) process(ctx context.Context, ev engine.Event) {
	var template string
	switch ev.Type {
	case engine.EventComputerAvailable:
		template = "Computer %s is now available!"
	case engine.EventFaultReported:
		template = "Computer %s was reported faulty."
	default:
		return
	}

	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_computer_mapping scm ON scm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("scm.computer_id = ?", ev.ComputerID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for computer %d: %v", ev.ComputerID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d notifications for computer %d (%s)", len(subscriptions), ev.ComputerID, ev.Type)

	var comp model.Computer
	label := fmt.Sprintf("%d", ev.ComputerID)
	if err := wp.db.WithContext(ctx).
		Select("asset_tag").
		First(&comp, ev.ComputerID).Error; err != nil {
		log.Printf("Error fetching computer %d: %v", ev.ComputerID, err)
	} else if comp.AssetTag != "" {
		label = comp.AssetTag
	}

	message := fmt.Sprintf(template, label)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
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
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
