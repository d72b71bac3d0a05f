package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/observability"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/pkg/mailer"
)

const (
	defaultNotificationQueue = 64
	notificationQueueGroup   = "assessment-notifications"
	notificationSendTimeout  = 15 * time.Second
)

// Notification is a message about an assignment addressed to its candidate.
type Notification struct {
	Kind          string `json:"kind"`
	AssignmentID  uint   `json:"assignment_id"`
	Recipient     string `json:"recipient"`
	RecipientName string `json:"recipient_name"`
	TestTitle     string `json:"test_title"`
	AccessLink    string `json:"access_link"`
	Outcome       string `json:"outcome,omitempty"`
}

// NotificationDispatcher queues notifications and delivers them on background workers.
// Dispatch never blocks and never reports delivery failures to the caller.
type NotificationDispatcher interface {
	Notifier
	Start(ctx context.Context)
	Wait()
}

// DispatcherConfig tunes the outbound queue.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	Subject   string
}

type notificationDispatcher struct {
	sender     mailer.Sender
	deliveries repository.NotificationDeliveryRepository
	nats       *nats.Conn
	subject    string
	queue      chan Notification
	workers    int
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
	wg         sync.WaitGroup
}

// NewNotificationDispatcher constructs a dispatcher. natsConn may be nil, in which case
// only the in-process queue is used.
func NewNotificationDispatcher(sender mailer.Sender, deliveries repository.NotificationDeliveryRepository, natsConn *nats.Conn, cfg DispatcherConfig, logger zerolog.Logger) NotificationDispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultNotificationQueue
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &notificationDispatcher{
		sender:     sender,
		deliveries: deliveries,
		nats:       natsConn,
		subject:    cfg.Subject,
		queue:      make(chan Notification, size),
		workers:    workers,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "notification_dispatcher").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/assessment-api/internal/service/notification"),
	}
}

func (d *notificationDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}

	if d.useNATS() {
		sub, err := d.nats.QueueSubscribe(d.subject, notificationQueueGroup, func(msg *nats.Msg) {
			var notification Notification
			if err := json.Unmarshal(msg.Data, &notification); err != nil {
				d.logger.Warn().Err(err).Msg("invalid notification payload on nats")
				return
			}
			d.enqueue(ctx, notification)
		})
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to subscribe to nats notification subject")
			return
		}

		go func() {
			<-ctx.Done()
			if err := sub.Drain(); err != nil {
				d.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
			}
		}()
	}
}

// Wait blocks until every worker has exited after the Start context is done.
func (d *notificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *notificationDispatcher) Dispatch(ctx context.Context, notification Notification) {
	if d.useNATS() && d.nats.IsConnected() {
		payload, err := json.Marshal(notification)
		if err == nil {
			if err = d.nats.Publish(d.subject, payload); err == nil {
				return
			}
		}
		d.logger.Warn().Err(err).Msg("nats publish failed, using local queue")
	}

	d.enqueue(ctx, notification)
}

func (d *notificationDispatcher) useNATS() bool {
	return d.nats != nil && d.subject != ""
}

func (d *notificationDispatcher) enqueue(ctx context.Context, notification Notification) {
	select {
	case d.queue <- notification:
	default:
		d.logger.Warn().
			Str("kind", notification.Kind).
			Uint("assignment_id", notification.AssignmentID).
			Msg("notification queue full, dropping message")
		observability.Notifications().WithLabelValues(notification.Kind, models.DeliveryStatusDropped).Inc()
		recordCtx := context.WithoutCancel(ctx)
		go d.record(recordCtx, notification, models.DeliveryStatusDropped, "queue full")
	}
}

func (d *notificationDispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-d.queue:
			d.deliver(context.WithoutCancel(ctx), notification)
		}
	}
}

func (d *notificationDispatcher) deliver(ctx context.Context, notification Notification) {
	ctx, span := d.tracer.Start(ctx, "notifications.deliver", trace.WithAttributes(
		attribute.String("notification.kind", notification.Kind),
		attribute.Int64("notification.assignment_id", int64(notification.AssignmentID)),
	))
	defer span.End()

	msg, err := d.render(notification)
	if err != nil {
		span.RecordError(err)
		d.finish(ctx, notification, models.DeliveryStatusFailed, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, notificationSendTimeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, msg); err != nil {
		span.RecordError(err)
		d.finish(ctx, notification, models.DeliveryStatusFailed, err)
		return
	}

	d.finish(ctx, notification, models.DeliveryStatusSent, nil)
}

func (d *notificationDispatcher) finish(ctx context.Context, notification Notification, status string, err error) {
	observability.Notifications().WithLabelValues(notification.Kind, status).Inc()

	message := ""
	event := d.logger.Info()
	if err != nil {
		message = err.Error()
		event = d.logger.Warn().Err(err)
	}
	event.Str("kind", notification.Kind).
		Uint("assignment_id", notification.AssignmentID).
		Str("recipient", maskRecipient(notification.Recipient)).
		Str("status", status).
		Msg("notification processed")

	d.record(ctx, notification, status, message)
}

func (d *notificationDispatcher) record(ctx context.Context, notification Notification, status, message string) {
	if d.deliveries == nil {
		return
	}
	delivery := models.NotificationDelivery{
		AssignmentID: notification.AssignmentID,
		Kind:         notification.Kind,
		Recipient:    notification.Recipient,
		Status:       status,
		Error:        message,
	}
	if err := d.deliveries.Create(ctx, &delivery); err != nil {
		d.logger.Error().Err(err).Uint("assignment_id", notification.AssignmentID).Msg("failed to record notification delivery")
	}
}

func (d *notificationDispatcher) render(notification Notification) (mailer.Message, error) {
	recipient := strings.TrimSpace(notification.Recipient)
	if recipient == "" {
		return mailer.Message{}, fmt.Errorf("notification for assignment %d has no recipient", notification.AssignmentID)
	}

	name := d.sanitizer.Sanitize(notification.RecipientName)
	title := d.sanitizer.Sanitize(notification.TestTitle)
	link := d.sanitizer.Sanitize(notification.AccessLink)

	switch notification.Kind {
	case models.NotificationKindInvitation:
		return mailer.Message{
			To:      recipient,
			Subject: fmt.Sprintf("You are invited to the %s assessment", notification.TestTitle),
			HTMLBody: fmt.Sprintf(
				"<p>Hi %s,</p><p>You have been invited to complete <strong>%s</strong>.</p><p><a href=\"%s\">Open your assessment</a></p>",
				name, title, link,
			),
			TextBody: fmt.Sprintf("Hi %s,\n\nYou have been invited to complete %s.\nOpen your assessment: %s\n",
				notification.RecipientName, notification.TestTitle, notification.AccessLink),
		}, nil
	case models.NotificationKindGraded:
		outcome := d.sanitizer.Sanitize(notification.Outcome)
		return mailer.Message{
			To:      recipient,
			Subject: fmt.Sprintf("Your %s submission has been graded", notification.TestTitle),
			HTMLBody: fmt.Sprintf(
				"<p>Hi %s,</p><p>Grading for <strong>%s</strong> finished with result: <strong>%s</strong>.</p><p><a href=\"%s\">View details</a></p>",
				name, title, outcome, link,
			),
			TextBody: fmt.Sprintf("Hi %s,\n\nGrading for %s finished with result: %s.\nView details: %s\n",
				notification.RecipientName, notification.TestTitle, notification.Outcome, notification.AccessLink),
		}, nil
	default:
		return mailer.Message{}, fmt.Errorf("unknown notification kind %q", notification.Kind)
	}
}

func maskRecipient(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	if len(local) <= 2 {
		return local[:1] + "***@" + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + "@" + domain
}
