package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/pkg/mailer"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []mailer.Message
	err      error
}

func (s *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func invitation(assignmentID uint) Notification {
	return Notification{
		Kind:          models.NotificationKindInvitation,
		AssignmentID:  assignmentID,
		Recipient:     "ada@example.com",
		RecipientName: "Ada",
		TestTitle:     "Todo app",
		AccessLink:    "https://assess.test/assessment/abc",
	}
}

func waitForDeliveries(t *testing.T, deliveries repository.NotificationDeliveryRepository, assignmentID uint, count int) []models.NotificationDelivery {
	t.Helper()
	var items []models.NotificationDelivery
	require.Eventually(t, func() bool {
		var err error
		items, err = deliveries.ListByAssignment(context.Background(), assignmentID)
		return err == nil && len(items) == count
	}, 2*time.Second, 10*time.Millisecond)
	return items
}

func TestDispatcherDeliversAndRecords(t *testing.T) {
	deliveries := repository.NewNotificationDeliveryRepository(setupServiceDB(t))
	sender := &fakeSender{}
	dispatcher := NewNotificationDispatcher(sender, deliveries, nil, DispatcherConfig{QueueSize: 4, Workers: 2}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	dispatcher.Dispatch(ctx, invitation(7))
	items := waitForDeliveries(t, deliveries, 7, 1)
	require.Equal(t, models.DeliveryStatusSent, items[0].Status)
	require.Equal(t, "ada@example.com", items[0].Recipient)
	require.Equal(t, 1, sender.count())

	cancel()
	dispatcher.Wait()
}

func TestDispatcherRecordsSendFailures(t *testing.T) {
	deliveries := repository.NewNotificationDeliveryRepository(setupServiceDB(t))
	sender := &fakeSender{err: errors.New("smtp unavailable")}
	dispatcher := NewNotificationDispatcher(sender, deliveries, nil, DispatcherConfig{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	dispatcher.Dispatch(ctx, invitation(8))
	noRecipient := invitation(8)
	noRecipient.Recipient = " "
	dispatcher.Dispatch(ctx, noRecipient)

	items := waitForDeliveries(t, deliveries, 8, 2)
	for _, item := range items {
		require.Equal(t, models.DeliveryStatusFailed, item.Status)
		require.NotEmpty(t, item.Error)
	}
}

func TestDispatcherDropsWhenQueueIsFull(t *testing.T) {
	deliveries := repository.NewNotificationDeliveryRepository(setupServiceDB(t))
	sender := &fakeSender{}
	dispatcher := NewNotificationDispatcher(sender, deliveries, nil, DispatcherConfig{QueueSize: 1}, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Dispatch(context.Background(), invitation(9))
		dispatcher.Dispatch(context.Background(), invitation(9))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full queue")
	}

	items := waitForDeliveries(t, deliveries, 9, 1)
	require.Equal(t, models.DeliveryStatusDropped, items[0].Status)
	require.Equal(t, "queue full", items[0].Error)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	waitForDeliveries(t, deliveries, 9, 2)
	require.Equal(t, 1, sender.count(), "the queued message is still delivered")
}

func TestDispatcherRendersSanitizedBodies(t *testing.T) {
	dispatcher := NewNotificationDispatcher(&fakeSender{}, nil, nil, DispatcherConfig{}, testLogger()).(*notificationDispatcher)

	graded := invitation(10)
	graded.Kind = models.NotificationKindGraded
	graded.RecipientName = `<script>alert("x")</script>Ada`
	graded.Outcome = models.TestStatusPassed

	msg, err := dispatcher.render(graded)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", msg.To)
	require.Contains(t, msg.Subject, "graded")
	require.NotContains(t, msg.HTMLBody, "<script>")
	require.Contains(t, msg.HTMLBody, "passed")
	require.Contains(t, msg.TextBody, "https://assess.test/assessment/abc")

	unknown := invitation(10)
	unknown.Kind = "reminder"
	_, err = dispatcher.render(unknown)
	require.Error(t, err)
}

func TestMaskRecipient(t *testing.T) {
	require.Equal(t, "a***a@example.com", maskRecipient(" Ada@Example.com "))
	require.Equal(t, "j***@example.com", maskRecipient("jo@example.com"))
	require.Equal(t, "***", maskRecipient("not-an-email"))
	require.Equal(t, "", maskRecipient(""))
}
