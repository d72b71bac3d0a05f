package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
)

func receive(t *testing.T, events <-chan dto.StatusEvent) dto.StatusEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status event")
		return dto.StatusEvent{}
	}
}

func requireSilent(t *testing.T, events <-chan dto.StatusEvent) {
	t.Helper()
	select {
	case event := <-events:
		t.Fatalf("unexpected event %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatusStreamDeliversPerAssignment(t *testing.T) {
	stream := NewStatusStream(nil, "", testLogger())

	events, cleanup := stream.Subscribe(1)
	others, cleanupOthers := stream.Subscribe(2)
	defer cleanupOthers()

	stream.Publish(context.Background(), dto.StatusEvent{AssignmentID: 1, SubmissionID: 5, TestStatus: models.TestStatusRunning})

	event := receive(t, events)
	require.Equal(t, uint(5), event.SubmissionID)
	requireSilent(t, others)

	cleanup()
	cleanup()
	_, open := <-events
	require.False(t, open)
}

func TestStatusStreamFansOutAcrossNodes(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	clientA := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer clientB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewStatusStream(clientA, "test:status", testLogger())
	nodeB := NewStatusStream(clientB, "test:status", testLogger())
	nodeA.Start(ctx)
	nodeB.Start(ctx)

	require.Eventually(t, func() bool {
		return server.PubSubNumSub("test:status")["test:status"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	local, cleanupLocal := nodeA.Subscribe(3)
	defer cleanupLocal()
	remote, cleanupRemote := nodeB.Subscribe(3)
	defer cleanupRemote()

	nodeA.Publish(ctx, dto.StatusEvent{AssignmentID: 3, SubmissionID: 11, TestStatus: models.TestStatusPassed})

	require.Equal(t, models.TestStatusPassed, receive(t, remote).TestStatus)
	require.Equal(t, uint(11), receive(t, local).SubmissionID)
	requireSilent(t, local)
}
