package pubsub

import (
	"context"
	"testing"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/queues"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriber_SkipsOwnOrigin(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, closeFn := newTestClient(t)
	defer closeFn()

	topic, err := client.CreateTopic(ctx, "allocations")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "server-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	s := &Subscriber{projectID: "test-project", subscriptionName: "server-sub", origin: "server", client: client, sub: sub, ready: make(chan struct{})}
	got := make(chan *queues.AllocationRecord, 4)
	go func() {
		_ = s.Start(ctx, func(ctx context.Context, rec *queues.AllocationRecord) error {
			got <- rec
			return nil
		})
	}()
	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never became ready")
	}

	self := &Publisher{projectID: "test-project", topicName: "allocations", origin: "server", client: client, topic: topic}
	peer := &Publisher{projectID: "test-project", topicName: "allocations", origin: "client-1", client: client, topic: topic}
	require.NoError(t, self.Publish(ctx, record("echo", allocation.StateScheduled)))
	require.NoError(t, peer.Publish(ctx, record("req", allocation.StateRequested)))

	select {
	case rec := <-got:
		assert.Equal(t, "req", rec.ID)
		assert.Equal(t, allocation.StateRequested, rec.State)
	case <-time.After(5 * time.Second):
		t.Fatal("no record delivered")
	}
	select {
	case rec := <-got:
		t.Errorf("unexpected delivery %#v", rec)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscriber_MissingSubscription(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}

	client, closeFn := newTestClient(t)
	defer closeFn()

	s := &Subscriber{projectID: "test-project", subscriptionName: "nope", client: client, ready: make(chan struct{})}
	err := s.Start(context.Background(), func(context.Context, *queues.AllocationRecord) error { return nil })
	assert.Error(t, err)
	select {
	case <-s.Ready():
		t.Error("ready closed for missing subscription")
	default:
	}
}
