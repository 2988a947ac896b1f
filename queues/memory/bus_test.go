package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"arbitration-service/queues"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func started(t *testing.T, ctx context.Context, e *Endpoint, handler queues.Handler) {
	t.Helper()
	go func() { _ = e.Start(ctx, handler) }()
	select {
	case <-e.Ready():
	case <-time.After(time.Second):
		t.Fatal("endpoint never became ready")
	}
}

func collect(ch chan *queues.AllocationRecord) queues.Handler {
	return func(ctx context.Context, rec *queues.AllocationRecord) error {
		ch <- rec
		return nil
	}
}

func TestBus_FanOutSkipsSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus(DefaultConfig())

	server, a, b := bus.Endpoint("server"), bus.Endpoint("a"), bus.Endpoint("b")
	serverGot, aGot, bGot := make(chan *queues.AllocationRecord, 4), make(chan *queues.AllocationRecord, 4), make(chan *queues.AllocationRecord, 4)
	started(t, ctx, server, collect(serverGot))
	started(t, ctx, a, collect(aGot))
	started(t, ctx, b, collect(bGot))

	require.NoError(t, server.Publish(ctx, &queues.AllocationRecord{ID: "x", ResourceIDs: []string{"/r"}}))

	tests := []struct {
		name string
		ch   chan *queues.AllocationRecord
		want bool
	}{
		{"a receives", aGot, true},
		{"b receives", bGot, true},
		{"sender skipped", serverGot, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			select {
			case rec := <-tt.ch:
				if !tt.want {
					t.Errorf("unexpected delivery %#v", rec)
				}
				assert.Equal(t, "x", rec.ID)
			case <-time.After(100 * time.Millisecond):
				if tt.want {
					t.Error("record not delivered")
				}
			}
		})
	}
}

func TestBus_DeliveriesAreIndependentCopies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus(DefaultConfig())
	sender, receiver := bus.Endpoint("s"), bus.Endpoint("r")
	got := make(chan *queues.AllocationRecord, 1)
	started(t, ctx, receiver, collect(got))

	rec := &queues.AllocationRecord{ID: "x", ResourceIDs: []string{"/r"}}
	require.NoError(t, sender.Publish(ctx, rec))
	rec.ResourceIDs[0] = "/changed"

	delivered := <-got
	assert.Equal(t, "/r", delivered.ResourceIDs[0])
}

func TestBus_PreservesOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus(DefaultConfig())
	sender, receiver := bus.Endpoint("s"), bus.Endpoint("r")
	got := make(chan *queues.AllocationRecord, 64)
	started(t, ctx, receiver, collect(got))

	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		require.NoError(t, sender.Publish(ctx, &queues.AllocationRecord{ID: id}))
	}
	for _, want := range ids {
		assert.Equal(t, want, (<-got).ID)
	}
}

func TestBus_RetriesFailingHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus(Config{MaxRetries: 2, RetryDelay: time.Millisecond})
	sender, receiver := bus.Endpoint("s"), bus.Endpoint("r")

	var calls atomic.Int32
	done := make(chan struct{})
	started(t, ctx, receiver, func(ctx context.Context, rec *queues.AllocationRecord) error {
		if calls.Add(1) < 3 {
			return errors.New("busy")
		}
		close(done)
		return nil
	})
	require.NoError(t, sender.Publish(ctx, &queues.AllocationRecord{ID: "x"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never succeeded")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestBus_UnstartedEndpointReceivesNothing(t *testing.T) {
	bus := NewBus(DefaultConfig())
	sender, idle := bus.Endpoint("s"), bus.Endpoint("idle")
	require.NoError(t, sender.Publish(context.Background(), &queues.AllocationRecord{ID: "x"}))
	assert.Len(t, idle.inbox, 0)
}

func TestBus_HandlerSeesSenderOrigin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus(DefaultConfig())

	server, client := bus.Endpoint("server-1"), bus.Endpoint("client")
	origins := make(chan string, 1)
	started(t, ctx, client, func(ctx context.Context, rec *queues.AllocationRecord) error {
		origin, _ := queues.Origin(ctx)
		origins <- origin
		return nil
	})

	require.NoError(t, server.Publish(ctx, &queues.AllocationRecord{ID: "x", ResourceIDs: []string{"/r"}}))
	select {
	case got := <-origins:
		assert.Equal(t, "server-1", got)
	case <-time.After(time.Second):
		t.Fatal("record not delivered")
	}
}
