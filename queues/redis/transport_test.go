package redis

import (
	"context"
	"testing"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"
	"arbitration-service/queues"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string) *queues.AllocationRecord {
	return queues.FromAllocation(allocation.Allocation{
		ID:          id,
		ResourceIDs: []string{"/robot/arm"},
		Slot:        interval.Relative(time.Now(), time.Second, time.Second),
		State:       allocation.StateRequested,
	})
}

func startTransport(t *testing.T, ctx context.Context, mr *miniredis.Miniredis, origin string) (*Transport, <-chan *queues.AllocationRecord) {
	t.Helper()
	tr := NewTransport(&goredis.Options{Addr: mr.Addr()}, "/coordination/allocation/", origin)
	t.Cleanup(func() { _ = tr.Close() })
	got := make(chan *queues.AllocationRecord, 8)
	go func() {
		_ = tr.Start(ctx, func(ctx context.Context, rec *queues.AllocationRecord) error {
			got <- rec
			return nil
		})
	}()
	select {
	case <-tr.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("transport never became ready")
	}
	return tr, got
}

func TestTransport_Delivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, serverGot := startTransport(t, ctx, mr, "server")
	client, clientGot := startTransport(t, ctx, mr, "client")
	require.NoError(t, server.Ping(ctx))

	require.NoError(t, client.Publish(ctx, record("req-1")))
	select {
	case rec := <-serverGot:
		assert.Equal(t, "req-1", rec.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive client record")
	}

	require.NoError(t, server.Publish(ctx, record("req-1")))
	select {
	case rec := <-clientGot:
		assert.Equal(t, "req-1", rec.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive server record")
	}

	tests := []struct {
		name string
		ch   <-chan *queues.AllocationRecord
	}{
		{"server skips own echo", serverGot},
		{"client skips own echo", clientGot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			select {
			case rec := <-tt.ch:
				t.Errorf("unexpected echo %#v", rec)
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestTransport_SkipsMalformed(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, got := startTransport(t, ctx, mr, "server")
	mr.Publish("/coordination/allocation/", "not json")
	mr.Publish("/coordination/allocation/", `{"origin":"x"}`)

	peer := NewTransport(&goredis.Options{Addr: mr.Addr()}, "/coordination/allocation/", "peer")
	defer peer.Close()
	require.NoError(t, peer.Publish(ctx, record("valid")))

	select {
	case rec := <-got:
		assert.Equal(t, "valid", rec.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid record not delivered after malformed ones")
	}
}

func TestTransport_PublishUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	tr := NewTransport(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}, "ch", "server")
	defer tr.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, tr.Publish(ctx, record("x")))
	assert.Error(t, tr.Ping(ctx))
}
