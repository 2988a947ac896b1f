package pubsub

import (
	"context"
	"testing"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"
	"arbitration-service/queues"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type args struct {
	rec *queues.AllocationRecord
}

type test struct {
	name    string
	setup   func() *Publisher
	args    args
	wantErr bool
}

func newTestClient(t *testing.T) (*pubsub.Client, func()) {
	t.Helper()
	srv := pstest.NewServer()
	ctx := context.Background()
	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial error: %#v", err)
	}
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("client error: %#v", err)
	}
	return client, func() {
		client.Close()
		conn.Close()
		srv.Close()
	}
}

func record(id string, state allocation.State) *queues.AllocationRecord {
	return queues.FromAllocation(allocation.Allocation{
		ID:          id,
		ResourceIDs: []string{"/robot/arm"},
		Slot:        interval.Relative(time.Now(), time.Second, time.Second),
		Priority:    allocation.PriorityNormal,
		State:       state,
	})
}

func TestPublisher_Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}

	ctx := context.Background()
	client, closeFn := newTestClient(t)
	defer closeFn()

	tests := []test{
		{
			name: "success",
			setup: func() *Publisher {
				topic, err := client.CreateTopic(ctx, "test-topic")
				if err != nil {
					t.Fatalf("create topic: %#v", err)
				}
				// Build publisher with injected client/topic
				return &Publisher{projectID: "test-project", topicName: "test-topic", origin: "server", client: client, topic: topic}
			},
			args:    args{rec: record("a1", allocation.StateScheduled)},
			wantErr: false,
		},
		{
			name: "ordered success",
			setup: func() *Publisher {
				topic, err := client.CreateTopic(ctx, "ordered-topic")
				if err != nil {
					t.Fatalf("create topic: %#v", err)
				}
				topic.EnableMessageOrdering = true
				return &Publisher{projectID: "test-project", topicName: "ordered-topic", origin: "server", client: client, topic: topic}
			},
			args:    args{rec: record("a2", allocation.StateAllocated)},
			wantErr: false,
		},
		{
			name: "missing topic error",
			setup: func() *Publisher {
				// Get handle to non-existent topic
				topic := client.Topic("missing-topic")
				return &Publisher{projectID: "test-project", topicName: "missing-topic", origin: "server", client: client, topic: topic}
			},
			args:    args{rec: record("a3", allocation.StateRejected)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.setup()
			err := p.Publish(ctx, tt.args.rec)
			gotErr := (err != nil)
			if gotErr != tt.wantErr {
				t.Errorf("Publish() error mismatch\ngotErr: %#v\nwantErr: %#v\nerr: %#v", gotErr, tt.wantErr, err)
			}
		})
	}
}
