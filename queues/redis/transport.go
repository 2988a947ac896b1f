package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"arbitration-service/queues"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Transport exchanges allocation records over a Redis Pub/Sub channel. Each
// message is a JSON queues.Envelope naming its sender, so endpoints can drop
// their own echoes. Delivery is at-most-once.
type Transport struct {
	rdb     *goredis.Client
	channel string
	origin  string

	readyOnce sync.Once
	ready     chan struct{}
}

func NewTransport(opts *goredis.Options, channel, origin string) *Transport {
	return &Transport{
		rdb:     goredis.NewClient(opts),
		channel: channel,
		origin:  origin,
		ready:   make(chan struct{}),
	}
}

// Ping verifies connectivity to Redis.
func (t *Transport) Ping(ctx context.Context) error {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	return t.rdb.Close()
}

func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

func (t *Transport) Publish(ctx context.Context, rec *queues.AllocationRecord) error {
	b, err := json.Marshal(queues.Envelope{Origin: t.origin, Record: rec})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := t.rdb.Publish(ctx, t.channel, b).Err(); err != nil {
		log.Error().Err(err).Str("channel", t.channel).Str("allocationId", rec.ID).Msg("failed to publish allocation record")
		return fmt.Errorf("failed to publish to %s: %w", t.channel, err)
	}
	log.Debug().Str("channel", t.channel).Str("allocationId", rec.ID).Str("state", rec.State.String()).Msg("published allocation record")
	return nil
}

// Start subscribes to the channel and hands every foreign record to handler
// until ctx is done. Handler errors are logged; Redis cannot redeliver.
func (t *Transport) Start(ctx context.Context, handler queues.Handler) error {
	sub := t.rdb.Subscribe(ctx, t.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so nothing published after Ready is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", t.channel, err)
	}
	log.Info().Str("channel", t.channel).Msg("redis subscriber initialized")
	t.readyOnce.Do(func() { close(t.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env queues.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Record == nil {
				log.Error().Err(err).Str("channel", t.channel).Msg("failed to unmarshal allocation envelope")
				continue
			}
			if env.Origin == t.origin {
				continue
			}
			if err := handler(queues.WithOrigin(ctx, env.Origin), env.Record); err != nil {
				log.Error().Err(err).Str("allocationId", env.Record.ID).Msg("handler failed; record dropped")
			}
		}
	}
}
