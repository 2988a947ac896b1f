// Package transport opens the configured record channel for an endpoint of
// the allocation service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"arbitration-service/config"
	"arbitration-service/queues"
	"arbitration-service/queues/kafka"
	"arbitration-service/queues/memory"
	qpubsub "arbitration-service/queues/pubsub"
	qredis "arbitration-service/queues/redis"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Conn is an endpoint able to publish and receive allocation records.
type Conn struct {
	queues.Publisher
	queues.Subscriber
	closers []io.Closer
}

func (c *Conn) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type options struct {
	bus          *memory.Bus
	subscription string
}

type Option func(*options)

// WithBus attaches memory endpoints to an existing bus.
func WithBus(b *memory.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithSubscription overrides the Pub/Sub subscription; every endpoint needs its own.
func WithSubscription(name string) Option {
	return func(o *options) { o.subscription = name }
}

// Open builds the transport selected by cfg.Transport for the endpoint named origin.
func Open(ctx context.Context, cfg *config.Config, origin string, opts ...Option) (*Conn, error) {
	o := options{subscription: cfg.Subscription}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Transport {
	case config.TransportPubsub:
		if cfg.CredentialsFile != "" {
			log.Info().Str("credsFile", cfg.CredentialsFile).Msg("using explicit Google credentials file")
		} else {
			log.Info().Msg("using default Google credentials (in-cluster or ambient)")
		}
		pub := qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.PubsubTopic, cfg.CredentialsFile, origin)
		sub := qpubsub.NewSubscriber(cfg.GoogleProjectID, o.subscription, cfg.CredentialsFile, origin)
		return &Conn{Publisher: pub, Subscriber: sub, closers: []io.Closer{pub}}, nil

	case config.TransportRedis:
		tr := qredis.NewTransport(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, cfg.Scope, origin)
		if err := tr.Ping(ctx); err != nil {
			_ = tr.Close()
			return nil, err
		}
		return &Conn{Publisher: tr, Subscriber: tr, closers: []io.Closer{tr}}, nil

	case config.TransportKafka:
		tr, err := kafka.NewTransport(kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, Origin: origin})
		if err != nil {
			return nil, err
		}
		return &Conn{Publisher: tr, Subscriber: tr, closers: []io.Closer{tr}}, nil

	case config.TransportMemory:
		if o.bus == nil {
			o.bus = memory.NewBus(memory.DefaultConfig())
		}
		e := o.bus.Endpoint(origin)
		return &Conn{Publisher: e, Subscriber: e}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
