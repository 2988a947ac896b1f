package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"arbitration-service/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
)

type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	origin           string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription

	readyOnce sync.Once
	ready     chan struct{}
}

func NewSubscriber(projectID, subscriptionName, credsFile, origin string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile, origin: origin, ready: make(chan struct{})}
}

func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

func (s *Subscriber) Start(ctx context.Context, handler queues.Handler) error {
	if s.client == nil {
		client, err := newClient(ctx, s.projectID, s.credsFile)
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for subscriber")
			return err
		}
		s.client = client
	}
	if s.sub == nil {
		s.sub = s.client.Subscription(s.subscriptionName)
	}
	ok, err := s.sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("pubsub: subscription " + s.subscriptionName + " does not exist")
	}
	log.Info().Str("subscription", s.subscriptionName).Msg("pubsub subscriber initialized")
	s.readyOnce.Do(func() { close(s.ready) })

	// Receive blocks; it will create goroutines internally; respect ctx cancellation
	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		if m.Attributes[OriginAttribute] == s.origin {
			m.Ack()
			return
		}
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("received pubsub message")
		recvAt := time.Now()
		rec, err := queues.Unmarshal(m.Data)
		if err != nil {
			log.Error().Err(err).Str("messageID", m.ID).Msg("failed to unmarshal allocation record")
			// Ack to drop bad message (poison)
			m.Ack()
			return
		}

		if err := handler(queues.WithOrigin(ctx, m.Attributes[OriginAttribute]), rec); err != nil {
			log.Error().Err(err).Str("allocationId", rec.ID).Msg("handler failed; will retry")
			m.Nack()
			return
		}
		log.Debug().Str("allocationId", rec.ID).Dur("latency", time.Since(recvAt)).Msg("handler succeeded; acking message")
		m.Ack()
	})
}
