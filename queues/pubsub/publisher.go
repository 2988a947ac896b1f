package pubsub

import (
	"context"
	"sync"

	"arbitration-service/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// OriginAttribute names the message attribute carrying the sender's endpoint id.
const OriginAttribute = "origin"

type Publisher struct {
	projectID string
	topicName string
	credsFile string
	origin    string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, topicName, credsFile, origin string) *Publisher {
	return &Publisher{projectID: projectID, topicName: topicName, credsFile: credsFile, origin: origin}
}

func newClient(ctx context.Context, projectID, credsFile string) (*gpubsub.Client, error) {
	if credsFile != "" {
		log.Debug().Str("projectID", projectID).Str("credsFile", credsFile).Msg("initializing pubsub client with explicit credentials")
		return gpubsub.NewClient(ctx, projectID, option.WithCredentialsFile(credsFile))
	}
	log.Debug().Str("projectID", projectID).Msg("initializing pubsub client with default credentials")
	return gpubsub.NewClient(ctx, projectID)
}

func (p *Publisher) init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return nil
	}
	if p.client == nil {
		client, err := newClient(ctx, p.projectID, p.credsFile)
		if err != nil {
			log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.topicName).Msg("failed to create pubsub client for publisher")
			return err
		}
		p.client = client
	}
	p.topic = p.client.Topic(p.topicName)
	// Records for one id must arrive in commit order.
	p.topic.EnableMessageOrdering = true
	log.Info().Str("topic", p.topicName).Msg("pubsub publisher initialized")
	return nil
}

func (p *Publisher) Publish(ctx context.Context, rec *queues.AllocationRecord) error {
	if err := p.init(ctx); err != nil {
		return err
	}
	b, err := queues.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("allocationId", rec.ID).Msg("failed to marshal allocation record")
		return err
	}
	// Publish and wait for server ack
	msg := &gpubsub.Message{Data: b, Attributes: map[string]string{OriginAttribute: p.origin}}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = rec.ID
	}
	r := p.topic.Publish(ctx, msg)
	id, err := r.Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		log.Error().Err(err).Str("allocationId", rec.ID).Msg("failed to publish allocation record")
		return err
	}
	log.Debug().Str("messageID", id).Str("allocationId", rec.ID).Str("state", rec.State.String()).Msg("published allocation record")
	return nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
