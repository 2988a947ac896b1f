package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arbitration-service/queues"

	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

// OriginHeader names the message header carrying the sender's endpoint id.
const OriginHeader = "origin"

// Config contains configurable parameters for the Kafka transport.
type Config struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic carries every allocation record of one allocation service.
	Topic string

	// Origin identifies this endpoint; records it produced are skipped on read.
	Origin string

	// GroupID is the consumer group. Every endpoint must see every record, so
	// it defaults to one group per origin.
	GroupID string

	// WriteTimeout is the per-attempt timeout for Write operations.
	// Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// Transport produces and consumes allocation records on one Kafka topic.
// Records are keyed by allocation id so that all records of one allocation
// land on one partition in commit order.
type Transport struct {
	cfg    Config
	writer *kafkago.Writer

	readyOnce sync.Once
	ready     chan struct{}
}

// NewTransport validates cfg and constructs the writer. The reader is created by Start.
func NewTransport(cfg Config) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.Origin == "" {
		return nil, fmt.Errorf("kafka: origin required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "allocation-" + cfg.Origin
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafkago.RequireOne,
	}
	return &Transport{cfg: cfg, writer: w, ready: make(chan struct{})}, nil
}

func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

func (t *Transport) Publish(ctx context.Context, rec *queues.AllocationRecord) error {
	b, err := queues.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka: marshal record: %w", err)
	}
	msg := kafkago.Message{
		Key:     []byte(rec.ID),
		Value:   b,
		Time:    time.Now().UTC(),
		Headers: []kafkago.Header{{Key: OriginHeader, Value: []byte(t.cfg.Origin)}},
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("topic", t.cfg.Topic).Str("allocationId", rec.ID).Msg("failed to publish allocation record")
		return fmt.Errorf("kafka: write: %w", err)
	}
	log.Debug().Str("topic", t.cfg.Topic).Str("allocationId", rec.ID).Str("state", rec.State.String()).Msg("published allocation record")
	return nil
}

func origin(m kafkago.Message) string {
	for _, h := range m.Headers {
		if h.Key == OriginHeader {
			return string(h.Value)
		}
	}
	return ""
}

// Start consumes records appended after it joined until ctx is done. Offsets
// are committed after the handler returns without error.
func (t *Transport) Start(ctx context.Context, handler queues.Handler) error {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     t.cfg.Brokers,
		Topic:       t.cfg.Topic,
		GroupID:     t.cfg.GroupID,
		StartOffset: kafkago.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
	defer r.Close()

	log.Info().Str("topic", t.cfg.Topic).Str("group", t.cfg.GroupID).Msg("kafka subscriber initialized")
	t.readyOnce.Do(func() { close(t.ready) })

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("kafka: fetch: %w", err)
		}
		if from := origin(m); from != t.cfg.Origin {
			rec, err := queues.Unmarshal(m.Value)
			if err != nil {
				log.Error().Err(err).Int64("offset", m.Offset).Msg("failed to unmarshal allocation record")
			} else if err := handler(queues.WithOrigin(ctx, from), rec); err != nil {
				// Leave the offset uncommitted so the record is seen again after a restart.
				log.Error().Err(err).Str("allocationId", rec.ID).Msg("handler failed; offset not committed")
				continue
			}
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("failed to commit offset")
		}
	}
}

func (t *Transport) Close() error {
	return t.writer.Close()
}
