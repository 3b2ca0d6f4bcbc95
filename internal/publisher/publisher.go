package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
)

const DefaultTopic = "sealed-blocks"

// Publisher announces sealed blocks on a Redis stream.
type Publisher struct {
	pub    message.Publisher
	client redis.UniversalClient
	topic  string
	logger *slog.Logger
}

// Dial connects to redisURL and returns a Publisher writing to topic.
func Dial(ctx context.Context, redisURL, topic string, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	p, err := New(client, topic, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}

func New(client redis.UniversalClient, topic string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return newWithPublisher(pub, client, topic, logger), nil
}

func newWithPublisher(pub message.Publisher, client redis.UniversalClient, topic string, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pub: pub, client: client, topic: topic, logger: logger}
}

func (p *Publisher) Name() string { return "redis-stream" }

// Archive publishes the sealed block as JSON. The block index and hash are
// carried as message metadata so consumers can route without decoding.
func (p *Publisher) Archive(ctx context.Context, block protocol.Block, hash string) error {
	start := time.Now()
	payload, err := protocol.CanonicalJSON(block)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.Index, err)
	}

	msgUUID := watermill.NewUUID()
	msg := message.NewMessage(msgUUID, payload)
	msg.Metadata.Set("block_index", strconv.FormatInt(block.Index, 10))
	msg.Metadata.Set("block_hash", hash)
	msg.SetContext(ctx)

	err = p.pub.Publish(p.topic, msg)
	duration := time.Since(start)
	if err != nil {
		p.logger.Error("redis publish failed",
			"block_index", block.Index,
			"msg_uuid", msgUUID,
			"duration_ms", duration.Milliseconds(),
			"err", err,
		)
		return err
	}
	p.logger.Debug("redis publish ok",
		"block_index", block.Index,
		"msg_uuid", msgUUID,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

func (p *Publisher) Topic() string {
	return p.topic
}

func (p *Publisher) Close() error {
	err := p.pub.Close()
	if p.client != nil {
		if cerr := p.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
