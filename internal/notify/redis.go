package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBroker delivers notices across API instances over Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker connects to redisURL and verifies the connection.
func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisBrokerWithClient(client), nil
}

func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, prefix: "draftdodger:project:"}
}

func (b *RedisBroker) channel(projectID string) string {
	return b.prefix + projectID
}

func (b *RedisBroker) Publish(ctx context.Context, notice Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(notice.ProjectID), payload).Err(); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, projectID string) (<-chan Notice, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(projectID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", projectID, err)
	}

	out := make(chan Notice, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var notice Notice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("notify: drop malformed notice")
					continue
				}
				select {
				case out <- notice:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
