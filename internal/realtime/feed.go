package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OrdersTopic is the feed channel carrying design-order row changes.
func OrdersTopic(base string) string {
	return base + ":orders"
}

// MessagesTopic is the feed channel carrying message inserts for one order.
func MessagesTopic(base, orderID string) string {
	return base + ":messages:" + orderID
}

// Feed is the change-feed primitive: publish a payload on a topic, or receive
// every payload published on one. Implementations must deliver a copy to each
// subscriber.
type Feed interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error)
}

type redisFeed struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisFeed builds a Feed backed by Redis pub/sub.
func NewRedisFeed(client *redis.Client, logger zerolog.Logger) Feed {
	return &redisFeed{
		client: client,
		logger: logger.With().Str("component", "redis_feed").Logger(),
	}
}

func (f *redisFeed) Publish(ctx context.Context, topic string, payload []byte) error {
	return f.client.Publish(ctx, topic, payload).Err()
}

func (f *redisFeed) Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(subCtx, topic)

	// Force the subscription to be established before returning so callers
	// never miss events published right after Subscribe.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		channel := pubsub.Channel()
		for {
			select {
			case msg, ok := <-channel:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-subCtx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				f.logger.Debug().Err(err).Str("topic", topic).Msg("feed subscription close failed")
			}
		})
	}, nil
}

type natsFeed struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSFeed builds a Feed backed by NATS subjects. Topic separators are
// rewritten because NATS treats ':' as a literal and '.' as a hierarchy.
func NewNATSFeed(conn *nats.Conn, logger zerolog.Logger) Feed {
	return &natsFeed{
		conn:   conn,
		logger: logger.With().Str("component", "nats_feed").Logger(),
	}
}

func (f *natsFeed) Publish(ctx context.Context, topic string, payload []byte) error {
	return f.conn.Publish(natsSubject(topic), payload)
}

func (f *natsFeed) Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error) {
	sub, err := f.conn.Subscribe(natsSubject(topic), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				f.logger.Debug().Err(err).Str("topic", topic).Msg("nats unsubscribe failed")
			}
		})
	}, nil
}

func natsSubject(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}
