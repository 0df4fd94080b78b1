package bus

import (
	"sync"

	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"
)

// RedisBus implements the Bus interface on top of Redis pub/sub, so that
// several relay processes pointed at the same Redis share their inboxes.
type RedisBus struct {
	client *redis.Client
	logger *logrus.Entry
}

// NewRedisBus connects to Redis and checks the connection with a PING.
func NewRedisBus(opts *redis.Options, logger *logrus.Entry) (*RedisBus, error) {
	client := redis.NewClient(opts)

	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, err
	}

	logger.WithField("addr", opts.Addr).Debug("Connected to Redis")

	return &RedisBus{
		client: client,
		logger: logger,
	}, nil
}

// Client returns the underlying Redis client.
func (b *RedisBus) Client() *redis.Client {
	return b.client
}

// Subscribe implements the Bus interface. Each subscription holds its own
// pub/sub connection, and the SUBSCRIBE is confirmed before returning so that
// PUBSUB NUMSUB counts it immediately.
func (b *RedisBus) Subscribe(channel string, handler Handler) (Subscription, error) {
	ps := b.client.Subscribe(channel)

	if _, err := ps.Receive(); err != nil {
		ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub:  ps,
		channel: channel,
		done:    make(chan struct{}),
	}

	go sub.deliver(handler, b.logger)

	return sub, nil
}

// Publish implements the Bus interface.
func (b *RedisBus) Publish(channel string, payload []byte) error {
	return b.client.Publish(channel, payload).Err()
}

// NumSub implements the Bus interface.
func (b *RedisBus) NumSub(channel string) (int, error) {
	res, err := b.client.PubSubNumSub(channel).Result()
	if err != nil {
		return 0, err
	}
	return int(res[channel]), nil
}

// Close implements the Bus interface.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	channel string
	once    sync.Once
	done    chan struct{}
	err     error
}

func (s *redisSubscription) Channel() string {
	return s.channel
}

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}

// deliver forwards messages until the pub/sub connection is closed, which
// closes the go-redis channel.
func (s *redisSubscription) deliver(handler Handler, logger *logrus.Entry) {
	defer close(s.done)

	for msg := range s.pubsub.Channel() {
		handler(msg.Channel, []byte(msg.Payload))
	}

	logger.WithField("channel", s.channel).Debug("Redis subscription closed")
}
