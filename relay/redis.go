// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/proxy"
)

// defaultRedisPrefix is the channel namespace used if none is configured.
const defaultRedisPrefix = "relay:"

// RedisConfig can be used to fine tune the setup of a Redis backed relay.
type RedisConfig struct {
	URL    string // Redis connection URL (redis:// or rediss://)
	Proxy  string // Optional SOCKS5 proxy URL to tunnel the connection through
	Prefix string // Channel namespace to isolate relays sharing a server

	Logger log.Logger // Logger to allow injecting pre-networking context
}

// redisEnvelope is the wrapper around a published message, needed to filter
// out the echo of our own publications.
type redisEnvelope struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Tag     int    `json:"tag"`
}

// RedisClient is a relay using Redis pub/sub channels as the rendezvous point.
// Every topic maps onto a single channel. Redis does not retain messages, so
// the delivery TTL is not honored; peers need to be online to receive.
type RedisClient struct {
	client *redis.Client
	pubsub *redis.PubSub
	feed   event.Feed

	sender string // Unique identifier to drop our own echoes with
	prefix string // Namespace prefix of the relay channels

	logger log.Logger
	closed chan struct{}
	wg     sync.WaitGroup
}

// NewRedis connects to a Redis server and starts listening for messages on any
// subsequently subscribed topic.
func NewRedis(ctx context.Context, config RedisConfig) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if config.Proxy != "" {
		dialer, err := proxyDialer(config.Proxy)
		if err != nil {
			return nil, err
		}
		opts.Dialer = dialer
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	r := &RedisClient{
		client: client,
		pubsub: client.Subscribe(ctx),
		sender: uuid.New().String(),
		prefix: config.Prefix,
		logger: config.Logger,
		closed: make(chan struct{}),
	}
	if r.prefix == "" {
		r.prefix = defaultRedisPrefix
	}
	if r.logger == nil {
		r.logger = log.Root()
	}
	r.logger = r.logger.New("relay", "redis", "sender", r.sender)

	r.wg.Add(1)
	go r.loop()

	r.logger.Info("Connected to redis relay", "addr", opts.Addr, "proxied", config.Proxy != "")
	return r, nil
}

// proxyDialer creates a Redis dialer tunneling through the given proxy URL.
func proxyDialer(rawurl string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create proxy dialer: %w", err)
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}, nil
}

// channel converts a topic into a namespaced Redis channel name.
func (r *RedisClient) channel(topic string) string {
	return r.prefix + topic
}

// Subscribe starts delivering messages published on the topic.
func (r *RedisClient) Subscribe(ctx context.Context, topic string) error {
	return r.pubsub.Subscribe(ctx, r.channel(topic))
}

// Unsubscribe stops delivering messages published on the topic.
func (r *RedisClient) Unsubscribe(ctx context.Context, topic string) error {
	return r.pubsub.Unsubscribe(ctx, r.channel(topic))
}

// Publish sends a message to everyone subscribed to the topic.
func (r *RedisClient) Publish(ctx context.Context, topic string, message string, opts PublishOptions) error {
	blob, err := json.Marshal(&redisEnvelope{
		Sender:  r.sender,
		Message: message,
		Tag:     opts.Tag,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(topic), blob).Err()
}

// SubscribeMessages registers a channel to receive all inbound messages on.
func (r *RedisClient) SubscribeMessages(ch chan<- *Message) event.Subscription {
	return r.feed.Subscribe(ch)
}

// Close tears down the pub/sub listener and the Redis connection.
func (r *RedisClient) Close() error {
	close(r.closed)
	err := r.pubsub.Close()
	r.wg.Wait()

	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// loop forwards messages arriving on subscribed channels to the message feed.
func (r *RedisClient) loop() {
	defer r.wg.Done()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.closed:
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !strings.HasPrefix(msg.Channel, r.prefix) {
				r.logger.Warn("Message on foreign channel", "channel", msg.Channel)
				continue
			}
			envelope := new(redisEnvelope)
			if err := json.Unmarshal([]byte(msg.Payload), envelope); err != nil {
				r.logger.Warn("Failed to decode relay envelope", "channel", msg.Channel, "err", err)
				continue
			}
			if envelope.Sender == r.sender {
				continue
			}
			r.feed.Send(&Message{
				Topic:   strings.TrimPrefix(msg.Channel, r.prefix),
				Message: envelope.Message,
			})
		}
	}
}
