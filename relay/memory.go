// go-relaypair - Relay mediated peer pairing
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package relay

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

// Hub simulates a relay server, short circuiting all publications locally to
// the clients subscribed to a topic.
type Hub struct {
	clients map[*MemoryClient]struct{} // Clients attached to the simulated relay
	lock    sync.RWMutex               // Lock to make sure concurrent access works
}

// NewHub creates a new in-memory relay.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*MemoryClient]struct{}),
	}
}

// Client creates a new relay client attached to the hub.
func (h *Hub) Client() *MemoryClient {
	h.lock.Lock()
	defer h.lock.Unlock()

	client := &MemoryClient{
		hub:    h,
		topics: make(map[string]struct{}),
	}
	h.clients[client] = struct{}{}
	return client
}

// publish sends a message to all clients subscribed to the topic, except the
// originating one.
func (h *Hub) publish(origin *MemoryClient, topic string, message string) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	for client := range h.clients {
		if client == origin || !client.subscribed(topic) {
			continue
		}
		go client.feed.Send(&Message{Topic: topic, Message: message})
	}
}

// MemoryClient is a relay client connected to an in-memory hub.
type MemoryClient struct {
	hub    *Hub
	feed   event.Feed
	topics map[string]struct{}

	closed bool
	lock   sync.RWMutex
}

// Subscribe starts delivering messages published on the topic.
func (c *MemoryClient) Subscribe(ctx context.Context, topic string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.topics[topic] = struct{}{}
	return nil
}

// Unsubscribe stops delivering messages published on the topic.
func (c *MemoryClient) Unsubscribe(ctx context.Context, topic string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return ErrClosed
	}
	delete(c.topics, topic)
	return nil
}

// Publish sends a message to everyone else subscribed to the topic. The hub
// does not keep messages for late subscribers, so the options are ignored.
func (c *MemoryClient) Publish(ctx context.Context, topic string, message string, opts PublishOptions) error {
	c.lock.RLock()
	closed := c.closed
	c.lock.RUnlock()

	if closed {
		return ErrClosed
	}
	c.hub.publish(c, topic, message)
	return nil
}

// SubscribeMessages registers a channel to receive all inbound messages on.
func (c *MemoryClient) SubscribeMessages(ch chan<- *Message) event.Subscription {
	return c.feed.Subscribe(ch)
}

// Close detaches the client from the hub.
func (c *MemoryClient) Close() error {
	c.hub.lock.Lock()
	delete(c.hub.clients, c)
	c.hub.lock.Unlock()

	c.lock.Lock()
	defer c.lock.Unlock()

	c.closed = true
	c.topics = make(map[string]struct{})
	return nil
}

// subscribed returns whether the client is listening on a topic.
func (c *MemoryClient) subscribed(topic string) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	_, ok := c.topics[topic]
	return ok
}
